package provider

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"llmorch/internal/domain"
)

// ValidateJSONOutput checks that a json_mode completion's content parses as
// JSON and, when the caller supplied a schema, that it conforms to it.
// Grounded on the teacher's internal/responses.SchemaValidator.Validate
// (parse, then gojsonschema.Validate against the caller-supplied schema).
func ValidateJSONOutput(content string, schema map[string]any) error {
	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.NewError(domain.ErrInvalidRequestError, "json_mode response is not valid JSON: "+err.Error())
	}
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewStringLoader(content))
	if err != nil {
		return domain.NewError(domain.ErrInvalidRequestError, "schema validation failed: "+err.Error())
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return domain.NewError(domain.ErrInvalidRequestError, "json_mode response does not match schema: "+strings.Join(msgs, "; "))
	}
	return nil
}
