package util

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema reflects a JSON schema from a Go value with every definition
// expanded inline, so the result is a single self-contained object suitable
// for a structured-output "format" field.
func Schema(v any) (json.RawMessage, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	s := reflector.Reflect(v)
	// the draft marker and id are noise for the server
	s.Version = ""
	s.ID = ""

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
