package postgresql

import (
	"encoding/json"
	"fmt"
)

// marshalJSONB encodes a value for a JSONB column, mapping nil to SQL NULL.
func marshalJSONB(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb value: %w", err)
	}

	return data, nil
}

// unmarshalJSONB decodes a JSONB column into out, leaving out untouched when
// the column was NULL.
func unmarshalJSONB(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb value: %w", err)
	}

	return nil
}
