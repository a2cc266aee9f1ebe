package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

const (
	maxMetadataKeys  = 64
	maxMetadataBytes = 16 << 10
)

// NormalizeMetadata trims keys and rejects payloads that are not JSON
// objects of bounded size. Nil or empty input yields nil.
func NormalizeMetadata(in map[string]any) (datatypes.JSONMap, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if len(in) > maxMetadataKeys {
		return nil, fmt.Errorf("%w: too many keys", ErrInvalidMetadata)
	}

	out := make(datatypes.JSONMap, len(in))
	for key, value := range in {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%w: empty key", ErrInvalidMetadata)
		}
		out[key] = value
	}

	raw, err := json.Marshal(map[string]any(out))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if len(raw) > maxMetadataBytes {
		return nil, fmt.Errorf("%w: payload too large", ErrInvalidMetadata)
	}
	return out, nil
}
