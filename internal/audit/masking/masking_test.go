package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskMetadataRedactsSensitiveKeysOnly(t *testing.T) {
	out := MaskMetadata(map[string]any{
		"token":    "d2VsbC1mb3JtZWQtdG9rZW4tdmFsdWU",
		"location": "Dock 4",
		"nested": map[string]any{
			"verification_email": "inspector@plant.example",
			"count":              3,
		},
		"": "dropped",
	})

	assert.Equal(t, "****sdWU", out["token"])
	assert.Equal(t, "Dock 4", out["location"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "i****@plant.example", nested["verification_email"])
	assert.Equal(t, 3, nested["count"])
	assert.NotContains(t, out, "")
}

func TestMaskSecretShortValues(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "****wxyz", MaskSecret("abcdefghwxyz"))
	assert.Equal(t, "****", MaskEmail("nobody"))
}

func TestMaskMetadataEmpty(t *testing.T) {
	assert.Nil(t, MaskMetadata(nil))
	assert.Nil(t, MaskMetadata(map[string]any{" ": 1}))
}
