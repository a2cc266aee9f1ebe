package uid

import (
	"errors"
	"testing"

	"github.com/smallbiznis/genealogy/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRoundTrip(t *testing.T) {
	cases := []struct {
		tenant, plant string
		entityType    EntityType
		seq           int64
	}{
		{"SAIF", "KOL", EntityTypeRawMaterial, 1},
		{"saif", "kol", EntityTypeRawMaterial, 2},
		{"AB", "P1", EntityTypeComponent, 999999},
		{"TENANT01", "PLANT002", EntityTypeSubAssembly, 4242},
		{"X9", "Z9", EntityTypeFinishedGood, 10},
	}

	for _, tc := range cases {
		value, err := Generate(tc.tenant, tc.plant, tc.entityType, tc.seq)
		require.NoError(t, err)
		require.True(t, Validate(value), value)

		parts, err := Parse(value)
		require.NoError(t, err)
		assert.Equal(t, tc.entityType, parts.EntityType)
		assert.Equal(t, tc.seq, parts.Sequence)
	}
}

func TestGenerateFormat(t *testing.T) {
	value, err := Generate("SAIF", "KOL", EntityTypeRawMaterial, 1)
	require.NoError(t, err)
	assert.Regexp(t, `^UID-SAIF-KOL-RM-000001-[0-9A-Z]{2}$`, value)

	again, err := Generate("SAIF", "KOL", EntityTypeRawMaterial, 1)
	require.NoError(t, err)
	assert.Equal(t, value, again)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	_, err := Generate("S", "KOL", EntityTypeRawMaterial, 1)
	assert.ErrorIs(t, err, ErrInvalidTenantCode)

	_, err = Generate("SAIF", "KOL-1", EntityTypeRawMaterial, 1)
	assert.ErrorIs(t, err, ErrInvalidPlantCode)

	_, err = Generate("SAIF", "KOL", EntityType("PALLET"), 1)
	assert.ErrorIs(t, err, ErrInvalidEntityType)

	_, err = Generate("SAIF", "KOL", EntityTypeRawMaterial, 0)
	assert.ErrorIs(t, err, ErrInvalidSequence)

	_, err = Generate("SAIF", "KOL", EntityTypeRawMaterial, MaxSequence+1)
	assert.ErrorIs(t, err, ErrInvalidSequence)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestEverySingleCharacterMutationIsRejected(t *testing.T) {
	values := []string{}
	for _, seq := range []int64{1, 2, 77, 123456} {
		value, err := Generate("SAIF", "KOL", EntityTypeRawMaterial, seq)
		require.NoError(t, err)
		values = append(values, value)
	}
	value, err := Generate("AC", "P1", EntityTypeComponent, 31)
	require.NoError(t, err)
	values = append(values, value)

	candidates := alphabet + "-abz_ "
	for _, original := range values {
		for i := 0; i < len(original); i++ {
			for j := 0; j < len(candidates); j++ {
				if candidates[j] == original[i] {
					continue
				}
				mutated := []byte(original)
				mutated[i] = candidates[j]
				assert.False(t, Validate(string(mutated)), "mutation %q of %q accepted", mutated, original)
			}
		}
	}
}

func TestValidateFailsClosed(t *testing.T) {
	for _, input := range []string{
		"",
		"UID",
		"UID-----",
		"UID-SAIF-KOL-RM-1-00",
		"UID-SAIF-KOL-RM-0000001-00",
		"UID-SAIF-KOL-XX-000001-00",
		"uid-SAIF-KOL-RM-000001-00",
		"UID-SAIF-KOL-RM-000000-00",
		"UID-SAIF-KOL-RM-000001-0",
		"UID-SAIF-KOL-RM-000001-00-00",
		"UID-SAIF-KOL-RM-00000\xff-00",
	} {
		assert.False(t, Validate(input), input)
	}
}

func TestParseReportsChecksumMismatch(t *testing.T) {
	value, err := Generate("SAIF", "KOL", EntityTypeFinishedGood, 5)
	require.NoError(t, err)

	last := value[len(value)-1]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	tampered := value[:len(value)-1] + string(replacement)

	_, err = Parse(tampered)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))
}

func TestEntityTypeCodes(t *testing.T) {
	for entityType, code := range map[EntityType]string{
		EntityTypeRawMaterial:  "RM",
		EntityTypeComponent:    "CMP",
		EntityTypeSubAssembly:  "SA",
		EntityTypeFinishedGood: "FG",
	} {
		got, ok := entityType.Code()
		require.True(t, ok)
		assert.Equal(t, code, got)

		back, ok := EntityTypeFromCode(code)
		require.True(t, ok)
		assert.Equal(t, entityType, back)
	}

	parsed, err := ParseEntityType(" finished_good ")
	require.NoError(t, err)
	assert.Equal(t, EntityTypeFinishedGood, parsed)
}
