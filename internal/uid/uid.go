// Package uid encodes and decodes unit identifiers of the form
//
//	UID-{tenant}-{plant}-{type}-{sequence}-{checksum}
//
// The checksum is ISO 7064 MOD 1271-36 computed over the concatenated
// alphanumeric fields, so every single-character substitution is detected.
package uid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/genealogy/pkg/apperror"
)

const (
	Prefix      = "UID"
	MaxSequence = 999999

	alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	modulus  = 1271
	radix    = 36
)

var (
	ErrInvalidTenantCode = apperror.Validation("invalid_tenant_code")
	ErrInvalidPlantCode  = apperror.Validation("invalid_plant_code")
	ErrInvalidEntityType = apperror.Validation("invalid_entity_type")
	ErrInvalidSequence   = apperror.Validation("invalid_sequence")
	ErrMalformedUID      = apperror.Validation("malformed_uid")
	ErrChecksumMismatch  = apperror.Validation("uid_checksum_mismatch")
)

type EntityType string

const (
	EntityTypeRawMaterial  EntityType = "RAW_MATERIAL"
	EntityTypeComponent    EntityType = "COMPONENT"
	EntityTypeSubAssembly  EntityType = "SUB_ASSEMBLY"
	EntityTypeFinishedGood EntityType = "FINISHED_GOOD"
)

var typeCodes = map[EntityType]string{
	EntityTypeRawMaterial:  "RM",
	EntityTypeComponent:    "CMP",
	EntityTypeSubAssembly:  "SA",
	EntityTypeFinishedGood: "FG",
}

var entityTypes = func() map[string]EntityType {
	out := make(map[string]EntityType, len(typeCodes))
	for entityType, code := range typeCodes {
		out[code] = entityType
	}
	return out
}()

// ParseEntityType accepts the entity type name case-insensitively.
func ParseEntityType(value string) (EntityType, error) {
	entityType := EntityType(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := typeCodes[entityType]; !ok {
		return "", ErrInvalidEntityType
	}
	return entityType, nil
}

// Code returns the short code embedded in generated UIDs.
func (t EntityType) Code() (string, bool) {
	code, ok := typeCodes[t]
	return code, ok
}

func (t EntityType) Valid() bool {
	_, ok := typeCodes[t]
	return ok
}

func EntityTypeFromCode(code string) (EntityType, bool) {
	entityType, ok := entityTypes[code]
	return entityType, ok
}

// Parts is the decoded form of a UID.
type Parts struct {
	TenantCode string
	PlantCode  string
	TypeCode   string
	EntityType EntityType
	Sequence   int64
	Checksum   string
}

// Generate builds a UID. Codes are normalised to upper case.
func Generate(tenantCode, plantCode string, entityType EntityType, sequence int64) (string, error) {
	tenantCode = normalizeCode(tenantCode)
	plantCode = normalizeCode(plantCode)
	if !validSiteCode(tenantCode) {
		return "", ErrInvalidTenantCode
	}
	if !validSiteCode(plantCode) {
		return "", ErrInvalidPlantCode
	}
	typeCode, ok := entityType.Code()
	if !ok {
		return "", ErrInvalidEntityType
	}
	if sequence < 1 || sequence > MaxSequence {
		return "", ErrInvalidSequence
	}

	seq := formatSequence(sequence)
	checksum := Checksum(tenantCode + plantCode + typeCode + seq)
	return strings.Join([]string{Prefix, tenantCode, plantCode, typeCode, seq, checksum}, "-"), nil
}

// Parse decodes and verifies value. It never panics.
func Parse(value string) (Parts, error) {
	fields := strings.Split(value, "-")
	if len(fields) != 6 || fields[0] != Prefix {
		return Parts{}, ErrMalformedUID
	}
	tenantCode, plantCode, typeCode, seq, checksum := fields[1], fields[2], fields[3], fields[4], fields[5]

	if !validSiteCode(tenantCode) {
		return Parts{}, fmt.Errorf("%w: tenant code", ErrMalformedUID)
	}
	if !validSiteCode(plantCode) {
		return Parts{}, fmt.Errorf("%w: plant code", ErrMalformedUID)
	}
	entityType, ok := EntityTypeFromCode(typeCode)
	if !ok {
		return Parts{}, fmt.Errorf("%w: type code", ErrMalformedUID)
	}
	if len(seq) != 6 || !allDigits(seq) {
		return Parts{}, fmt.Errorf("%w: sequence", ErrMalformedUID)
	}
	sequence, err := strconv.ParseInt(seq, 10, 64)
	if err != nil || sequence < 1 {
		return Parts{}, fmt.Errorf("%w: sequence", ErrMalformedUID)
	}
	if len(checksum) != 2 || !inAlphabet(checksum) {
		return Parts{}, fmt.Errorf("%w: checksum", ErrMalformedUID)
	}
	if Checksum(tenantCode+plantCode+typeCode+seq) != checksum {
		return Parts{}, ErrChecksumMismatch
	}

	return Parts{
		TenantCode: tenantCode,
		PlantCode:  plantCode,
		TypeCode:   typeCode,
		EntityType: entityType,
		Sequence:   sequence,
		Checksum:   checksum,
	}, nil
}

// Validate reports whether value is a well formed UID with a matching checksum.
func Validate(value string) bool {
	_, err := Parse(value)
	return err == nil
}

// Checksum returns the two check characters for body. body must only
// contain characters of the base-36 alphabet; anything else yields "".
func Checksum(body string) string {
	p := 0
	for i := 0; i < len(body); i++ {
		v := strings.IndexByte(alphabet, body[i])
		if v < 0 {
			return ""
		}
		p = ((p + v) * radix) % modulus
	}
	p = (p * radix) % modulus
	cs := (modulus + 1 - p) % modulus
	return string([]byte{alphabet[cs/radix], alphabet[cs%radix]})
}

func formatSequence(sequence int64) string {
	return fmt.Sprintf("%06d", sequence)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Tenant and plant codes are 2 to 8 upper-case alphanumerics.
func validSiteCode(code string) bool {
	return len(code) >= 2 && len(code) <= 8 && inAlphabet(code)
}

// ValidTenantCode reports whether code can be embedded as a tenant code.
func ValidTenantCode(code string) bool {
	return validSiteCode(normalizeCode(code))
}

// ValidPlantCode reports whether code can be embedded as a plant code.
func ValidPlantCode(code string) bool {
	return validSiteCode(normalizeCode(code))
}

func inAlphabet(s string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
