package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/smallbiznis/genealogy/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSecrets(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/public/deployments/:token"),
		attribute.String("public_token", "abc"),
		attribute.String("verification_email", "x@example.com"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorUsesClassifiedCode(t *testing.T) {
	sentinel := apperror.NotFound("uid_not_found")
	err := SafeError(fmt.Errorf("load UID-AB-CD: %w", sentinel))
	assert.EqualError(t, err, "uid_not_found")

	assert.EqualError(t, SafeError(errors.New("pq: password=secret")), "pq")
	assert.Nil(t, SafeError(nil))
}
