package tracing

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/genealogy/pkg/apperror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// ExtractContext reads upstream trace context from carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

var forbiddenAttributeKeys = map[attribute.Key]struct{}{
	"token":              {},
	"public_token":       {},
	"verification_email": {},
	"email":              {},
	"price":              {},
}

// SafeAttributes drops attributes that could carry secrets or personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	safe := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, forbidden := forbiddenAttributeKeys[attr.Key]; forbidden {
			continue
		}
		safe = append(safe, attr)
	}
	return safe
}

// SafeError reduces err to its classified code so raw driver messages and
// request values do not reach span events.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	if code := apperror.CodeOf(err); code != "" {
		return errors.New(code)
	}
	msg := strings.TrimSpace(err.Error())
	if idx := strings.Index(msg, ":"); idx > 0 {
		msg = msg[:idx]
	}
	if msg == "" {
		msg = "internal_error"
	}
	return errors.New(msg)
}
