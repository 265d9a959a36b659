package model

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err    error
		tag    string
		status int
	}{
		{fmt.Errorf("decode: %w", ErrMalformedInput), "malformed_input", http.StatusBadRequest},
		{fmt.Errorf("%w: %w", ErrUnauthorized, ErrTokenExpired), "token_expired", http.StatusUnauthorized},
		{fmt.Errorf("%w: %w", ErrAuthFailed, ErrInvalidSignature), "auth_failed", http.StatusUnauthorized},
		{ErrInvalidSignature, "invalid_signature", http.StatusUnauthorized},
		{fmt.Errorf("%w: scope mismatch", ErrUnauthorized), "unauthorized", http.StatusUnauthorized},
		{ErrUnknownDeployment, "unknown_deployment", http.StatusNotFound},
		{fmt.Errorf("%w: %w", ErrUpstream, ErrUpstreamTimeout), "upstream_timeout", http.StatusGatewayTimeout},
		{ErrUpstream, "upstream_error", http.StatusBadGateway},
		{errors.New("boom"), "internal", http.StatusInternalServerError},
	}
	for _, c := range cases {
		k := KindOf(c.err)
		if k.Tag != c.tag || k.Status != c.status {
			t.Fatalf("KindOf(%v) = %s/%d, want %s/%d", c.err, k.Tag, k.Status, c.tag, c.status)
		}
	}
}
