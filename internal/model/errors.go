package model

import (
	"errors"
	"net/http"
)

var (
	ErrMalformedInput     = errors.New("malformed input")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenExpired       = errors.New("token expired")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnknownDeployment  = errors.New("unknown deployment")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrUpstream           = errors.New("upstream error")
	ErrUpstreamTimeout    = errors.New("upstream timeout")
)

type ErrorKind struct {
	Err    error
	Tag    string
	Status int
}

// errorKinds is matched in order. Token errors are wrapped in ErrUnauthorized
// and must report their own tag, while anything wrapped in ErrAuthFailed
// reports auth_failed.
var errorKinds = []ErrorKind{
	{ErrMalformedInput, "malformed_input", http.StatusBadRequest},
	{ErrAuthFailed, "auth_failed", http.StatusUnauthorized},
	{ErrInvalidSignature, "invalid_signature", http.StatusUnauthorized},
	{ErrTokenExpired, "token_expired", http.StatusUnauthorized},
	{ErrTokenInvalid, "token_invalid", http.StatusUnauthorized},
	{ErrUnauthorized, "unauthorized", http.StatusUnauthorized},
	{ErrUnknownDeployment, "unknown_deployment", http.StatusNotFound},
	{ErrServiceUnavailable, "service_unavailable", http.StatusServiceUnavailable},
	{ErrUpstreamTimeout, "upstream_timeout", http.StatusGatewayTimeout},
	{ErrUpstream, "upstream_error", http.StatusBadGateway},
}

var internalKind = ErrorKind{Tag: "internal", Status: http.StatusInternalServerError}

func KindOf(err error) ErrorKind {
	for _, k := range errorKinds {
		if errors.Is(err, k.Err) {
			return k
		}
	}
	return internalKind
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
