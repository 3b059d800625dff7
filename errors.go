package ddnsrelay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMalformedRequest = errors.New("malformed request")
	ErrMissingFields    = errors.New("missing required fields")
	ErrInvalidType      = errors.New("invalid record type")
	ErrAddressMismatch  = errors.New("ip address does not match record type")
	ErrInvalidTTL       = errors.New("invalid ttl")
	ErrInvalidName      = errors.New("invalid record name")
	ErrZoneNotFound     = errors.New("zone not found")
)

// ProviderMessage is one entry of a provider's error list, passed through unmodified.
type ProviderMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ProviderError is returned when a provider call fails,
// either because the provider rejected it or because the transport failed.
type ProviderError struct {
	Op       string
	Messages []ProviderMessage
	Err      error
}

func (e *ProviderError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	var msgs []string
	for _, m := range e.Messages {
		msgs = append(msgs, fmt.Sprintf("%s (%d)", m.Message, m.Code))
	}
	return fmt.Sprintf("%s: %s", e.Op, strings.Join(msgs, "; "))
}

func (e *ProviderError) Unwrap() error { return e.Err }

// statusFor maps an error returned by Relay.Update to the HTTP status reported to the client.
func statusFor(err error) int {
	var pe *ProviderError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrZoneNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMalformedRequest),
		errors.Is(err, ErrMissingFields),
		errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrAddressMismatch),
		errors.Is(err, ErrInvalidTTL),
		errors.Is(err, ErrInvalidName):
		return http.StatusBadRequest
	case errors.As(err, &pe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// reason is a short stable label for an error, used in metrics.
func reason(err error) string {
	var pe *ProviderError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed_request"
	case errors.Is(err, ErrMissingFields):
		return "missing_fields"
	case errors.Is(err, ErrInvalidType):
		return "invalid_type"
	case errors.Is(err, ErrAddressMismatch):
		return "address_mismatch"
	case errors.Is(err, ErrInvalidTTL):
		return "invalid_ttl"
	case errors.Is(err, ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, ErrZoneNotFound):
		return "zone_not_found"
	case errors.As(err, &pe):
		return "provider_rejected"
	default:
		return "internal"
	}
}
