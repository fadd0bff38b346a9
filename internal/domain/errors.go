package domain

import (
	"fmt"
	"strings"
)

// ConfigurationError is fatal at startup: the process must not start serving.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return "configuration error: " + e.Problems[0]
	}
	return "configuration errors:\n  - " + strings.Join(e.Problems, "\n  - ")
}

// ParseError marks a structurally invalid inbound payload.
type ParseError struct {
	Channel Channel
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid payload: %s: %v", e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: invalid payload: %s", e.Channel, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProviderError is any failed generation call: transport error, timeout,
// non-2xx status or a body that could not be understood.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " %d", e.StatusCode)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if e.Body != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Body)
	}
	return sb.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DeliveryError is a failed outbound send to a channel.
type DeliveryError struct {
	Channel    Channel
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery failed (%d): %v", e.Channel, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// SignatureError is an inbound request whose authenticity check failed.
type SignatureError struct {
	Channel Channel
	Reason  string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s: signature rejected: %s", e.Channel, e.Reason)
}
