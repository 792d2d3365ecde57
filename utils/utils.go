// Package utils provides utility functions for the application.
package utils

func ToPtr[T any](v T) *T {
	return &v
}

// ContextKey is the type for request-scoped context values.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	UserAgentKey ContextKey = "user_agent"
	IPAddressKey ContextKey = "ip_address"
	EndpointKey  ContextKey = "endpoint"
)
