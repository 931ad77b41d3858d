package query_json

// FailureInfo represents a query failure's type and message.
type FailureInfo struct {
	Type    *string `json:"type,omitempty"`
	Message *string `json:"message,omitempty"`
}

// ErrorCode represents an error code with its numeric code, name, and type.
type ErrorCode struct {
	Code      *int    `json:"code,omitempty"`
	Name      *string `json:"name,omitempty"`
	Type      *string `json:"type,omitempty"`
	Retriable *bool   `json:"retriable,omitempty"`
}
