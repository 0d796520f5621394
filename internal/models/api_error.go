package models

import "fmt"

// ErrorCode is a string type for consistent error codes.
type ErrorCode string

const (
	ErrorCodeInternalServerError ErrorCode = "internal_server_error"
	ErrorCodeNotFound            ErrorCode = "not_found"
	ErrorCodeUnauthorized        ErrorCode = "unauthorized"

	// Ingestion
	ErrorCodeNoJSONData    ErrorCode = "no_json_data"
	ErrorCodeInvalidFormat ErrorCode = "invalid_format"
)

// APIError is rendered to clients as {"error": Message}. Code is kept for
// logs only so the wire body stays what device clients expect.
type APIError struct {
	Code       ErrorCode `json:"-"`
	Message    string    `json:"error"`
	StatusCode int       `json:"-"`
}

// Error makes APIError implement the error interface.
func (e APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewAPIError is a constructor for APIError.
func NewAPIError(code ErrorCode, message string, statusCode int) APIError {
	return APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}
