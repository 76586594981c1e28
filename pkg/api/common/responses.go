package common

// ErrorResponse is the error body returned by every HTTP endpoint
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Service string                 `json:"service,omitempty"` // Which service generated the error
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse represents a plain acknowledgement
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationErrorResponse represents a validation error with field-specific details
type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"` // field_name -> error_message
}

// NewError builds an ErrorResponse tagged with the service name.
func NewError(code, service, message string) ErrorResponse {
	return ErrorResponse{Error: code, Service: service, Message: message}
}
