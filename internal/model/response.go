package model

import "net/http"

// Code is the result code carried by every API response
type Code int

const (
	CodeSuccess             Code = 0
	CodeBadRequest          Code = 40001
	CodeInvalidDateFormat   Code = 40002
	CodeUnauthorized        Code = 40101
	CodeNotFound            Code = 40401
	CodeTooManyRequests     Code = 42901
	CodeInternalServerError Code = 50001
	CodeDatabaseError       Code = 50002
)

// HTTPStatus returns the HTTP status a response with this code is sent with
func (c Code) HTTPStatus() int {
	switch c {
	case CodeSuccess:
		return http.StatusOK
	case CodeBadRequest, CodeInvalidDateFormat:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the default human readable text for the code
func (c Code) Message() string {
	switch c {
	case CodeSuccess:
		return "Success"
	case CodeBadRequest:
		return "Bad request"
	case CodeInvalidDateFormat:
		return "Invalid date format"
	case CodeUnauthorized:
		return "Unauthorized"
	case CodeNotFound:
		return "Resource not found"
	case CodeTooManyRequests:
		return "Too many requests"
	case CodeInternalServerError:
		return "Internal server error"
	case CodeDatabaseError:
		return "Database error"
	default:
		return "Unknown error"
	}
}

// APIResponse wraps a payload with a status code and message. Data is null when no payload applies.
type APIResponse[T any] struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

// Success creates a successful response carrying data
func Success[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    CodeSuccess,
		Message: CodeSuccess.Message(),
		Data:    &data,
	}
}

// Failure creates an error response with the code's default message
func Failure[T any](code Code) APIResponse[T] {
	return FailureWithMessage[T](code, code.Message())
}

// FailureWithMessage creates an error response with a custom message
func FailureWithMessage[T any](code Code, message string) APIResponse[T] {
	return APIResponse[T]{
		Code:    code,
		Message: message,
	}
}

// OK reports whether the response signals success
func (r APIResponse[T]) OK() bool {
	return r.Code == CodeSuccess
}
