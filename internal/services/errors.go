package services

import (
	"errors"
	"net/http"
)

type ErrorCode string

const (
	ErrorUpstreamRejected ErrorCode = "upstream_rejected"
)

// UpstreamRejectedMessage is the only text a client sees when the image service refuses a prompt.
const UpstreamRejectedMessage = "⚠️ Your prompt couldn’t be processed. Please use a more detailed and appropriate description without vague or restricted content."

// ServiceError carries a user-safe message. Status is set for upstream rejections and mirrors the upstream HTTP status.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Status  int
}

func (e *ServiceError) Error() string { return e.Message }

func NewUpstreamRejectedError(status int) error {
	if status < 400 || status > 599 {
		status = http.StatusBadGateway
	}
	return &ServiceError{Code: ErrorUpstreamRejected, Message: UpstreamRejectedMessage, Status: status}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
