// Package businessflow contains the core business logic and use cases for the gateway
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Upload validation errors
	ErrImageRequired        = errors.New("image file is required")
	ErrFileEmpty            = errors.New("file is empty")
	ErrFileTooLarge         = errors.New("file size exceeds the configured limit")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrNotAnImage           = errors.New("file content is not a decodable image")

	// Infrastructure errors
	ErrTempStorageFailed = errors.New("temporary storage failed")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func IsImageRequired(err error) bool {
	return errors.Is(err, ErrImageRequired)
}

func IsFileTooLarge(err error) bool {
	return errors.Is(err, ErrFileTooLarge)
}

func IsUnsupportedMediaType(err error) bool {
	return errors.Is(err, ErrUnsupportedMediaType)
}

func IsTempStorageFailed(err error) bool {
	return errors.Is(err, ErrTempStorageFailed)
}
