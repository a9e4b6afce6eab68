/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrBadRequest         ErrorCode = "BAD_REQUEST"
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrInternalServer     ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrAlreadyLocked      ErrorCode = "ALREADY_LOCKED"
	ErrAlreadyReconciled  ErrorCode = "ALREADY_RECONCILED"
	ErrInsufficientFunds  ErrorCode = "INSUFFICIENT_FUNDS"
	ErrAmountMismatch     ErrorCode = "AMOUNT_MISMATCH"
	ErrExpired            ErrorCode = "EXPIRED"
	ErrMaxRetriesExceeded ErrorCode = "MAX_RETRIES_EXCEEDED"
	ErrNoMatch            ErrorCode = "NO_MATCH"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target carries the same code, so errors.Is works against
// bare values such as APIError{Code: ErrNoMatch}.
func (e APIError) Is(target error) bool {
	t, ok := target.(APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Is reports whether err (or anything it wraps) is an APIError with the given code.
func Is(err error, code ErrorCode) bool {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsTransient reports whether the failure should be retried later rather than surfaced.
func IsTransient(err error) bool {
	return Is(err, ErrAlreadyLocked) || Is(err, ErrConflict) || Is(err, ErrInsufficientFunds)
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict, ErrAlreadyLocked, ErrAlreadyReconciled:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest, ErrAmountMismatch, ErrNoMatch:
			return http.StatusBadRequest
		case ErrExpired:
			return http.StatusGone
		case ErrInsufficientFunds:
			return http.StatusPaymentRequired
		case ErrMaxRetriesExceeded, ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
