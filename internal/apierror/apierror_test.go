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

package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/soonaverse/settle/internal/apierror"
	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	details := "Some internal error details"
	apiErr := apierror.NewAPIError(apierror.ErrInternalServer, "Something went wrong", details)

	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	assert.Equal(t, "Something went wrong", apiErr.Message)
	assert.Equal(t, details, apiErr.Details)
	assert.Equal(t, "INTERNAL_SERVER_ERROR: Something went wrong", apiErr.Error())
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("acquire: %w", apierror.NewAPIError(apierror.ErrAlreadyLocked, "address is locked", nil))

	assert.True(t, apierror.Is(err, apierror.ErrAlreadyLocked))
	assert.False(t, apierror.Is(err, apierror.ErrNoMatch))
	assert.True(t, errors.Is(err, apierror.APIError{Code: apierror.ErrAlreadyLocked}))
	assert.False(t, apierror.Is(errors.New("plain"), apierror.ErrAlreadyLocked))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, apierror.IsTransient(apierror.NewAPIError(apierror.ErrAlreadyLocked, "locked", nil)))
	assert.True(t, apierror.IsTransient(apierror.NewAPIError(apierror.ErrConflict, "conflict", nil)))
	assert.False(t, apierror.IsTransient(apierror.NewAPIError(apierror.ErrExpired, "expired", nil)))
	assert.False(t, apierror.IsTransient(apierror.NewAPIError(apierror.ErrMaxRetriesExceeded, "abandoned", nil)))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "NotFound Error",
			err:      apierror.NewAPIError(apierror.ErrNotFound, "Resource not found", nil),
			expected: http.StatusNotFound,
		},
		{
			name:     "Already locked",
			err:      apierror.NewAPIError(apierror.ErrAlreadyLocked, "locked", nil),
			expected: http.StatusConflict,
		},
		{
			name:     "Already reconciled",
			err:      apierror.NewAPIError(apierror.ErrAlreadyReconciled, "reconciled", nil),
			expected: http.StatusConflict,
		},
		{
			name:     "Invalid input",
			err:      apierror.NewAPIError(apierror.ErrInvalidInput, "bad", nil),
			expected: http.StatusBadRequest,
		},
		{
			name:     "Expired",
			err:      apierror.NewAPIError(apierror.ErrExpired, "expired", nil),
			expected: http.StatusGone,
		},
		{
			name:     "Wrapped insufficient funds",
			err:      fmt.Errorf("spend: %w", apierror.NewAPIError(apierror.ErrInsufficientFunds, "low", nil)),
			expected: http.StatusPaymentRequired,
		},
		{
			name:     "Non-API Error",
			err:      errors.New("some random error"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, apierror.MapErrorToHTTPStatus(tt.err))
		})
	}
}
