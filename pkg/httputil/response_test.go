package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskscope/taskscope/pkg/authz"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorMessage(w, http.StatusNotFound, "resource not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "resource not found")
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]int64{"id": 123}

	err := WriteCreated(w, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "123")
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectBody string
	}{
		{
			name:       "validation error",
			err:        fmt.Errorf("%w: name is required", authz.ErrValidation),
			expectCode: http.StatusBadRequest,
			expectBody: "name is required",
		},
		{
			name:       "unauthenticated",
			err:        authz.ErrUnauthenticated,
			expectCode: http.StatusUnauthorized,
			expectBody: "authentication required",
		},
		{
			name:       "forbidden",
			err:        fmt.Errorf("update project: %w", authz.ErrForbidden),
			expectCode: http.StatusForbidden,
			expectBody: "permission denied",
		},
		{
			name:       "not found",
			err:        fmt.Errorf("get task: %w", authz.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectBody: "not found",
		},
		{
			name:       "unknown errors stay generic",
			err:        errors.New("pq: connection refused"),
			expectCode: http.StatusInternalServerError,
			expectBody: "operation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			WriteDomainError(w, tt.err)

			assert.Equal(t, tt.expectCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectBody)
			// Internal details never reach the client.
			assert.NotContains(t, w.Body.String(), "connection refused")
		})
	}
}
