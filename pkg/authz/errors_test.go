package authz

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDenyError(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
		action   Action
		want     error
	}{
		{"allowed yields nil", allow(), ActionUpdate, nil},
		{"read denial masks as not found", deny(true), ActionRead, ErrNotFound},
		{"invisible write denial masks as not found", deny(false), ActionDelete, ErrNotFound},
		{"visible write denial is forbidden", deny(true), ActionUpdate, ErrForbidden},
		{"visible create denial is forbidden", deny(true), ActionCreate, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DenyError(tt.decision, tt.action))
		})
	}
}

func TestErrorPredicatesMatchWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("project 7: %w", ErrNotFound)
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsForbidden(wrapped))

	assert.True(t, IsForbidden(fmt.Errorf("task 3: %w", ErrForbidden)))
	assert.True(t, IsUnauthenticated(fmt.Errorf("login: %w", ErrUnauthenticated)))
	assert.True(t, IsValidation(fmt.Errorf("name: %w", ErrValidation)))
}
