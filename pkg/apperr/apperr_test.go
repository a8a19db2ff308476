package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil error is OK", nil, OK},
		{"typed error returns its code", New(WrongPassword, "bad password"), WrongPassword},
		{"wrapped typed error returns its code", Wrap(KeyUnavailable, "no recipient key", errors.New("lookup failed")), KeyUnavailable},
		{"plain error maps to Internal", errors.New("boom"), Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	err := Wrap(Database, "write failed", errors.New("disk full"))
	assert.True(t, Is(err, Database))
	assert.False(t, Is(err, Network))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Database, "write failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}
