package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same reason", Conflict("state %d", 1400), ErrConflict, true},
		{"wrapped", fmt.Errorf("notify: %w", NotFound("negotiation %s", "n1")), ErrNotFound, true},
		{"other reason", BadRequest("role"), ErrConflict, false},
		{"plain error", errors.New("boom"), ErrUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, ReasonUnauthorized, ReasonOf(fmt.Errorf("x: %w", Unauthorized("bad token"))))
	assert.Equal(t, Reason(""), ReasonOf(errors.New("raw")))
	assert.Equal(t, "NOT_FOUND: negotiation n1", NotFound("negotiation %s", "n1").Error())
}
