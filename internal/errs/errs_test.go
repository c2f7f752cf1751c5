package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	assert.Equal(t, "none", Kind(nil))
	assert.Equal(t, "data_unavailable", Kind(fmt.Errorf("price BTC: %w", ErrDataUnavailable)))
	assert.Equal(t, "execution_failed", Kind(fmt.Errorf("buy: %w", ErrExecutionFailed)))
	assert.Equal(t, "validation", Kind(fmt.Errorf("qty: %w", ErrValidation)))
	assert.Equal(t, "invariant_violation", Kind(fmt.Errorf("dup: %w", ErrInvariantViolation)))
	assert.Equal(t, "internal", Kind(errors.New("boom")))
}
