package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_MatchesInvalidInput(t *testing.T) {
	err := Wrap(NewValidationError("tx_hash", "missing", ""), "normalize")

	assert.True(t, Is(err, ErrInvalidInput))
	assert.True(t, IsValidation(err))
	assert.False(t, IsValidation(ErrInvalidInput))
}

func TestReplayExhaustedError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("rpc down")
	err := &ReplayExhaustedError{StartBlock: 10, EndBlock: 20, Attempts: 3, LastErr: cause}

	assert.True(t, Is(err, ErrReplayExhausted))
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "10-20")
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestMark(t *testing.T) {
	base := fmt.Errorf("connection reset")

	marked := Mark(base, ErrPersistence)
	assert.True(t, Is(marked, ErrPersistence))
	assert.True(t, Is(marked, base))

	// marking twice keeps a single sentinel
	assert.Equal(t, marked, Mark(marked, ErrPersistence))
	assert.Nil(t, Mark(nil, ErrPersistence))
}

func TestMultiError(t *testing.T) {
	var m MultiError
	assert.Nil(t, m.ToError())

	m.Add(nil)
	m.Add(ErrNotificationDelivery)
	m.Add(ErrTimeout)

	err := m.ToError()
	assert.Error(t, err)
	assert.True(t, Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "multiple errors (2)")
}
