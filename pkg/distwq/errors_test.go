package distwq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatalClassification(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"duplicate id is recoverable", &DuplicateIDError{TaskID: 1}, false},
		{"out of order is recoverable", &OutOfOrderError{Rank: 1, Expected: 1, Got: 2}, false},
		{"config invalid is recoverable", &ConfigInvalidError{Reason: "bad"}, false},
		{"protocol violation is fatal", &ProtocolViolationError{Reason: "bad tag"}, true},
		{"user failure is fatal", &UserFailureError{TaskID: 1, Cause: errors.New("boom")}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.fatal, IsFatal(c.err))
		})
	}
}

func TestErrorUnwrapMatchesSentinel(t *testing.T) {
	assert.ErrorIs(t, &DuplicateIDError{TaskID: 1}, ErrDuplicateID)
	assert.ErrorIs(t, &OutOfOrderError{}, ErrOutOfOrder)
	assert.ErrorIs(t, &ProtocolViolationError{}, ErrProtocolViolation)
	assert.ErrorIs(t, &ConfigInvalidError{}, ErrConfigInvalid)
}

func TestUserFailureErrorUnwrapsToCause(t *testing.T) {
	cause := errors.New("division by zero")
	err := &UserFailureError{TaskID: 7, Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "task 7 failed")
}
