package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewflow/internal/domain"
)

var fast = Policy{InitialInterval: time.Millisecond, MaxElapsed: 50 * time.Millisecond}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, "store", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsDomainErrorsImmediately(t *testing.T) {
	calls := 0
	want := domain.NoReviewersSelectedError{}
	err := Do(context.Background(), fast, "store", func() error {
		calls++
		return want
	})
	assert.Equal(t, want, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustionIsUnavailable(t *testing.T) {
	err := Do(context.Background(), fast, "directory", func() error {
		return errors.New("database is locked")
	})
	var unavailable domain.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "directory", unavailable.Op)
}
