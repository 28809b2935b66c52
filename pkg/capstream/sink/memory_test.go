package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/capstream/pkg/capstream/envelope"
)

func TestMemory_StoresAndSkipsRedelivery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("mem")

	require.NoError(t, m.Write(ctx, admitted(1, 3)))
	require.NoError(t, m.Write(ctx, admitted(2, 5)))

	assert.Equal(t, seqs(1, 5), ids(m.Events()))
	total, failed := m.Writes()
	assert.Equal(t, 2, total)
	assert.Zero(t, failed)
}

func TestMemory_Fail(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("broker unavailable")
	m := NewMemory("flaky")
	m.Fail = func(n int, _ []envelope.Envelope) error {
		if n%2 == 0 {
			return boom
		}
		return nil
	}

	require.NoError(t, m.Write(ctx, admitted(1, 1)))
	assert.ErrorIs(t, m.Write(ctx, admitted(2, 2)), boom)
	require.NoError(t, m.Write(ctx, admitted(2, 2)))

	assert.Equal(t, seqs(1, 2), ids(m.Events()))
	total, failed := m.Writes()
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, failed)
}

func TestMemory_SetHealth(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("mem")
	m.SetHealth(HealthDegraded)
	assert.Equal(t, HealthDegraded, m.HealthCheck(ctx))
	m.SetHealth(HealthOK)
	assert.Equal(t, HealthOK, m.HealthCheck(ctx))
}

func TestMemory_Close(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("mem")
	assert.Equal(t, HealthOK, m.HealthCheck(ctx))

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	assert.Equal(t, HealthDegraded, m.HealthCheck(ctx))
	assert.ErrorIs(t, m.Write(ctx, admitted(1, 1)), ErrClosed)
}
