package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingNilPool(t *testing.T) {
	err := Ping(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, "pool is nil", err.Error())
}

func TestCheckNilPool(t *testing.T) {
	status := Check(context.Background(), nil)

	assert.False(t, status.Healthy)
	require.Error(t, status.Error)
}

func TestWaitForReadyNilPool(t *testing.T) {
	err := WaitForReady(context.Background(), nil, time.Millisecond)
	require.Error(t, err)
}
