package jobclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnReportsCleanExit(t *testing.T) {
	spec := NewSpec("/bin/sh", []string{"-c", "exit 0"}, nil)
	job, err := Spawn(context.Background(), spec)
	require.NoError(t, err)
	defer job.Release()

	require.Eventually(t, job.Done, time.Second, 5*time.Millisecond)

	code, ok := job.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 0, code)
	assert.Equal(t, StatusOK, job.StatusValue())
}

func TestSpawnReportsNonZeroExit(t *testing.T) {
	spec := NewSpec("/bin/sh", []string{"-c", "exit 247"}, nil)
	job, err := Spawn(context.Background(), spec)
	require.NoError(t, err)
	defer job.Release()

	require.Eventually(t, job.Done, time.Second, 5*time.Millisecond)

	code, ok := job.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 247, code)
	assert.Equal(t, StatusError, job.StatusValue())
}

func TestCancelKillsRunningChild(t *testing.T) {
	spec := NewSpec("/bin/sh", []string{"-c", "sleep 30"}, nil)
	job, err := Spawn(context.Background(), spec)
	require.NoError(t, err)
	defer job.Release()

	require.True(t, job.IsAlive())
	require.NoError(t, job.Cancel())

	require.Eventually(t, job.Done, time.Second, 5*time.Millisecond)
	code, ok := job.ExitCode()
	require.True(t, ok)
	assert.NotEqual(t, 0, code)
}

func TestWaitSpawnAliveObservesRunningChild(t *testing.T) {
	spec := NewSpec("/bin/sh", []string{"-c", "sleep 1"}, nil)
	job, err := Spawn(context.Background(), spec)
	require.NoError(t, err)
	defer job.Release()

	assert.True(t, WaitSpawnAlive(job, time.Second))
}

func TestClassifyExitCode(t *testing.T) {
	assert.Equal(t, ExitBlockedByDeletion, ClassifyExitCode(248))
	assert.Equal(t, ExitUndefined, ClassifyExitCode(42))
}
