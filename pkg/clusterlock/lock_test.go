package clusterlock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandaloneAlwaysLeader(t *testing.T) {
	l := Standalone()
	assert.True(t, l.IsLeader())
	assert.Equal(t, "", l.LeaderAddr())
	require.NoError(t, l.Shutdown())
}

func TestWithLeadershipRunsFnWhenLeader(t *testing.T) {
	l := Standalone()
	ran, err := l.WithLeadership(func() error { return nil })
	assert.True(t, ran)
	assert.NoError(t, err)
}

func TestWithLeadershipPropagatesFnError(t *testing.T) {
	l := Standalone()
	boom := errors.New("boom")
	ran, err := l.WithLeadership(func() error { return boom })
	assert.True(t, ran)
	assert.Equal(t, boom, err)
}
