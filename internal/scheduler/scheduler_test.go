package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDailyAcceptsClockTimes(t *testing.T) {
	s := New(zap.NewNop())

	require.NoError(t, s.Daily("12:00", "scrape", func() {}))
	require.NoError(t, s.Daily("23:30", "backup", func() {}))
	require.NoError(t, s.Daily("00:00", "midnight", func() {}))
}

func TestDailyRejectsBadTimes(t *testing.T) {
	s := New(zap.NewNop())

	assert.Error(t, s.Daily("25:00", "scrape", func() {}))
	assert.Error(t, s.Daily("noon", "scrape", func() {}))
	assert.Error(t, s.Daily("", "scrape", func() {}))
}

func TestStartStop(t *testing.T) {
	s := New(zap.NewNop())
	require.NoError(t, s.Daily("12:00", "scrape", func() {}))

	s.Start()
	ctx := s.Stop()
	<-ctx.Done()
}
