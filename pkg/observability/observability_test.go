package observability

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	// Inert provider: record methods are no-ops and Shutdown is clean.
	p.RecordRequest(context.Background())
	p.RecordError(context.Background(), assert.AnError)
	p.RecordDuration(context.Background(), time.Millisecond)
	assert.NoError(t, p.Shutdown(context.Background()))

	ctx, span := p.StartSpan(context.Background(), "noop")
	assert.NotNil(t, ctx)
	span.End()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "dealkernel", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
}

func TestNewLogger_Levels(t *testing.T) {
	for _, level := range []string{"DEBUG", "info", "WARN", "error", "bogus", ""} {
		log := NewLogger(level)
		require.NotNil(t, log)
	}
	assert.True(t, NewLogger("DEBUG").Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewLogger("ERROR").Enabled(context.Background(), slog.LevelInfo))
}
