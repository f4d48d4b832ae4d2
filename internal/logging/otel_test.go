package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
	"go.uber.org/zap/zaptest"
)

func TestNewLogger_OTELBridge(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.OTEL = true
	buf := &zaptest.Buffer{}

	l, err := NewLogger(cfg, noop.NewLoggerProvider(), WithSink(buf))
	require.NoError(t, err)
	l.Info(context.Background(), "teed")
	assert.Len(t, buf.Lines(), 1)
}

func TestNewLogger_OTELOnlyWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stderr = false
	cfg.Output.OTEL = true

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}
