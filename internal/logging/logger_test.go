package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_LevelFallback(t *testing.T) {
	l, err := New("not-a-level")
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zapcore.InfoLevel))
	require.False(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("DEBUG")
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestFromContext(t *testing.T) {
	fallback := zap.NewExample()
	require.Same(t, fallback, FromContext(context.Background(), fallback))

	scoped := zap.NewExample().With(zap.String("request_id", "r1"))
	ctx := WithLogger(context.Background(), scoped)
	require.Same(t, scoped, FromContext(ctx, fallback))

	require.NotNil(t, FromContext(context.Background(), nil))
}
