package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitLevels(t *testing.T) {
	require.NoError(t, InitProduction("warn"))
	assert.False(t, Log().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Log().Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, InitDevelopment(""))
	assert.True(t, Log().Core().Enabled(zapcore.DebugLevel))
	assert.NotNil(t, S())
	Sync()
}

func TestInitInvalidLevel(t *testing.T) {
	assert.Error(t, InitProduction("loud"))
}
