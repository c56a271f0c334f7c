package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/MarkPhamm/consumer-complaint-pipeline/config"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()

	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "run", "migrate", "resolve"}, names)

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("mode"))
}

func TestNewZapLogger(t *testing.T) {
	logger, err := newZapLogger(&config.Config{AppName: "complaints", Version: "test", LogLevel: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = newZapLogger(&config.Config{LogLevel: "loud"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestModeOverride(t *testing.T) {
	assert.Nil(t, modeOverride(""))

	cfg := &config.Config{PipelineMode: models.PipelineModeStaged}
	modeOverride("direct")(cfg)
	assert.Equal(t, models.PipelineModeDirect, cfg.PipelineMode)
}
