package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetAndNamed(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))

	Named("expiry_sweeper").Info("jobs.expiry_sweeper.started")
	S().Infow("negotiation.rfq_created", "rfq_id", "r1")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "expiry_sweeper", entries[0].LoggerName)
	assert.Equal(t, "r1", entries[1].ContextMap()["rfq_id"])
}

func TestInitProduction(t *testing.T) {
	assert.NotPanics(t, func() { Init("negotiation-service", "prod", "warn") })
	assert.False(t, L().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, L().Core().Enabled(zapcore.WarnLevel))
	Sync()
}
