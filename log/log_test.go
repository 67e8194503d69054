package log

import (
	"testing"
)

func TestStdLogger(t *testing.T) {
	logger := NewStdLogger(InfoLevel)
	defer logger.Shutdown()
	for i := 1; i < 100; i++ {
		logger.Info("%d %s %d", 1111, "hello", i)
	}
}

func TestStdLoggerLevel(t *testing.T) {
	logger := NewStdLogger(WarnLevel)
	defer logger.Shutdown()
	logger.Debug("dropped %d", 1)
	logger.Info("dropped %d", 2)
	logger.Warn("kept %d", 3)
	logger.Error("kept %d", 4)
}

func BenchmarkStdLogger(b *testing.B) {
	logger := NewStdLogger(InfoLevel)
	defer logger.Shutdown()
	for i := 0; i < b.N; i++ {
		logger.Info("%d %s %d", 1111, "hello", i)
	}
}
