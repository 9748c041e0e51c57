package logging

import (
	"os"

	"go.uber.org/zap/zapcore"
)

func stdoutSyncer() zapcore.WriteSyncer {
	return zapcore.AddSync(os.Stdout)
}
