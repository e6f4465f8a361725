// Package logginglevel holds the single zap.AtomicLevel shared between the
// root command's --debug flag and the logger it builds.
package logginglevel

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level starts at Info; the root command raises it to Debug when --debug
// is passed.
var Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
