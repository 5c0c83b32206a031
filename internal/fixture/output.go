package fixture

import (
	"go.uber.org/zap"
)

// Output receives human-readable session diagnostics. *testing.T satisfies
// it.
type Output interface {
	Logf(format string, args ...any)
}

// OutputFunc adapts a printf-style function to Output.
type OutputFunc func(format string, args ...any)

func (f OutputFunc) Logf(format string, args ...any) { f(format, args...) }

// LogOutput writes diagnostics to logger at info level.
func LogOutput(logger *zap.Logger) Output {
	return OutputFunc(logger.Sugar().Infof)
}

var discard = OutputFunc(func(string, ...any) {})
