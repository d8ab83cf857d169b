package ivp

import (
	"fmt"
	"io"
	"strings"
)

// Logger accumulates integrator warnings (step-beneath-roundoff and
// inactive root functions) and writes them to Output
// when an Evolve call returns. A nil Output discards warnings.
type Logger struct {
	Output io.Writer
	buff   strings.Builder
}

// Logf formats a message into the logger buffer.
func (log *Logger) Logf(format string, a ...interface{}) {
	if log.Output == nil {
		return
	}
	log.buff.WriteString(fmt.Sprintf(format, a...))
}

func (log *Logger) flush() {
	if log.Output == nil || log.buff.Len() == 0 {
		return
	}
	log.Output.Write([]byte(log.buff.String()))
	log.buff.Reset()
}
