//go:build debug

package pool

import (
	"fmt"
	"log"
	"os"
)

var debugLogger = log.New(os.Stderr, "[GOLOKY DEBUG] ", log.Ltime|log.Lmicroseconds|log.Lshortfile)

// debugLog traces the dispatcher when built with -tags debug.
func debugLog(format string, args ...any) {
	_ = debugLogger.Output(2, fmt.Sprintf(format, args...))
}
