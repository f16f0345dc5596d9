package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Build flag for debug mode - can be overridden at build time
// go build -ldflags "-X github.com/keelframe/keel/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// MCPMode tracks if we're serving MCP over stdio (set by the bridge).
// Debug output to stdio would corrupt the protocol stream, so it is
// suppressed unless redirected to a file.
var MCPMode = false

// debugOutput is the writer for debug output (nil means no output)
var debugOutput io.Writer

// debugFile holds the open file handle if debug output goes to a file
var debugFile *os.File

// debugMutex protects access to debug output
var debugMutex sync.Mutex

// SetMCPMode enables MCP mode which suppresses debug output to stdio.
func SetMCPMode(enabled bool) {
	MCPMode = enabled
}

// SetDebugOutput sets a custom writer for debug output.
// Pass nil to disable debug output entirely.
func SetDebugOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitDebugLogFile initializes debug logging to a timestamped file under
// the OS temp directory. Returns the path to the log file.
// Call CloseDebugLog when done.
func InitDebugLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "keel-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T150405")
	logPath := filepath.Join(logDir, fmt.Sprintf("debug-%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return logPath, nil
}

// CloseDebugLog closes the debug log file if one is open.
func CloseDebugLog() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile != nil {
		err := debugFile.Close()
		debugFile = nil
		debugOutput = nil
		return err
	}
	return nil
}

func enabled() bool {
	return EnableDebug == "true" || os.Getenv("KEEL_DEBUG") != ""
}

func logf(prefix, format string, args ...any) {
	if !enabled() {
		return
	}

	debugMutex.Lock()
	defer debugMutex.Unlock()

	w := debugOutput
	if w == nil {
		if MCPMode {
			return // never write to stdio while serving the protocol
		}
		w = os.Stderr
	}
	fmt.Fprintf(w, "[%s] %s %s", prefix, time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}

// LogWorkspace logs workspace cache lifecycle events.
func LogWorkspace(format string, args ...any) {
	logf("workspace", format, args...)
}

// LogFreshness logs document freshness decisions.
func LogFreshness(format string, args ...any) {
	logf("freshness", format, args...)
}

// LogShape logs response shaping and reduction decisions.
func LogShape(format string, args ...any) {
	logf("shape", format, args...)
}

// LogResource logs resource store activity.
func LogResource(format string, args ...any) {
	logf("resource", format, args...)
}

// LogWatch logs file watcher activity.
func LogWatch(format string, args ...any) {
	logf("watch", format, args...)
}
