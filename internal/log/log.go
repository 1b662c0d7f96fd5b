// Package log provides the orchestrator's process-wide logging. It follows
// the same shape across every component: package-level *log.Logger values
// writing to a single file, a DEBUG env var gate, and helpers for rate
// limiting and credential redaction in log lines that may carry URLs (repo
// remotes, LLM provider endpoints).
package log

import (
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	WarningLog *log.Logger
	InfoLog    *log.Logger
	ErrorLog   *log.Logger
	DebugLog   *log.Logger
)

var debugEnabled = os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"

var logFileName = filepath.Join(os.TempDir(), "miyabi-orchestrator.log")

var globalLogFile *os.File

// Initialize should be called once at process start; defer Close()
// afterward. daemon prefixes every line with [DAEMON] to distinguish
// unattended (cron-scheduled) sprint runs from interactive CLI invocations.
func Initialize(daemon bool) {
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		setLoggers(os.Stderr, daemon)
		fmt.Fprintf(os.Stderr, "Warning: using stderr for logging: %v\n", err)
		return
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	setLoggers(f, daemon)
	globalLogFile = f
}

func setLoggers(w io.Writer, daemon bool) {
	fmtS := "%s"
	if daemon {
		fmtS = "[DAEMON] %s"
	}
	InfoLog = log.New(w, fmt.Sprintf(fmtS, "INFO:"), log.Ldate|log.Ltime|log.Lshortfile)
	WarningLog = log.New(w, fmt.Sprintf(fmtS, "WARNING:"), log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(w, fmt.Sprintf(fmtS, "ERROR:"), log.Ldate|log.Ltime|log.Lshortfile)
	if debugEnabled {
		DebugLog = log.New(w, fmt.Sprintf(fmtS, "DEBUG:"), log.Ldate|log.Ltime|log.Lshortfile)
	} else {
		DebugLog = log.New(io.Discard, "", 0)
	}
}

// Close flushes and closes the log file opened by Initialize.
func Close() {
	if globalLogFile == nil {
		return
	}
	_ = globalLogFile.Close()
	fmt.Println("wrote logs to " + logFileName)
}

// Every logs at most once every timeout duration; used by hot loops such as
// the resource monitor and the DAG executor's completion-await loop to
// avoid flooding the log file.
type Every struct {
	timeout time.Duration
	timer   *time.Timer
}

func NewEvery(timeout time.Duration) *Every {
	return &Every{timeout: timeout}
}

// ShouldLog returns true if the timeout has passed since the last log.
func (e *Every) ShouldLog() bool {
	if e.timer == nil {
		e.timer = time.NewTimer(e.timeout)
		e.timer.Reset(e.timeout)
		return true
	}

	select {
	case <-e.timer.C:
		e.timer.Reset(e.timeout)
		return true
	default:
		return false
	}
}

// IsDebugEnabled returns true if debug logging is enabled.
func IsDebugEnabled() bool {
	return debugEnabled
}

// SanitizeURL removes credentials from a URL string for safe logging.
func SanitizeURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "[INVALID_URL]"
	}

	if u.User != nil {
		_, hasPassword := u.User.Password()
		if hasPassword {
			u.User = url.UserPassword("***", "***")
		} else {
			u.User = url.User("***")
		}
	}

	return u.String()
}

// SanitizeURLs redacts credentials from every URL-shaped token in message.
// Useful for log lines that echo a tracker or LLM provider endpoint.
func SanitizeURLs(message string) string {
	words := strings.Fields(message)
	for i, word := range words {
		if strings.Contains(word, "://") {
			words[i] = SanitizeURL(word)
		}
	}
	return strings.Join(words, " ")
}
