package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Channel names the structured log streams: access, security and audit,
// which stages of the request pipeline write to, plus general for everything
// else. All of them share the same ring buffer, file and subscriber fan-out;
// Channel only tags the entry for downstream filtering.
type Channel string

const (
	ChannelAccess   Channel = "access"
	ChannelSecurity Channel = "security"
	ChannelAudit    Channel = "audit"
	ChannelGeneral  Channel = "general"
)

// LogEntry represents a single log record.
type LogEntry struct {
	Timestamp string  `json:"timestamp"`
	Level     string  `json:"level"`
	Channel   Channel `json:"channel"`
	Message   string  `json:"message"`
}

// subscriber pairs a delivery channel with the single Channel it wants to
// receive, or "" to receive every channel — the fan-out a compliance
// integration uses to tail only ChannelAudit without competing for buffer
// space with high-volume ChannelAccess traffic.
type subscriber struct {
	ch     chan LogEntry
	filter Channel
}

var (
	mu          sync.RWMutex
	logEntries  []LogEntry
	maxEntries  = 1000 // Keep last 1000 in memory
	maxFileSize = int64(5 * 1024 * 1024)
	logFilePath string
	logFile     *os.File
	logChan     = make(chan LogEntry, 100)
	done        chan struct{}
	workerDone  chan struct{}
	subscribers = make(map[chan LogEntry]subscriber)
	subsMu      sync.RWMutex

	// Redaction patterns: never let a full secret reach the ring buffer,
	// the file, or a subscriber. Bearer tokens are pre-fingerprinted by
	// callers (Fingerprint below) and SSH passwords are hashed
	// (credstore.HashForLogging) before AddLog is invoked; these patterns
	// catch secrets that slip through verbatim.
	bearerRegex = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._\-]{8,}`)
	apiKeyRegex = regexp.MustCompile(`sk-[a-zA-Z0-9\-]{8,}`)
)

// Init initializes the logging system. maxFileSizeBytes is the §4.8
// operator-configured rotation threshold (config.Config.LogMaxFileSizeBytes);
// a value <= 0 falls back to the 5 MiB default.
func Init(appDir string, maxFileSizeBytes int) error {
	mu.Lock()
	defer mu.Unlock()

	logEntries = nil

	logDir := filepath.Join(appDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFileName := fmt.Sprintf("%s winbuildd.log", time.Now().Format("20060102"))
	logFilePath = filepath.Join(logDir, logFileName)

	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logFile = f

	if maxFileSizeBytes > 0 {
		maxFileSize = int64(maxFileSizeBytes)
	} else {
		maxFileSize = 5 * 1024 * 1024
	}

	done = make(chan struct{})
	workerDone = make(chan struct{})
	go logWorker()

	return nil
}

// redact strips anything resembling a full secret from a message, leaving
// only whatever fingerprint form the caller already substituted in.
func redact(message string) string {
	message = bearerRegex.ReplaceAllString(message, "bearer REDACTED")
	message = apiKeyRegex.ReplaceAllString(message, "sk-REDACTED")
	return message
}

// Fingerprint renders a secret as "first4…last4" (or "too short" below 8
// characters), the only form secrets are allowed to take in a log line.
func Fingerprint(secret string) string {
	if len(secret) < 8 {
		return "too short"
	}
	return fmt.Sprintf("%s…%s", secret[:4], secret[len(secret)-4:])
}

// AddLog adds a new log entry to the general channel.
func AddLog(level, message string) {
	AddLogChannel(ChannelGeneral, level, message)
}

// AddLogChannel adds a new log entry tagged with an explicit channel.
func AddLogChannel(channel Channel, level, message string) {
	message = redact(message)

	entry := LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Channel:   channel,
		Message:   message,
	}

	mu.Lock()
	logEntries = append(logEntries, entry)
	if len(logEntries) > maxEntries {
		logEntries = logEntries[len(logEntries)-maxEntries:]
	}
	mu.Unlock()

	fmt.Printf("[%s] [%s] [%s] %s\n", entry.Timestamp, channel, level, message)

	select {
	case logChan <- entry:
	default:
		// Drop log if channel is full to avoid blocking the request path.
	}

	subsMu.RLock()
	for _, sub := range subscribers {
		if sub.filter != "" && sub.filter != channel {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
		}
	}
	subsMu.RUnlock()
}

// Access logs a request-pipeline stage B entry.
func Access(message string) { AddLogChannel(ChannelAccess, "INFO", message) }

// Security logs a stage D/E/F or validator event.
func Security(message string) { AddLogChannel(ChannelSecurity, "WARN", message) }

// Audit logs a tool invocation and its verdict.
func Audit(message string) { AddLogChannel(ChannelAudit, "INFO", message) }

// Subscribe returns a channel that receives new log entries on the given
// channel; pass "" to receive every channel. A dedicated security/audit
// subscriber can tail compliance-relevant events without being crowded out
// of its buffer by high-volume access-log traffic on a shared stream.
func Subscribe(filter Channel) chan LogEntry {
	subsMu.Lock()
	defer subsMu.Unlock()
	ch := make(chan LogEntry, 100)
	subscribers[ch] = subscriber{ch: ch, filter: filter}
	return ch
}

// Unsubscribe removes a log subscriber.
func Unsubscribe(ch chan LogEntry) {
	subsMu.Lock()
	defer subsMu.Unlock()
	delete(subscribers, ch)
	close(ch)
}

// GetLogs returns the in-memory entries on the given channel; pass "" for
// every channel.
func GetLogs(filter Channel) []LogEntry {
	mu.RLock()
	defer mu.RUnlock()

	if filter == "" {
		res := make([]LogEntry, len(logEntries))
		copy(res, logEntries)
		return res
	}

	var res []LogEntry
	for _, e := range logEntries {
		if e.Channel == filter {
			res = append(res, e)
		}
	}
	return res
}

// ClearLogs wipes both memory and file logs.
func ClearLogs() error {
	mu.Lock()
	defer mu.Unlock()

	logEntries = []LogEntry{}

	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	logFile = f

	return nil
}

// GetLogFilePath returns the path to the log file.
func GetLogFilePath() string {
	mu.RLock()
	defer mu.RUnlock()
	return logFilePath
}

// Close flushes and closes the log file.
func Close() {
	if done != nil {
		close(done)
		if workerDone != nil {
			<-workerDone
		}
	}

	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func logWorker() {
	defer close(workerDone)
	for {
		select {
		case entry := <-logChan:
			writeEntry(entry)
		case <-done:
			for {
				select {
				case entry := <-logChan:
					writeEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func writeEntry(entry LogEntry) {
	mu.Lock()
	defer mu.Unlock()

	f := logFile
	if f == nil {
		return
	}

	if info, err := f.Stat(); err == nil && info.Size() > maxFileSize {
		f.Close()
		f, err = os.OpenFile(logFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			logFile = f
			truncateEntry := LogEntry{
				Timestamp: time.Now().Format(time.RFC3339),
				Level:     "INFO",
				Channel:   ChannelGeneral,
				Message:   fmt.Sprintf("Log file reached %d-byte limit and was truncated.", maxFileSize),
			}
			data, _ := json.Marshal(truncateEntry)
			f.Write(data)
			f.Write([]byte("\n"))
		} else {
			return
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	f.Write(data)
	f.Write([]byte("\n"))
}
