package logging

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type Logger struct {
	w   io.Writer
	min Level
	mu  sync.Mutex
}

func NewJSONLogger(w io.Writer, min Level) *Logger {
	return &Logger{w: w, min: min}
}

func (l *Logger) Debug(fields map[string]any) { l.write(LevelDebug, "debug", fields) }
func (l *Logger) Info(fields map[string]any)  { l.write(LevelInfo, "info", fields) }
func (l *Logger) Warn(fields map[string]any)  { l.write(LevelWarn, "warn", fields) }
func (l *Logger) Error(fields map[string]any) { l.write(LevelError, "error", fields) }

func (l *Logger) write(lvl Level, name string, fields map[string]any) {
	if lvl < l.min {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["level"] = name
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	b, err := json.Marshal(fields)
	if err != nil {
		// Last resort: drop structured fields.
		b = []byte(`{"level":"error","ts":"` + time.Now().UTC().Format(time.RFC3339Nano) + `","msg":"failed to marshal log"}`)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(append(b, '\n'))
}
