package librealtime

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// testLogger implements Logger over an io.Writer and keeps every emitted line so tests
// can assert on diagnostics.
type testLogger struct {
	sink   *testLogSink
	fields map[string]any
}

type testLogSink struct {
	mu     sync.Mutex
	writer io.Writer
	lines  []string
}

func newTestLogger(writer io.Writer) *testLogger {
	return &testLogger{
		sink:   &testLogSink{writer: writer},
		fields: make(map[string]any),
	}
}

func (l *testLogger) WithField(key string, value any) Logger {
	newLogger := &testLogger{
		sink:   l.sink,
		fields: make(map[string]any, len(l.fields)+1),
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	newLogger.fields[key] = value
	return newLogger
}

// count returns how many recorded lines of the given level contain substr.
func (l *testLogger) count(level, substr string) int {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	n := 0
	for _, line := range l.sink.lines {
		if strings.HasPrefix(line, level+" ") && strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func (l *testLogger) formatFields() string {
	if len(l.fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, l.fields[k]))
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

func (l *testLogger) log(level, msg string) {
	line := fmt.Sprintf("%s %s%s", level, strings.TrimSuffix(msg, "\n"), l.formatFields())

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	l.sink.lines = append(l.sink.lines, line)
	if l.sink.writer != nil {
		fmt.Fprintf(l.sink.writer, "[%s] %s\n", time.Now().Format("15:04:05.000"), line)
	}
}

func (l *testLogger) Debug(args ...any) { l.log("DEBUG", fmt.Sprint(args...)) }

func (l *testLogger) Debugf(format string, args ...any) { l.log("DEBUG", fmt.Sprintf(format, args...)) }

func (l *testLogger) Debugln(args ...any) { l.log("DEBUG", fmt.Sprintln(args...)) }

func (l *testLogger) Info(args ...any) { l.log("INFO", fmt.Sprint(args...)) }

func (l *testLogger) Infof(format string, args ...any) { l.log("INFO", fmt.Sprintf(format, args...)) }

func (l *testLogger) Infoln(args ...any) { l.log("INFO", fmt.Sprintln(args...)) }

func (l *testLogger) Warn(args ...any) { l.log("WARN", fmt.Sprint(args...)) }

func (l *testLogger) Warnf(format string, args ...any) { l.log("WARN", fmt.Sprintf(format, args...)) }

func (l *testLogger) Warnln(args ...any) { l.log("WARN", fmt.Sprintln(args...)) }

func (l *testLogger) Error(args ...any) { l.log("ERROR", fmt.Sprint(args...)) }

func (l *testLogger) Errorf(format string, args ...any) { l.log("ERROR", fmt.Sprintf(format, args...)) }

func (l *testLogger) Errorln(args ...any) { l.log("ERROR", fmt.Sprintln(args...)) }
