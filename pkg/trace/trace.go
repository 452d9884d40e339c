package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// EventType tags a trace event. Readers must tolerate unknown types.
type EventType string

const (
	RunStart        EventType = "run_start"
	RunEnd          EventType = "run_end"
	IterationStart  EventType = "iteration_start"
	IterationEnd    EventType = "iteration_end"
	GenerationStart EventType = "generation_start"
	GenerationEnd   EventType = "generation_end"
	TestingStart    EventType = "testing_start"
	TestingEnd      EventType = "testing_end"
	EvaluationStart EventType = "evaluation_start"
	EvaluationEnd   EventType = "evaluation_end"
	ScreenshotTaken EventType = "screenshot_taken"
	Info            EventType = "info"
	Warning         EventType = "warning"
	Error           EventType = "error"
)

// Level is the severity of a trace event.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one line of trace.jsonl.
type Event struct {
	EventID   int64                  `json:"event_id"`
	Timestamp string                 `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Trace is an append-only line-delimited JSON event log with monotonic
// event IDs. Writes are serialized; it is safe for concurrent use.
type Trace struct {
	mu     sync.Mutex
	file   *os.File
	nextID int64
	path   string
}

// New opens (or creates) the trace file at path for appending.
func New(path string) (*Trace, error) {
	//nolint:gosec // G304: path is controller-owned, derived from the run layout
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return &Trace{file: f, nextID: 1, path: path}, nil
}

// Path returns the trace file location.
func (t *Trace) Path() string { return t.path }

// Emit appends one event and returns its id.
func (t *Trace) Emit(eventType EventType, level Level, message string, data map[string]interface{}) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev := Event{
		EventID:   t.nextID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		Level:     level,
		Message:   message,
		Data:      data,
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("marshal trace event: %w", err)
	}
	if _, err := t.file.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("write trace event: %w", err)
	}
	t.nextID++
	return ev.EventID, nil
}

// InfoEvent is a convenience wrapper for info-level events.
func (t *Trace) InfoEvent(eventType EventType, message string, data map[string]interface{}) {
	_, _ = t.Emit(eventType, LevelInfo, message, data)
}

// WarningEvent records a warning.
func (t *Trace) WarningEvent(message string, data map[string]interface{}) {
	_, _ = t.Emit(Warning, LevelWarning, message, data)
}

// ErrorEvent records an error.
func (t *Trace) ErrorEvent(message string, data map[string]interface{}) {
	_, _ = t.Emit(Error, LevelError, message, data)
}

// Close flushes and closes the underlying file.
func (t *Trace) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// ReadEvents reconstructs the event stream by line-scanning the trace
// file. Unknown fields and event types are tolerated; unparseable
// lines are skipped.
func ReadEvents(path string) ([]Event, error) {
	//nolint:gosec // G304: path is controller-owned
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan trace file: %w", err)
	}
	return events, nil
}

// Summary aggregates a trace stream.
type Summary struct {
	TotalEvents  int               `json:"total_events"`
	CountsByType map[EventType]int `json:"counts_by_type"`
	Errors       []Event           `json:"errors"`
}

// Summarize aggregates counts by type and extracts error events.
func Summarize(events []Event) Summary {
	s := Summary{CountsByType: make(map[EventType]int)}
	for _, ev := range events {
		s.TotalEvents++
		s.CountsByType[ev.EventType]++
		if ev.Level == LevelError {
			s.Errors = append(s.Errors, ev)
		}
	}
	return s
}
