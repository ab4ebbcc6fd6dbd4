package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/othala/orchd/internal/task"
)

// eventRecord is the JSON-line wire shape for an append-only event.
type eventRecord struct {
	ID      string            `json:"id"`
	TaskID  string            `json:"task_id,omitempty"`
	RepoID  string            `json:"repo_id,omitempty"`
	Kind    string            `json:"kind"`
	At      time.Time         `json:"at"`
	Payload map[string]string `json:"payload,omitempty"`
}

// DefaultEventFilename is the filename events are appended to inside the
// event log directory.
const DefaultEventFilename = "events.jsonl"

// EventLog is an append-only JSON-lines event sink, safe for concurrent use.
type EventLog struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// NewEventLog opens (creating if absent) the events file inside dir.
func NewEventLog(dir string) (*EventLog, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("store: creating event log directory: %w", err)
	}
	path := filepath.Join(dir, DefaultEventFilename)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: opening event log: %w", err)
	}

	return &EventLog{
		path:   path,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Append writes ev to the log and flushes immediately, so every recorded
// event is durable before RecordEvent returns.
func (l *EventLog) Append(ev task.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := eventRecord{
		ID:      ev.ID,
		TaskID:  ev.TaskID,
		RepoID:  ev.RepoID,
		Kind:    ev.Kind.String(),
		At:      ev.At,
		Payload: ev.Payload,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("store: marshaling event: %w", err)
	}
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("store: writing event: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("store: writing event newline: %w", err)
	}
	return l.writer.Flush()
}

// Close flushes and closes the underlying file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.writer.Flush(); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("store: flushing event log before close: %w", err)
	}
	if err := l.file.Close(); err != nil {
		l.file = nil
		return fmt.Errorf("store: closing event log: %w", err)
	}
	l.file = nil
	return nil
}

// Path returns the path to the underlying JSONL file.
func (l *EventLog) Path() string {
	return l.path
}

// ReadAllEvents reads every event from path, in append order, for dump tooling
// and tests.
func ReadAllEvents(path string) ([]task.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: opening event log for read: %w", err)
	}
	defer func() { _ = file.Close() }()

	var events []task.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record eventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("store: parsing event on line %d: %w", lineNum, err)
		}
		kind, err := parseEventKind(record.Kind)
		if err != nil {
			return nil, fmt.Errorf("store: line %d: %w", lineNum, err)
		}
		events = append(events, task.Event{
			ID:      record.ID,
			TaskID:  record.TaskID,
			RepoID:  record.RepoID,
			Kind:    kind,
			At:      record.At,
			Payload: record.Payload,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: reading event log: %w", err)
	}
	return events, nil
}

func parseEventKind(s string) (task.EventKind, error) {
	kinds := []task.EventKind{
		task.EventTaskCreated, task.EventMarkedReady, task.EventRetryScheduled,
		task.EventNeedsHuman, task.EventTaskFailed, task.EventVerifyRun,
		task.EventPipelineStage, task.EventMerged,
	}
	for _, k := range kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}
