package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLog is a file-backed append-only Log: one newline-delimited JSON file
// per workflow under baseDir, opened in append mode so a crash mid-write
// loses at most the final partial line.
type FileLog struct {
	mu      sync.Mutex
	baseDir string
}

// Compile-time check that FileLog implements Log.
var _ Log = (*FileLog)(nil)

// NewFileLog creates baseDir if needed.
func NewFileLog(baseDir string) (*FileLog, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create base dir: %w", err)
	}
	return &FileLog{baseDir: baseDir}, nil
}

type fileRecord struct {
	TimestampUnixNano int64          `json:"ts"`
	WorkflowID        string         `json:"workflow_id"`
	TaskID            string         `json:"task_id"`
	Type              Type           `json:"type"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func (l *FileLog) pathFor(workflowID string) string {
	return filepath.Join(l.baseDir, workflowID+".jsonl")
}

func (l *FileLog) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.pathFor(rec.WorkflowID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open %q: %w", rec.WorkflowID, err)
	}
	defer f.Close()

	line, err := json.Marshal(fileRecord{
		TimestampUnixNano: rec.Timestamp.UnixNano(),
		WorkflowID:        rec.WorkflowID,
		TaskID:            rec.TaskID,
		Type:              rec.Type,
		Metadata:          rec.Metadata,
	})
	if err != nil {
		return fmt.Errorf("eventlog: marshal record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("eventlog: append %q: %w", rec.WorkflowID, err)
	}
	return nil
}

func (l *FileLog) Read(ctx context.Context, workflowID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.pathFor(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: open %q: %w", workflowID, err)
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var fr fileRecord
		if err := json.Unmarshal(scanner.Bytes(), &fr); err != nil {
			return nil, fmt.Errorf("eventlog: parse line: %w", err)
		}
		out = append(out, recordFromFile(fr))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func recordFromFile(fr fileRecord) Record {
	return Record{
		WorkflowID: fr.WorkflowID,
		TaskID:     fr.TaskID,
		Type:       fr.Type,
		Metadata:   fr.Metadata,
		Timestamp:  time.Unix(0, fr.TimestampUnixNano).UTC(),
	}
}
