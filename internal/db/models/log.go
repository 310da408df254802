package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LogKind classifies a single log record emitted by a runner.
type LogKind string

// Log kind constants
const (
	// LogKindInfo is a neutral progress message
	LogKindInfo LogKind = "info"
	// LogKindWarning is a non-fatal problem
	LogKindWarning LogKind = "warning"
	// LogKindError is a fatal or toolchain-reported error
	LogKindError LogKind = "error"
	// LogKindSuccess marks a completed step
	LogKindSuccess LogKind = "success"
	// LogKindDebug is verbose diagnostic output
	LogKindDebug LogKind = "debug"
)

// LogRecord is one entry of a job's log stream.
type LogRecord struct {
	Kind      LogKind   `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLogRecord builds a log record stamped with the current time.
func NewLogRecord(kind LogKind, message string) LogRecord {
	return LogRecord{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// LogTail is the bounded tail of a job's log stream persisted on the job row.
// The full stream only exists on the bus at event time.
type LogTail []LogRecord

// Value implements driver.Valuer so the tail is stored as jsonb.
func (t LogTail) Value() (driver.Value, error) {
	if t == nil {
		t = LogTail{}
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner for reading the jsonb tail.
func (t *LogTail) Scan(value interface{}) error {
	if value == nil {
		*t = LogTail{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("unsupported log tail column type %T", value)
	}
}

// Truncate returns the last max records of the tail.
func (t LogTail) Truncate(max int) LogTail {
	if max <= 0 || len(t) <= max {
		return t
	}
	return t[len(t)-max:]
}
