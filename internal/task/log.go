package task

import "time"

type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Fields map[string]any

type LogEntry struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Fields    Fields    `json:"fields,omitempty"`
}

type LogPage struct {
	Entries []LogEntry `json:"entries"`
	Total   int        `json:"total"`
}
