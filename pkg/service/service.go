package service

import (
	"context"

	"github.com/AdarshaAdi5379/TaskZen/pkg/stream"
)

// Logger defines the logging interface for the core services.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Publisher is the outbound half of the change feed; task writers publish
// the mutations that the engine and dispatcher consume.
type Publisher interface {
	Publish(ctx context.Context, change stream.Change)
}

// TaskPattern is the change-feed pattern both the consistency engine and the
// webhook dispatcher subscribe to. They are independent consumers of the
// same stream and never call each other.
const TaskPattern = "projects/{projectId}/tasks/{taskId}"
