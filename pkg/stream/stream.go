// Package stream provides a generic change-subscription mechanism over task
// documents. The in-memory Bus is the default backing; the Subscriber
// interface keeps the core decoupled so a polling loop, log-based change
// capture or a message queue can back it instead.
//
// Delivery is at-least-once: a handler may see the same change more than
// once and must be safe to re-run from scratch.
package stream

import (
	"context"
	"strings"
	"sync"

	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
)

// Params holds the path parameters bound by a pattern match,
// e.g. {"projectId": "p1", "taskId": "t1"}.
type Params map[string]string

// Change is one observed mutation of a task document. A nil Before means the
// document was created; a nil After means it was deleted.
type Change struct {
	Path   string
	Before *models.Task
	After  *models.Task
}

// Handler consumes one change. Errors are logged at the bus boundary and
// never propagate to the publisher; a failed handler is retried only by
// re-delivery of the change.
type Handler func(ctx context.Context, before, after *models.Task, params Params) error

// Subscriber registers handlers for a path pattern like
// "projects/{projectId}/tasks/{taskId}".
type Subscriber interface {
	Subscribe(pattern string, h Handler)
}

type subscription struct {
	pattern []string
	handler Handler
}

// Logger is the narrow logging surface the bus needs.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Bus is an in-memory change feed. Subscribers are independent consumers of
// the same stream and never observe each other.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger Logger
}

func NewBus(logger Logger) *Bus {
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(pattern string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{
		pattern: strings.Split(strings.Trim(pattern, "/"), "/"),
		handler: h,
	})
}

// Publish delivers a change to every subscriber whose pattern matches the
// change path. Handler errors are logged and swallowed; the remaining
// subscribers still run.
func (b *Bus) Publish(ctx context.Context, change Change) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	segments := strings.Split(strings.Trim(change.Path, "/"), "/")
	for _, sub := range subs {
		params, ok := match(sub.pattern, segments)
		if !ok {
			continue
		}
		if err := sub.handler(ctx, change.Before, change.After, params); err != nil {
			b.logger.Errorf("Handler for %s failed: %v", change.Path, err)
		}
	}
}

// match binds {name} pattern segments against path segments.
func match(pattern, segments []string) (Params, bool) {
	if len(pattern) != len(segments) {
		return nil, false
	}
	params := Params{}
	for i, p := range pattern {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			params[strings.Trim(p, "{}")] = segments[i]
			continue
		}
		if p != segments[i] {
			return nil, false
		}
	}
	return params, true
}

// TaskPath renders the document path for a task, matching the
// "projects/{projectId}/tasks/{taskId}" pattern.
func TaskPath(projectID, taskID string) string {
	return "projects/" + projectID + "/tasks/" + taskID
}
