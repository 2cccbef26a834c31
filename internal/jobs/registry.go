package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/quartzlabs/mailpilot/internal/models"
)

// HandlerFunc processes one claimed job. A nil return completes the job; a
// Fatal-wrapped error fails it immediately; any other error schedules a
// retry until attempts are exhausted.
type HandlerFunc func(ctx context.Context, job *models.Job) error

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register installs a handler for the given job type. Registering the same
// type twice is a programming error.
func (r *Registry) Register(jobType string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		panic(fmt.Sprintf("jobs: handler already registered for type %q", jobType))
	}
	r.handlers[jobType] = handler
}

// Handler returns the handler for jobType, or nil when none is registered.
func (r *Registry) Handler(jobType string) HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}
