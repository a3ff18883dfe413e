package testutil

import (
	"context"
	"sync"

	"io.eduverse/notifysync/internal/domain"
)

// RecordingPusher remembers every push and dismiss it receives.
type RecordingPusher struct {
	mu        sync.Mutex
	pushes    []domain.Push
	dismissed []string
	Err       error
}

func (r *RecordingPusher) Push(_ context.Context, p domain.Push) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, p)
	return r.Err
}

func (r *RecordingPusher) Dismiss(_ context.Context, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissed = append(r.dismissed, tag)
	return nil
}

// Pushes returns the pushes seen so far.
func (r *RecordingPusher) Pushes() []domain.Push {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Push(nil), r.pushes...)
}

// Dismissed returns the dismissed tags seen so far.
func (r *RecordingPusher) Dismissed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dismissed...)
}
