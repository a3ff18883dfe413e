// Package testutil provides in-memory fakes of the notification API and push
// sinks for tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"io.eduverse/notifysync/internal/domain"
)

// FakeSource is an in-memory domain.Source holding one user's notifications,
// newest first. Errors can be injected per operation.
type FakeSource struct {
	mu    sync.Mutex
	items []domain.Notification
	calls map[string]int

	ListErr     error
	CountErr    error
	MarkReadErr error
	MarkAllErr  error
	DeleteErr   error

	// OmitMeta makes List answer without pagination metadata.
	OmitMeta bool

	// MarkReadGate, when set, makes MarkRead wait for a receive before answering.
	MarkReadGate chan struct{}

	// ListGate, when set, makes List calls with a cursor (page appends) wait
	// for a receive before answering. First-page requests are not held.
	ListGate chan struct{}
}

// NewFakeSource creates an empty source.
func NewFakeSource() *FakeSource {
	return &FakeSource{calls: make(map[string]int)}
}

// Notification builds an unread fixture with a random id.
func Notification(t domain.NotificationType, msg string) domain.Notification {
	return domain.Notification{
		ID:        uuid.NewString(),
		Type:      t,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	}
}

// Seed appends n unread notifications, oldest last, and returns them in server order.
func (f *FakeSource) Seed(n int) []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		item := Notification(domain.TypeComment, fmt.Sprintf("comment #%d", len(f.items)+1))
		item.CreatedAt = base.Add(-time.Duration(len(f.items)) * time.Minute)
		f.items = append(f.items, item)
	}
	return append([]domain.Notification(nil), f.items...)
}

// Publish adds a notification as the newest one.
func (f *FakeSource) Publish(n domain.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append([]domain.Notification{n}, f.items...)
}

// SetRead flips one item on the server side.
func (f *FakeSource) SetRead(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].IsRead = true
		}
	}
}

// Items returns the server-side list.
func (f *FakeSource) Items() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Notification(nil), f.items...)
}

// Calls returns how many times op was invoked ("list", "unread_count",
// "mark_read", "mark_all_read", "delete").
func (f *FakeSource) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (f *FakeSource) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *FakeSource) record(ctx context.Context, op string) error {
	f.calls[op]++
	return ctx.Err()
}

func (f *FakeSource) unreadLocked() int {
	n := 0
	for _, it := range f.items {
		if !it.IsRead {
			n++
		}
	}
	return n
}

func (f *FakeSource) List(ctx context.Context, cursor string, limit int) (*domain.Page, error) {
	f.mu.Lock()
	gate := f.ListGate
	err := f.record(ctx, "list")
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if gate != nil && cursor != "" {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	start := 0
	if cursor != "" {
		start = len(f.items)
		for i, it := range f.items {
			if it.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.items) {
		end = len(f.items)
	}

	page := &domain.Page{Items: append([]domain.Notification(nil), f.items[start:end]...)}
	if f.OmitMeta {
		return page, nil
	}
	page.HasMore = end < len(f.items)
	if len(page.Items) > 0 {
		page.LastID = page.Items[len(page.Items)-1].ID
	}
	unread := f.unreadLocked()
	page.UnreadCount = &unread
	return page, nil
}

func (f *FakeSource) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "unread_count"); err != nil {
		return 0, err
	}
	if f.CountErr != nil {
		return 0, f.CountErr
	}
	return f.unreadLocked(), nil
}

func (f *FakeSource) MarkRead(ctx context.Context, ids []string) error {
	f.mu.Lock()
	gate := f.MarkReadGate
	err := f.record(ctx, "mark_read")
	f.mu.Unlock()
	if err != nil {
		return err
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MarkReadErr != nil {
		return f.MarkReadErr
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range f.items {
		if len(ids) == 0 || want[f.items[i].ID] {
			f.items[i].IsRead = true
		}
	}
	return nil
}

func (f *FakeSource) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "mark_all_read"); err != nil {
		return err
	}
	if f.MarkAllErr != nil {
		return f.MarkAllErr
	}
	for i := range f.items {
		f.items[i].IsRead = true
	}
	return nil
}

func (f *FakeSource) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "delete"); err != nil {
		return err
	}
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	kept := f.items[:0]
	for _, it := range f.items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	f.items = kept
	return nil
}

// SetErrors replaces the injected errors under the lock.
func (f *FakeSource) SetErrors(apply func(f *FakeSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apply(f)
}
