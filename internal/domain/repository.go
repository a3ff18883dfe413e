package domain

import (
	"context"
	"errors"
)

// Source is the port to the remote notification API.
// Implementations live in infrastructure/restapi.
type Source interface {
	// List fetches one page starting after cursor. An empty cursor requests the first page.
	List(ctx context.Context, cursor string, limit int) (*Page, error)

	// UnreadCount returns the authoritative number of unread notifications.
	UnreadCount(ctx context.Context) (int, error)

	// MarkRead marks the given notifications as read, or all of them when ids is empty.
	MarkRead(ctx context.Context, ids []string) error

	// MarkAllRead marks every notification of the user as read.
	MarkAllRead(ctx context.Context) error

	// Delete removes a single notification.
	Delete(ctx context.Context, id string) error
}

// ErrUnauthorized is reported by Source implementations when the session
// token was rejected.
var ErrUnauthorized = errors.New("unauthorized")
