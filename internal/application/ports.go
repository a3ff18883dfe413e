package application

import (
	"context"

	"io.eduverse/notifysync/internal/domain"
)

// Pusher shows and withdraws OS-level notifications.
// Implementations: transport/http.Hub, kafka.Producer, infrastructure/push.Log.
type Pusher interface {
	// Push shows one notification. The push tag lets the sink coalesce duplicates.
	Push(ctx context.Context, p domain.Push) error

	// Dismiss withdraws a previously shown push.
	Dismiss(ctx context.Context, tag string) error
}

// Observer receives a snapshot after every state change. It is called
// synchronously and must not block or call back into the SyncClient.
type Observer func(Snapshot)
