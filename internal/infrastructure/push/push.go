// Package push holds the simple Pusher implementations: a log sink and a
// fan-out over several sinks.
package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"io.eduverse/notifysync/internal/application"
	"io.eduverse/notifysync/internal/domain"
)

// Log writes every push to the global logger.
type Log struct{}

func (Log) Push(_ context.Context, p domain.Push) error {
	log.Info().
		Str("tag", p.Tag).
		Str("type", string(p.Type)).
		Str("title", p.Title).
		Str("body", p.Body).
		Msg("push notification")
	return nil
}

func (Log) Dismiss(_ context.Context, tag string) error {
	log.Debug().Str("tag", tag).Msg("push notification dismissed")
	return nil
}

// Sink is a named Pusher.
type Sink struct {
	Name string
	application.Pusher
}

// Multi delivers to every sink in order. A failing sink does not stop the
// others; all failures are returned together.
type Multi []Sink

func (m Multi) Push(ctx context.Context, p domain.Push) error {
	var errs []error
	for _, s := range m {
		if err := s.Push(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Dismiss(ctx context.Context, tag string) error {
	var errs []error
	for _, s := range m {
		if err := s.Dismiss(ctx, tag); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Names lists the sink names, for logging.
func (m Multi) Names() []string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name
	}
	return names
}
