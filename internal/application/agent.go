package application

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Session is the authenticated-session flag the agent follows.
// Implemented by session.Manager.
type Session interface {
	Authenticated() bool
	// Watch delivers the flag after every transition.
	Watch() <-chan bool
	Logout() error
}

// Agent runs a SyncClient for as long as a user is signed in: a sign-in
// (re)activates it, a sign-out deactivates it, and a token rejected by the
// server signs the user out.
type Agent struct {
	client  *SyncClient
	session Session
}

// NewAgent binds client to session.
func NewAgent(client *SyncClient, session Session) *Agent {
	a := &Agent{client: client, session: session}
	client.OnUnauthorized(func() {
		log.Warn().Msg("server rejected the session token, signing out")
		if err := session.Logout(); err != nil {
			log.Error().Err(err).Msg("failed to clear rejected token")
		}
	})
	return a
}

// Run follows the session until ctx is cancelled or the session is closed.
// The client is inactive when Run returns.
func (a *Agent) Run(ctx context.Context) error {
	watch := a.session.Watch()
	defer a.client.Deactivate()

	if a.session.Authenticated() {
		a.activate(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case authenticated, ok := <-watch:
			if !ok {
				return nil
			}
			// a new sign-in may be a different user; start from a clean state
			a.client.Deactivate()
			if authenticated {
				a.activate(ctx)
			}
		}
	}
}

func (a *Agent) activate(ctx context.Context) {
	if err := a.client.Activate(ctx); err != nil {
		log.Warn().Err(err).Msg("initial notification load failed, polling continues")
	}
}
