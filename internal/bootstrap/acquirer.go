// Package bootstrap models the add-in's client-side token acquisition: try
// the host's silent SSO first, then the cached-account silent path, and only
// then open an interactive dialog. The server exchanges whatever token comes
// out of here via the On-Behalf-Of flow.
package bootstrap

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/officekit/addin-auth/pkg/logger"
)

// State of an acquisition flow, exposed for diagnostics.
type State int32

const (
	StateIdle State = iota
	StateTryingSilentSSO
	StateTryingSilentMSAL
	StateAwaitingInteractive
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTryingSilentSSO:
		return "trying_silent_sso"
	case StateTryingSilentMSAL:
		return "trying_silent_msal"
	case StateAwaitingInteractive:
		return "awaiting_interactive"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// SilentSource acquires a bootstrap token without user interaction.
type SilentSource interface {
	AcquireSilent(ctx context.Context) (string, error)
}

// InteractiveSource acquires a bootstrap token through a visible surface
// (popup or dialog) requiring the user to sign in.
type InteractiveSource interface {
	AcquireInteractive(ctx context.Context) (string, error)
}

// interactionClearer is implemented by interactive sources that keep a local
// in-flight flag which can wedge after a conflict.
type interactionClearer interface {
	ClearInteractionState()
}

var (
	// ErrNoAccount means the silent cached-account path found nothing to work with.
	ErrNoAccount = errors.New("no cached account available for silent acquisition")

	// ErrInteractionInProgress means another interactive acquisition is
	// already showing a surface. The acquirer retries once after clearing
	// the source's local state.
	ErrInteractionInProgress = errors.New("interactive authentication already in progress")
)

const defaultConflictRetryDelay = 500 * time.Millisecond

// Acquirer runs the silent-then-interactive acquisition flow. Concurrent
// Token calls coalesce into one flow; a second interactive surface is never
// launched while one is open.
type Acquirer struct {
	sso         SilentSource
	msal        SilentSource
	interactive InteractiveSource

	conflictRetryDelay time.Duration

	state atomic.Int32
	group singleflight.Group
}

// NewAcquirer wires the three sources. sso and msal may be nil when the host
// environment doesn't provide them; interactive must not be.
func NewAcquirer(sso, msal SilentSource, interactive InteractiveSource) *Acquirer {
	return &Acquirer{
		sso:                sso,
		msal:               msal,
		interactive:        interactive,
		conflictRetryDelay: defaultConflictRetryDelay,
	}
}

// State reports where the current (or last) acquisition flow is.
func (a *Acquirer) State() State {
	return State(a.state.Load())
}

func (a *Acquirer) setState(s State) {
	a.state.Store(int32(s))
}

// Token returns a bootstrap token, running the acquisition flow if none is in
// flight or joining the in-flight one otherwise.
func (a *Acquirer) Token(ctx context.Context) (string, error) {
	v, err, _ := a.group.Do("bootstrap", func() (interface{}, error) {
		return a.acquire(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (a *Acquirer) acquire(ctx context.Context) (string, error) {
	if a.sso != nil {
		a.setState(StateTryingSilentSSO)
		token, err := a.sso.AcquireSilent(ctx)
		if err == nil && token != "" {
			a.setState(StateSucceeded)
			return token, nil
		}
		logger.Debugf("silent SSO acquisition failed: %v", err)
	}

	if a.msal != nil {
		a.setState(StateTryingSilentMSAL)
		token, err := a.msal.AcquireSilent(ctx)
		if err == nil && token != "" {
			a.setState(StateSucceeded)
			return token, nil
		}
		logger.Debugf("silent cached-account acquisition failed: %v", err)
	}

	a.setState(StateAwaitingInteractive)
	token, err := a.interactive.AcquireInteractive(ctx)
	if errors.Is(err, ErrInteractionInProgress) {
		// Clear the source's local flag, give the stale surface a moment,
		// then retry exactly once.
		logger.Warnf("interactive acquisition conflict, retrying once")
		if c, ok := a.interactive.(interactionClearer); ok {
			c.ClearInteractionState()
		}
		select {
		case <-time.After(a.conflictRetryDelay):
		case <-ctx.Done():
			a.setState(StateFailed)
			return "", ctx.Err()
		}
		token, err = a.interactive.AcquireInteractive(ctx)
	}
	if err != nil {
		a.setState(StateFailed)
		return "", err
	}
	a.setState(StateSucceeded)
	return token, nil
}
