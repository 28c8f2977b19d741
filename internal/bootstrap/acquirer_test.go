package bootstrap

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSilent struct {
	token string
	err   error
	calls atomic.Int32
}

func (f *fakeSilent) AcquireSilent(ctx context.Context) (string, error) {
	f.calls.Add(1)
	return f.token, f.err
}

type fakeInteractive struct {
	tokens  []string
	errs    []error
	calls   atomic.Int32
	cleared atomic.Int32
}

func (f *fakeInteractive) AcquireInteractive(ctx context.Context) (string, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.tokens) {
		n = len(f.tokens) - 1
	}
	return f.tokens[n], f.errs[n]
}

func (f *fakeInteractive) ClearInteractionState() {
	f.cleared.Add(1)
}

func TestTokenPrefersSilentSSO(t *testing.T) {
	sso := &fakeSilent{token: "sso-token"}
	msal := &fakeSilent{token: "msal-token"}
	interactive := &fakeInteractive{tokens: []string{""}, errs: []error{errors.New("should not be reached")}}
	a := NewAcquirer(sso, msal, interactive)

	token, err := a.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sso-token", token)
	require.Equal(t, StateSucceeded, a.State())
	require.Equal(t, int32(0), msal.calls.Load())
	require.Equal(t, int32(0), interactive.calls.Load())
}

func TestTokenFallsBackToSilentMSAL(t *testing.T) {
	sso := &fakeSilent{err: errors.New("sso unsupported on this host")}
	msal := &fakeSilent{token: "msal-token"}
	interactive := &fakeInteractive{tokens: []string{""}, errs: []error{errors.New("should not be reached")}}
	a := NewAcquirer(sso, msal, interactive)

	token, err := a.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "msal-token", token)
	require.Equal(t, int32(0), interactive.calls.Load())
}

func TestTokenFallsBackToInteractive(t *testing.T) {
	sso := &fakeSilent{err: errors.New("sso failed")}
	msal := &fakeSilent{err: ErrNoAccount}
	interactive := &fakeInteractive{tokens: []string{"dialog-token"}, errs: []error{nil}}
	a := NewAcquirer(sso, msal, interactive)

	token, err := a.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "dialog-token", token)
	require.Equal(t, int32(1), interactive.calls.Load())
	require.Equal(t, StateSucceeded, a.State())
}

func TestTokenWithoutSilentSources(t *testing.T) {
	interactive := &fakeInteractive{tokens: []string{"dialog-token"}, errs: []error{nil}}
	a := NewAcquirer(nil, nil, interactive)

	token, err := a.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "dialog-token", token)
}

func TestTokenRetriesOnceAfterConflict(t *testing.T) {
	interactive := &fakeInteractive{
		tokens: []string{"", "dialog-token"},
		errs:   []error{ErrInteractionInProgress, nil},
	}
	a := NewAcquirer(nil, nil, interactive)
	a.conflictRetryDelay = time.Millisecond

	token, err := a.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "dialog-token", token)
	require.Equal(t, int32(2), interactive.calls.Load())
	require.Equal(t, int32(1), interactive.cleared.Load())
}

func TestTokenConflictRetryIsBounded(t *testing.T) {
	interactive := &fakeInteractive{
		tokens: []string{"", ""},
		errs:   []error{ErrInteractionInProgress, ErrInteractionInProgress},
	}
	a := NewAcquirer(nil, nil, interactive)
	a.conflictRetryDelay = time.Millisecond

	_, err := a.Token(context.Background())
	require.ErrorIs(t, err, ErrInteractionInProgress)
	require.Equal(t, int32(2), interactive.calls.Load())
	require.Equal(t, StateFailed, a.State())
}

func TestTokenInteractiveFailure(t *testing.T) {
	interactive := &fakeInteractive{
		tokens: []string{""},
		errs:   []error{ErrDialogClosed},
	}
	a := NewAcquirer(nil, nil, interactive)

	_, err := a.Token(context.Background())
	require.ErrorIs(t, err, ErrDialogClosed)
	require.Equal(t, StateFailed, a.State())
}

func TestTokenContextCanceledDuringConflictWait(t *testing.T) {
	interactive := &fakeInteractive{
		tokens: []string{""},
		errs:   []error{ErrInteractionInProgress},
	}
	a := NewAcquirer(nil, nil, interactive)
	a.conflictRetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := a.Token(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Token did not return after context cancellation")
	}
	require.Equal(t, int32(1), interactive.calls.Load())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "awaiting_interactive", StateAwaitingInteractive.String())
	require.Equal(t, "unknown", State(99).String())
}
