package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DialogMessage is the tagged-union message a login dialog posts back to its
// parent: either a token with the signed-in account, or an error.
type DialogMessage struct {
	Status    string `json:"status"` // "success" | "error"
	Result    string `json:"result,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Host dialog event codes, surfaced when the dialog surface itself fails
// rather than the authentication inside it.
const (
	CodeDialogLoadFailed    = 12002
	CodeDialogHTTPSRequired = 12003
	CodeDialogClosed        = 12006
)

var (
	ErrDialogLoadFailed    = errors.New("the auth dialog has been directed to a page that it cannot find or load, or the URL syntax is invalid")
	ErrDialogHTTPSRequired = errors.New("the auth dialog has been directed to a URL with the HTTP protocol; HTTPS is required")
	ErrDialogClosed        = errors.New("the auth dialog was closed before the user signed in")
	ErrDialogUnknown       = errors.New("unknown error in auth dialog")
	ErrDialogTimeout       = errors.New("timed out waiting for the auth dialog")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

func dialogCodeError(code int) error {
	switch code {
	case CodeDialogLoadFailed:
		return ErrDialogLoadFailed
	case CodeDialogHTTPSRequired:
		return ErrDialogHTTPSRequired
	case CodeDialogClosed:
		return ErrDialogClosed
	default:
		return ErrDialogUnknown
	}
}

// dialogResult is what arrives on a bridge channel: either a parsed message
// from the dialog or a host event code.
type dialogResult struct {
	msg  *DialogMessage
	code int
}

// Bridge correlates each opened dialog with exactly one response. The dialog
// side calls Deliver (or DeliverEvent) with the correlation id it was opened
// under; the parent side blocks until that response or a timeout.
type Bridge struct {
	mu      sync.Mutex
	waiters map[string]chan dialogResult
}

func NewBridge() *Bridge {
	return &Bridge{waiters: map[string]chan dialogResult{}}
}

func (b *Bridge) expect(id string) <-chan dialogResult {
	ch := make(chan dialogResult, 1)
	b.mu.Lock()
	b.waiters[id] = ch
	b.mu.Unlock()
	return ch
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.waiters, id)
	b.mu.Unlock()
}

func (b *Bridge) deliver(id string, res dialogResult) bool {
	b.mu.Lock()
	ch, ok := b.waiters[id]
	if ok {
		delete(b.waiters, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- res
	return true
}

// Deliver hands a dialog message to the waiting parent. Messages for unknown
// or already-answered correlation ids are dropped; each dialog gets exactly
// one answer.
func (b *Bridge) Deliver(id string, msg DialogMessage) bool {
	return b.deliver(id, dialogResult{msg: &msg})
}

// DeliverEvent reports a host dialog event (unexpected close, load failure)
// by its code.
func (b *Bridge) DeliverEvent(id string, code int) bool {
	return b.deliver(id, dialogResult{code: code})
}

// Opener shows the interactive surface at the given URL. The correlation id
// must travel with the surface so its messages find their way back through
// the bridge.
type Opener interface {
	OpenDialog(ctx context.Context, correlationID, url string) error
}

// AccountActivator marks the signed-in account as active so future silent
// acquisitions can use it.
type AccountActivator interface {
	SetActiveAccount(accountID string)
}

const defaultDialogTimeout = 5 * time.Minute

// DialogSource is an InteractiveSource backed by a login dialog and the
// message bridge. Only one dialog may be open at a time; a second attempt
// fails with ErrInteractionInProgress.
type DialogSource struct {
	bridge   *Bridge
	opener   Opener
	url      string
	timeout  time.Duration
	accounts AccountActivator

	inFlight atomic.Bool
}

// NewDialogSource builds the interactive source. accounts may be nil.
func NewDialogSource(bridge *Bridge, opener Opener, url string, accounts AccountActivator) *DialogSource {
	return &DialogSource{
		bridge:   bridge,
		opener:   opener,
		url:      url,
		timeout:  defaultDialogTimeout,
		accounts: accounts,
	}
}

// ClearInteractionState drops the in-flight flag after a conflict, allowing
// the acquirer's bounded retry to proceed.
func (d *DialogSource) ClearInteractionState() {
	d.inFlight.Store(false)
}

// AcquireInteractive opens the dialog and waits for exactly one correlated
// response or the timeout.
func (d *DialogSource) AcquireInteractive(ctx context.Context) (string, error) {
	if !d.inFlight.CompareAndSwap(false, true) {
		return "", ErrInteractionInProgress
	}
	defer d.inFlight.Store(false)

	id := uuid.NewString()
	ch := d.bridge.expect(id)
	defer d.bridge.forget(id)

	if err := d.opener.OpenDialog(ctx, id, d.url); err != nil {
		return "", fmt.Errorf("open auth dialog: %w", err)
	}

	select {
	case res := <-ch:
		if res.msg == nil {
			return "", dialogCodeError(res.code)
		}
		if res.msg.Status != StatusSuccess {
			if res.msg.Error != "" {
				return "", fmt.Errorf("%w: %s", ErrAuthenticationFailed, res.msg.Error)
			}
			return "", ErrAuthenticationFailed
		}
		if d.accounts != nil && res.msg.AccountID != "" {
			d.accounts.SetActiveAccount(res.msg.AccountID)
		}
		return res.msg.Result, nil
	case <-time.After(d.timeout):
		return "", ErrDialogTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
