package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/officekit/addin-auth/internal/entra"
	"github.com/officekit/addin-auth/internal/users"
	"github.com/officekit/addin-auth/pkg/logger"
	"github.com/officekit/addin-auth/pkg/metrics"
)

// Refresher redeems a refresh token for a new token bundle. Implemented by
// *entra.Client.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*entra.TokenBundle, error)
}

// UserLookup resolves the user row joined to a session.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
}

// Service wraps repository operations with the session lifecycle: creation,
// validation with lazy expiry reaping, and transparent access-token refresh
// with a sliding session window.
type Service struct {
	repo      Repository
	users     UserLookup
	refresher Refresher
	lifetime  time.Duration
	threshold time.Duration

	// refreshGroup serializes refresh-on-validate per session id so two
	// concurrent requests near the threshold issue one upstream exchange
	// instead of racing each other's refresh token.
	refreshGroup singleflight.Group

	now func() time.Time
}

func NewService(repo Repository, users UserLookup, refresher Refresher, lifetime, threshold time.Duration) *Service {
	return &Service{
		repo:      repo,
		users:     users,
		refresher: refresher,
		lifetime:  lifetime,
		threshold: threshold,
		now:       time.Now,
	}
}

// Create stores a new session for the user under the given derived id.
func (s *Service) Create(ctx context.Context, sessionID, userID string, bundle *entra.TokenBundle) (*Session, error) {
	if bundle.RefreshToken == "" {
		return nil, ErrMissingRefreshToken
	}
	now := s.now().UTC()
	sess := &Session{
		ID:                   sessionID,
		UserID:               userID,
		ExpiresAt:            now.Add(s.lifetime),
		AccessToken:          bundle.AccessToken,
		AccessTokenExpiresAt: bundle.AccessTokenExpiresAt,
		RefreshToken:         bundle.RefreshToken,
		CreatedAt:            now,
	}
	created, err := s.repo.Insert(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	metrics.SessionsCreated.Inc()
	return created, nil
}

// Validate is the main session handler. It looks up the session and its user,
// reaps it lazily when expired, and refreshes the access token when it is
// within the refresh threshold, sliding the session expiry forward by the
// full lifetime. Returns nil, nil, nil when no valid session exists.
func (s *Service) Validate(ctx context.Context, sessionID string) (*Session, *users.User, error) {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, nil
	}

	now := s.now().UTC()

	// Session expired: reap on access rather than by background sweep. A
	// second Validate for the same id simply finds nothing.
	if !now.Before(sess.ExpiresAt) {
		_ = s.repo.DeleteByID(ctx, sessionID)
		return nil, nil, nil
	}

	// Access token close to expiry: refresh it, and re-set the session
	// lifetime while we're updating the row anyway.
	if !now.Before(sess.AccessTokenExpiresAt.Add(-s.threshold)) {
		v, err, _ := s.refreshGroup.Do(sessionID, func() (interface{}, error) {
			return s.refresh(ctx, sess)
		})
		if err != nil {
			return nil, nil, err
		}
		sess = v.(*Session)
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		// Orphaned session; its user is gone.
		_ = s.repo.DeleteByID(ctx, sessionID)
		return nil, nil, nil
	}
	return sess, user, nil
}

func (s *Service) refresh(ctx context.Context, sess *Session) (*Session, error) {
	bundle, err := s.refresher.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		metrics.TokenRefresh.WithLabelValues("error").Inc()
		var incomplete *entra.IncompleteTokenError
		if errors.As(err, &incomplete) && incomplete.Field == "refresh_token" {
			return nil, ErrRefreshTokenMissing
		}
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	if bundle.RefreshToken == "" {
		metrics.TokenRefresh.WithLabelValues("error").Inc()
		return nil, ErrRefreshTokenMissing
	}

	sess.AccessToken = bundle.AccessToken
	sess.AccessTokenExpiresAt = bundle.AccessTokenExpiresAt
	sess.RefreshToken = bundle.RefreshToken
	sess.ExpiresAt = s.now().UTC().Add(s.lifetime)

	updated, err := s.repo.Update(ctx, sess)
	if err != nil {
		metrics.TokenRefresh.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("persist refreshed session: %w", err)
	}
	metrics.TokenRefresh.WithLabelValues("ok").Inc()
	logger.Debugf("refreshed access token for session %s...", sess.ID[:8])
	return updated, nil
}

// Invalidate closes one session. It's like signing the user out on one device.
// Deleting an unknown id is not an error.
func (s *Service) Invalidate(ctx context.Context, sessionID string) error {
	return s.repo.DeleteByID(ctx, sessionID)
}

// InvalidateAll closes every session of a user, for logout-everywhere and
// security revocation.
func (s *Service) InvalidateAll(ctx context.Context, userID string) error {
	return s.repo.DeleteByUser(ctx, userID)
}
