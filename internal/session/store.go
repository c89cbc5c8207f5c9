package session

import (
	"context"
	"errors"
	"sync"

	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/internal/repository"
	"github.com/TechSanzo/chaturbate/pkg/log"
)

// State is the authentication state of a client instance.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateSigningOut
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateSigningOut:
		return "signing_out"
	default:
		return "unauthenticated"
	}
}

// Snapshot is an immutable view of the session handed to listeners.
// User is a copy; mutating it does not touch the shared profile.
type Snapshot struct {
	State             State
	User              *domain.User
	ProfileIncomplete bool
}

// Config holds the store's tunables.
type Config struct {
	InitialViewerCredits      int64
	InitialBroadcasterCredits int64
}

// DefaultConfig returns the grants the platform historically used: a
// starting balance for viewers, none for broadcasters.
func DefaultConfig() Config {
	return Config{InitialViewerCredits: 100, InitialBroadcasterCredits: 0}
}

// Store owns the authenticated identity and its profile for one client
// instance. It is the only component that mutates the shared profile
// object; everything else reads snapshots.
type Store struct {
	creds    Credentials
	profiles repository.UserRepository
	cfg      Config

	mu         sync.RWMutex
	state      State
	user       *domain.User
	incomplete bool
	// pending profile retained after a partial sign-up so the profile
	// creation can be retried without re-registering.
	pending *domain.User

	listeners map[int]chan Snapshot
	nextID    int

	unregister func()
}

// NewStore creates a session store.
func NewStore(creds Credentials, profiles repository.UserRepository, cfg Config) *Store {
	return &Store{
		creds:     creds,
		profiles:  profiles,
		cfg:       cfg,
		state:     StateUnauthenticated,
		listeners: make(map[int]chan Snapshot),
	}
}

// Start resolves a previously persisted credential, hydrating the
// profile when one is found. Called once at process init. It also
// registers for external credential changes, which re-enter the same
// hydrate path as an explicit sign-in.
func (s *Store) Start(ctx context.Context) error {
	s.unregister = s.creds.OnChange(func(id *Identity) {
		if id == nil {
			s.clear()
			return
		}
		if err := s.hydrate(context.Background(), id); err != nil {
			log.L().Warn().Err(err).Str(log.FieldUserID, id.UserID).Msg("failed to hydrate profile on credential change")
		}
	})

	id, err := s.creds.Resume(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return nil
		}
		if domain.IsAuth(err) {
			// Stale credential: stay signed out, nothing to surface.
			return nil
		}
		return err
	}

	s.setState(StateAuthenticating)
	return s.hydrate(ctx, id)
}

// Stop unregisters the credential listener.
func (s *Store) Stop() {
	if s.unregister != nil {
		s.unregister()
	}
}

// SignUp validates input locally, creates the credential, then creates
// the profile with the role's initial credit grant. Validation failures
// happen before any remote call. A profile failure after the credential
// succeeded leaves the session authenticated with an incomplete profile
// and returns a PartialSetupError; RetryProfileSetup recovers it.
func (s *Store) SignUp(ctx context.Context, req *domain.SignUpRequest) error {
	if len(req.Password) < 6 {
		return domain.NewValidationError("password", "must be at least 6 characters")
	}
	if len(req.Username) < 3 {
		return domain.NewValidationError("username", "must be at least 3 characters")
	}
	if !req.Role.Valid() {
		return domain.NewValidationError("role", "must be viewer or broadcaster")
	}

	s.setState(StateAuthenticating)

	id, err := s.creds.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		s.clear()
		return err
	}

	profile := &domain.User{
		ID:       id.UserID,
		Role:     req.Role,
		Username: req.Username,
		Email:    req.Email,
		Credits:  s.initialCredits(req.Role),
		IsOnline: false,
	}

	if err := s.profiles.Create(ctx, profile); err != nil {
		// The credential exists; surface the gap instead of swallowing
		// it or pretending sign-up failed outright.
		s.mu.Lock()
		s.state = StateAuthenticated
		s.user = nil
		s.incomplete = true
		s.pending = profile
		s.mu.Unlock()
		s.broadcast()
		return &domain.PartialSetupError{UserID: id.UserID, Err: err}
	}

	s.setProfile(profile)
	return nil
}

// RetryProfileSetup retries the profile creation left over from a
// partial sign-up.
func (s *Store) RetryProfileSetup(ctx context.Context) error {
	s.mu.RLock()
	pending := s.pending
	s.mu.RUnlock()

	if pending == nil {
		return domain.NewValidationError("profile", "no pending profile setup")
	}

	if err := s.profiles.Create(ctx, pending); err != nil {
		return &domain.PartialSetupError{UserID: pending.ID, Err: err}
	}

	s.setProfile(pending)
	return nil
}

// SignIn verifies the credential and hydrates the profile.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	s.setState(StateAuthenticating)

	id, err := s.creds.SignIn(ctx, email, password)
	if err != nil {
		s.clear()
		return err
	}

	if err := s.hydrate(ctx, id); err != nil {
		s.clear()
		return err
	}

	if u := s.Profile(); u != nil {
		if oerr := s.profiles.SetOnline(ctx, u.ID, true); oerr != nil {
			log.Ctx(ctx).Warn().Err(oerr).Str(log.FieldUserID, u.ID).Msg("failed to mark user online")
		} else {
			s.mu.Lock()
			if s.user != nil {
				s.user.IsOnline = true
			}
			s.mu.Unlock()
		}
	}

	return nil
}

// SignOut marks the profile offline best-effort, then releases the
// credential. The session always ends Unauthenticated, whether or not
// the offline update succeeded.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	user := s.user
	s.state = StateSigningOut
	s.mu.Unlock()
	s.broadcast()

	if user != nil {
		if err := s.profiles.SetOnline(ctx, user.ID, false); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldUserID, user.ID).Msg("failed to mark user offline during sign-out")
		}
	}

	err := s.creds.SignOut(ctx)
	s.clear()
	return err
}

// UpdateProfile patches the profile and refreshes the shared copy. The
// store is the sole mutator of that copy.
func (s *Store) UpdateProfile(ctx context.Context, req *domain.UpdateProfileRequest) (*domain.User, error) {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if user == nil {
		return nil, &domain.AuthError{Reason: "not signed in"}
	}

	updated, err := s.profiles.UpdateProfile(ctx, user.ID, req)
	if err != nil {
		return nil, err
	}

	s.setProfile(updated)
	return updated, nil
}

// Refresh re-reads the profile, picking up balance changes made by the
// ledger.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.RLock()
	user := s.user
	s.mu.RUnlock()

	if user == nil {
		return nil
	}

	fresh, err := s.profiles.GetByID(ctx, user.ID)
	if err != nil {
		return err
	}
	s.setProfile(fresh)
	return nil
}

// Current returns a snapshot of the session.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Profile returns a copy of the authenticated profile, or nil.
func (s *Store) Profile() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Subscribe registers a state-change listener. The returned cancel func
// must be called when the listener goes away. A slow listener misses
// intermediate snapshots rather than blocking the store.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan Snapshot, 8)
	s.listeners[id] = ch
	snap := s.snapshotLocked()
	s.mu.Unlock()

	// Deliver the current state immediately so new listeners can gate
	// without waiting for the next transition.
	ch <- snap

	return ch, func() {
		s.mu.Lock()
		if c, ok := s.listeners[id]; ok {
			delete(s.listeners, id)
			close(c)
		}
		s.mu.Unlock()
	}
}

func (s *Store) hydrate(ctx context.Context, id *Identity) error {
	profile, err := s.profiles.GetByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			// Credential without a profile: the partial sign-up state.
			s.mu.Lock()
			s.state = StateAuthenticated
			s.user = nil
			s.incomplete = true
			s.mu.Unlock()
			s.broadcast()
			return &domain.PartialSetupError{UserID: id.UserID, Err: err}
		}
		return err
	}

	s.setProfile(profile)
	return nil
}

func (s *Store) initialCredits(role domain.Role) int64 {
	if role == domain.RoleBroadcaster {
		return s.cfg.InitialBroadcasterCredits
	}
	return s.cfg.InitialViewerCredits
}

func (s *Store) setProfile(u *domain.User) {
	s.mu.Lock()
	s.state = StateAuthenticated
	s.user = u
	s.incomplete = false
	s.pending = nil
	s.mu.Unlock()
	s.broadcast()
}

func (s *Store) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.broadcast()
}

func (s *Store) clear() {
	s.mu.Lock()
	s.state = StateUnauthenticated
	s.user = nil
	s.incomplete = false
	s.mu.Unlock()
	s.broadcast()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state, ProfileIncomplete: s.incomplete}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

func (s *Store) broadcast() {
	s.mu.RLock()
	snap := s.snapshotLocked()
	chans := make([]chan Snapshot, 0, len(s.listeners))
	for _, ch := range s.listeners {
		chans = append(chans, ch)
	}
	s.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- snap:
		default:
			// Listener is behind; it will catch up on the next change.
		}
	}
}
