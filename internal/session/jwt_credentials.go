package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/pkg/log"
)

// CredentialModel is the GORM model for the credentials table. Kept
// separate from the users table: a credential can exist without a
// profile (the partial sign-up case).
type CredentialModel struct {
	UserID       string `gorm:"type:varchar(36);primaryKey"`
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string `gorm:"type:varchar(255);not null"`
}

// TableName specifies the table name for CredentialModel.
func (CredentialModel) TableName() string {
	return "credentials"
}

// JWTCredentials implements Credentials with bcrypt-hashed secrets in
// the relational store and RSA-signed JWTs as the session token.
type JWTCredentials struct {
	db     *gorm.DB
	tokens *TokenManager
	store  TokenStore

	mu        sync.Mutex
	listeners map[int]func(*Identity)
	nextID    int
}

// NewJWTCredentials creates the production credential service.
func NewJWTCredentials(db *gorm.DB, tokens *TokenManager, store TokenStore) *JWTCredentials {
	return &JWTCredentials{
		db:        db,
		tokens:    tokens,
		store:     store,
		listeners: make(map[int]func(*Identity)),
	}
}

// Register creates a credential and returns a signed token. Used by
// the HTTP surface, where tokens travel in responses instead of a
// local token store.
func (c *JWTCredentials) Register(ctx context.Context, email, password string) (*Identity, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	model := &CredentialModel{
		UserID:       uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := c.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicate(err) {
			return nil, "", &domain.ConflictError{Resource: "email", Reason: "already registered", Err: domain.ErrEmailExists}
		}
		return nil, "", err
	}

	id := &Identity{UserID: model.UserID, Email: email}
	token, err := c.tokens.Generate(id.UserID, id.Email)
	if err != nil {
		return nil, "", err
	}
	return id, token, nil
}

// Authenticate verifies a credential and returns a fresh token.
func (c *JWTCredentials) Authenticate(ctx context.Context, email, password string) (*Identity, string, error) {
	var model CredentialModel
	result := c.db.WithContext(ctx).First(&model, "email = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, "", &domain.AuthError{Reason: "invalid email or password"}
		}
		return nil, "", &domain.TransportError{Op: "credentials.signin", Err: result.Error}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(model.PasswordHash), []byte(password)); err != nil {
		return nil, "", &domain.AuthError{Reason: "invalid email or password"}
	}

	c.tokens.Unrevoke(model.UserID)

	id := &Identity{UserID: model.UserID, Email: model.Email}
	token, err := c.tokens.Generate(id.UserID, id.Email)
	if err != nil {
		return nil, "", err
	}
	return id, token, nil
}

// SignUp creates a credential for a new identity, persisting the token
// locally for resumption.
func (c *JWTCredentials) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	id, token, err := c.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.save(ctx, token); err != nil {
		return nil, err
	}

	c.notify(id)
	return id, nil
}

// SignIn verifies a credential and persists a fresh token.
func (c *JWTCredentials) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	id, token, err := c.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.save(ctx, token); err != nil {
		return nil, err
	}

	c.notify(id)
	return id, nil
}

// SignOut clears the persisted token and revokes outstanding ones.
func (c *JWTCredentials) SignOut(ctx context.Context) error {
	token, err := c.store.Load(ctx)
	if err == nil {
		if claims, verr := c.tokens.Validate(token); verr == nil {
			c.tokens.Revoke(claims.UserID)
		}
	}

	if err := c.store.Clear(ctx); err != nil {
		return &domain.TransportError{Op: "credentials.signout", Err: err}
	}

	c.notify(nil)
	return nil
}

// Resume resolves a previously persisted credential. An expired or
// revoked token is cleared and reported as an AuthError; an absent one
// as ErrNoCredential.
func (c *JWTCredentials) Resume(ctx context.Context) (*Identity, error) {
	token, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return nil, ErrNoCredential
		}
		return nil, &domain.TransportError{Op: "credentials.resume", Err: err}
	}

	claims, err := c.tokens.Validate(token)
	if err != nil {
		if cerr := c.store.Clear(ctx); cerr != nil {
			log.Ctx(ctx).Warn().Err(cerr).Msg("failed to clear stale token")
		}
		return nil, &domain.AuthError{Reason: "persisted credential no longer valid", Err: err}
	}

	return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

// OnChange registers a credential-change listener.
func (c *JWTCredentials) OnChange(fn func(*Identity)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// NotifyExternalChange is the entry point for credential events that
// originate outside an explicit call on this instance (admin
// revocation, expiry detected elsewhere). Listeners re-enter the same
// hydrate path as a sign-in.
func (c *JWTCredentials) NotifyExternalChange(id *Identity) {
	c.notify(id)
}

func (c *JWTCredentials) save(ctx context.Context, token string) error {
	if err := c.store.Save(ctx, token); err != nil {
		return &domain.TransportError{Op: "credentials.persist", Err: err, MaybeApplied: true}
	}
	return nil
}

func (c *JWTCredentials) notify(id *Identity) {
	c.mu.Lock()
	fns := make([]func(*Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}

func isDuplicate(err error) bool {
	s := err.Error()
	return strings.Contains(s, "duplicate key") ||
		strings.Contains(s, "Duplicate entry") ||
		strings.Contains(s, "UNIQUE constraint")
}
