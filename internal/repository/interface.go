package repository

import (
	"context"

	"github.com/TechSanzo/chaturbate/internal/domain"
)

// UserRepository defines profile persistence. Balance fields are not
// writable through this interface; the ledger owns them.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateProfile(ctx context.Context, id string, req *domain.UpdateProfileRequest) (*domain.User, error)
	SetOnline(ctx context.Context, id string, online bool) error
}

// StreamRepository defines stream persistence and directory queries.
type StreamRepository interface {
	Create(ctx context.Context, stream *domain.Stream) error
	GetByID(ctx context.Context, id string) (*domain.Stream, error)
	List(ctx context.Context, req *domain.ListStreamsRequest) ([]domain.Stream, int, error)
	GetByBroadcaster(ctx context.Context, broadcasterID string) ([]domain.Stream, error)
	// Start transitions is_live false→true; a stream that is already
	// live is a conflict.
	Start(ctx context.Context, id, broadcasterID string) (*domain.Stream, error)
	// End transitions is_live true→false and sets ended_at exactly once.
	End(ctx context.Context, id string) (*domain.Stream, error)
	UpdateMeta(ctx context.Context, id string, req *domain.UpdateStreamRequest) (*domain.Stream, error)
	SetViewers(ctx context.Context, id string, viewers int) error
}

// MessageRepository defines chat event persistence. Messages are
// immutable once created.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	History(ctx context.Context, streamID string, limit int) ([]domain.Message, error)
}

// ShowRepository defines private show persistence.
type ShowRepository interface {
	Create(ctx context.Context, show *domain.PrivateShow) error
	GetByID(ctx context.Context, id string) (*domain.PrivateShow, error)
	// Accrue adds amount to total_cost while the show is active. The
	// guarded update keeps total_cost monotone; accruing on a terminal
	// show is a no-op conflict.
	Accrue(ctx context.Context, id string, amount int64) error
	// Finish moves an active show to a terminal status exactly once.
	Finish(ctx context.Context, id string, status domain.ShowStatus) (*domain.PrivateShow, error)
	ActiveShows(ctx context.Context) ([]domain.PrivateShow, error)
	ActiveShowForViewer(ctx context.Context, viewerID string) (*domain.PrivateShow, error)
}
