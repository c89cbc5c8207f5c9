package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/pkg/log"
)

// GormStreamRepository implements StreamRepository using GORM.
type GormStreamRepository struct {
	db *gorm.DB
}

// NewGormStreamRepository creates a new GORM-based stream repository.
func NewGormStreamRepository(db *gorm.DB) *GormStreamRepository {
	return &GormStreamRepository{db: db}
}

// Create creates a new stream, not yet live.
func (r *GormStreamRepository) Create(ctx context.Context, stream *domain.Stream) error {
	l := log.Ctx(ctx)

	stream.ID = uuid.New().String()
	stream.IsLive = false

	model := domain.StreamToModel(stream)
	result := r.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		l.Error().Err(result.Error).Msg("failed to create stream in db")
		return result.Error
	}

	stream.CreatedAt = model.CreatedAt
	l.Debug().Str(log.FieldStreamID, stream.ID).Msg("stream created in db")
	return nil
}

// GetByID retrieves a stream with its broadcaster summary joined in.
func (r *GormStreamRepository) GetByID(ctx context.Context, id string) (*domain.Stream, error) {
	var model domain.StreamModel
	result := r.db.WithContext(ctx).Preload("Broadcaster").First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrStreamNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// List retrieves streams with pagination, optional live filter and
// title/description search, each with the broadcaster summary joined.
func (r *GormStreamRepository) List(ctx context.Context, req *domain.ListStreamsRequest) ([]domain.Stream, int, error) {
	l := log.Ctx(ctx)

	page := req.Page
	pageSize := req.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := r.db.WithContext(ctx).Model(&domain.StreamModel{})
	if req.Live != nil {
		query = query.Where("is_live = ?", *req.Live)
	}
	if req.Query != "" {
		pattern := "%" + req.Query + "%"
		query = query.Where("title LIKE ? OR description LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		l.Error().Err(err).Msg("failed to count streams")
		return nil, 0, err
	}

	var models []domain.StreamModel
	if err := query.Preload("Broadcaster").
		Order("created_at DESC").Offset(offset).Limit(pageSize).
		Find(&models).Error; err != nil {
		l.Error().Err(err).Msg("failed to list streams from db")
		return nil, 0, err
	}

	streams := make([]domain.Stream, len(models))
	for i := range models {
		streams[i] = *models[i].ToDomain()
	}

	return streams, int(total), nil
}

// GetByBroadcaster retrieves all streams owned by a broadcaster.
func (r *GormStreamRepository) GetByBroadcaster(ctx context.Context, broadcasterID string) ([]domain.Stream, error) {
	var models []domain.StreamModel
	result := r.db.WithContext(ctx).
		Where("broadcaster_id = ?", broadcasterID).
		Order("created_at DESC").
		Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}

	streams := make([]domain.Stream, len(models))
	for i := range models {
		streams[i] = *models[i].ToDomain()
	}
	return streams, nil
}

// Start flips is_live false→true. The guard in the WHERE clause makes a
// double start a conflict instead of a silent overwrite.
func (r *GormStreamRepository) Start(ctx context.Context, id, broadcasterID string) (*domain.Stream, error) {
	l := log.Ctx(ctx)

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&domain.StreamModel{}).
		Where("id = ? AND broadcaster_id = ? AND is_live = ?", id, broadcasterID, false).
		Updates(map[string]interface{}{
			"is_live":    true,
			"started_at": now,
			"ended_at":   nil,
		})
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldStreamID, id).Msg("failed to start stream in db")
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, &domain.ConflictError{Resource: "stream", Reason: "already live or not owned by caller"}
	}

	l.Debug().Str(log.FieldStreamID, id).Msg("stream started")
	return r.GetByID(ctx, id)
}

// End flips is_live true→false and stamps ended_at. A stream that is
// not live cannot be ended twice, so ended_at is set exactly once.
func (r *GormStreamRepository) End(ctx context.Context, id string) (*domain.Stream, error) {
	l := log.Ctx(ctx)

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&domain.StreamModel{}).
		Where("id = ? AND is_live = ?", id, true).
		Updates(map[string]interface{}{
			"is_live":  false,
			"ended_at": now,
			"viewers":  0,
		})
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldStreamID, id).Msg("failed to end stream in db")
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, &domain.ConflictError{Resource: "stream", Reason: "not live"}
	}

	l.Debug().Str(log.FieldStreamID, id).Msg("stream ended")
	return r.GetByID(ctx, id)
}

// UpdateMeta patches stream metadata.
func (r *GormStreamRepository) UpdateMeta(ctx context.Context, id string, req *domain.UpdateStreamRequest) (*domain.Stream, error) {
	patch := map[string]interface{}{}
	if req.Title != nil {
		patch["title"] = *req.Title
	}
	if req.Description != nil {
		patch["description"] = *req.Description
	}
	if req.StreamURL != nil {
		patch["stream_url"] = *req.StreamURL
	}

	if len(patch) > 0 {
		result := r.db.WithContext(ctx).Model(&domain.StreamModel{}).
			Where("id = ?", id).
			Updates(patch)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			return nil, domain.ErrStreamNotFound
		}
	}

	return r.GetByID(ctx, id)
}

// SetViewers writes the current viewer count.
func (r *GormStreamRepository) SetViewers(ctx context.Context, id string, viewers int) error {
	if viewers < 0 {
		viewers = 0
	}
	result := r.db.WithContext(ctx).Model(&domain.StreamModel{}).
		Where("id = ?", id).
		Update("viewers", viewers)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrStreamNotFound
	}
	return nil
}
