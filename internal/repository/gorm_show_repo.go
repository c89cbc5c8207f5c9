package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/TechSanzo/chaturbate/internal/domain"
)

// GormShowRepository implements ShowRepository using GORM.
type GormShowRepository struct {
	db *gorm.DB
}

// NewGormShowRepository creates a new GORM-based private show repository.
func NewGormShowRepository(db *gorm.DB) *GormShowRepository {
	return &GormShowRepository{db: db}
}

// Create starts tracking a new show in the active status.
func (r *GormShowRepository) Create(ctx context.Context, show *domain.PrivateShow) error {
	show.ID = uuid.New().String()
	show.Status = domain.ShowStatusActive
	if show.StartedAt.IsZero() {
		show.StartedAt = time.Now().UTC()
	}

	model := domain.ShowToModel(show)
	return r.db.WithContext(ctx).Create(model).Error
}

// GetByID retrieves a show by ID.
func (r *GormShowRepository) GetByID(ctx context.Context, id string) (*domain.PrivateShow, error) {
	var model domain.PrivateShowModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrShowNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// Accrue adds amount to total_cost. The status guard keeps the field
// monotone: terminal shows never accrue.
func (r *GormShowRepository) Accrue(ctx context.Context, id string, amount int64) error {
	if amount <= 0 {
		return domain.NewValidationError("amount", "must be positive")
	}

	result := r.db.WithContext(ctx).Model(&domain.PrivateShowModel{}).
		Where("id = ? AND status = ?", id, string(domain.ShowStatusActive)).
		UpdateColumn("total_cost", gorm.Expr("total_cost + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return &domain.ConflictError{Resource: "private_show", Reason: "not active"}
	}
	return nil
}

// Finish moves an active show to ended or cancelled. The guard makes
// the transition terminal: a second Finish is a conflict.
func (r *GormShowRepository) Finish(ctx context.Context, id string, status domain.ShowStatus) (*domain.PrivateShow, error) {
	if status != domain.ShowStatusEnded && status != domain.ShowStatusCancelled {
		return nil, domain.NewValidationError("status", "must be ended or cancelled")
	}

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&domain.PrivateShowModel{}).
		Where("id = ? AND status = ?", id, string(domain.ShowStatusActive)).
		Updates(map[string]interface{}{
			"status":   string(status),
			"ended_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, &domain.ConflictError{Resource: "private_show", Reason: "already in a terminal status"}
	}

	return r.GetByID(ctx, id)
}

// ActiveShows lists all currently active shows, oldest first.
func (r *GormShowRepository) ActiveShows(ctx context.Context) ([]domain.PrivateShow, error) {
	var models []domain.PrivateShowModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.ShowStatusActive)).
		Order("started_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	shows := make([]domain.PrivateShow, len(models))
	for i := range models {
		shows[i] = *models[i].ToDomain()
	}
	return shows, nil
}

// ActiveShowForViewer returns the viewer's active show, if any.
func (r *GormShowRepository) ActiveShowForViewer(ctx context.Context, viewerID string) (*domain.PrivateShow, error) {
	var model domain.PrivateShowModel
	result := r.db.WithContext(ctx).
		Where("viewer_id = ? AND status = ?", viewerID, string(domain.ShowStatusActive)).
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrShowNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}
