package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/TechSanzo/chaturbate/internal/domain"
)

// GormUserRepository implements UserRepository using GORM.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based user repository.
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// Create creates a new user. Field-level validation is enforced here at
// the storage boundary; the role is fixed for the lifetime of the row.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	if !user.Role.Valid() {
		return domain.NewValidationError("role", "must be viewer or broadcaster")
	}
	if len(user.Username) < 3 {
		return domain.NewValidationError("username", "must be at least 3 characters")
	}
	if user.Credits < 0 {
		return domain.NewValidationError("credits", "must not be negative")
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	model := domain.UserToModel(user)
	result := r.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		return r.handleError(result.Error)
	}

	user.CreatedAt = model.CreatedAt
	user.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID retrieves a user by ID.
func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var model domain.UserModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// GetByEmail retrieves a user by email.
func (r *GormUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var model domain.UserModel
	result := r.db.WithContext(ctx).First(&model, "email = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// GetByUsername retrieves a user by username.
func (r *GormUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var model domain.UserModel
	result := r.db.WithContext(ctx).First(&model, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// UpdateProfile patches mutable profile fields. Role and credits are
// deliberately absent from the patch.
func (r *GormUserRepository) UpdateProfile(ctx context.Context, id string, req *domain.UpdateProfileRequest) (*domain.User, error) {
	patch := map[string]interface{}{}
	if req.AvatarURL != nil {
		patch["avatar_url"] = *req.AvatarURL
	}
	if req.Bio != nil {
		patch["bio"] = *req.Bio
	}

	if len(patch) > 0 {
		result := r.db.WithContext(ctx).Model(&domain.UserModel{}).
			Where("id = ?", id).
			Updates(patch)
		if result.Error != nil {
			return nil, r.handleError(result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, domain.ErrUserNotFound
		}
	}

	return r.GetByID(ctx, id)
}

// SetOnline flips the online flag.
func (r *GormUserRepository) SetOnline(ctx context.Context, id string, online bool) error {
	result := r.db.WithContext(ctx).Model(&domain.UserModel{}).
		Where("id = ?", id).
		Update("is_online", online)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// handleError converts database-specific errors to domain errors.
func (r *GormUserRepository) handleError(err error) error {
	errStr := err.Error()

	// Unique constraint violations across postgres, mysql and sqlite.
	if strings.Contains(errStr, "duplicate key") ||
		strings.Contains(errStr, "Duplicate entry") ||
		strings.Contains(errStr, "UNIQUE constraint") {
		if strings.Contains(errStr, "username") {
			return &domain.ConflictError{Resource: "username", Reason: "already taken", Err: domain.ErrUsernameExists}
		}
		if strings.Contains(errStr, "email") {
			return &domain.ConflictError{Resource: "email", Reason: "already registered", Err: domain.ErrEmailExists}
		}
	}

	return err
}
