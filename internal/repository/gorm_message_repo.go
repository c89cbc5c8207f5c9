package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/TechSanzo/chaturbate/internal/domain"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Create persists a chat event. The timestamp is server-assigned here
// if the caller left it zero; rows are never updated afterwards.
func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Kind == "" {
		msg.Kind = domain.MessageKindChat
	}

	model := domain.MessageToModel(msg)
	return r.db.WithContext(ctx).Create(model).Error
}

// History returns the most recent events of a stream in the per-stream
// total order (timestamp, id), oldest first, with author summaries.
func (r *GormMessageRepository) History(ctx context.Context, streamID string, limit int) ([]domain.Message, error) {
	if limit < 1 {
		limit = 50
	}

	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("stream_id = ?", streamID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	// Reverse into ascending order for consumers appending to a log.
	messages := make([]domain.Message, len(models))
	for i := range models {
		messages[len(models)-1-i] = *models[i].ToDomain()
	}
	return messages, nil
}
