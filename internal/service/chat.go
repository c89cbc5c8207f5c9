package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/internal/repository"
	"github.com/TechSanzo/chaturbate/pkg/bus"
	"github.com/TechSanzo/chaturbate/pkg/log"
)

const defaultHistoryLimit = 50

// ChatService persists chat messages and fans them out on the stream's
// message channel.
type ChatService struct {
	messages  repository.MessageRepository
	streams   repository.StreamRepository
	publisher bus.Publisher
}

// NewChatService creates a chat service.
func NewChatService(messages repository.MessageRepository, streams repository.StreamRepository, publisher bus.Publisher) *ChatService {
	return &ChatService{messages: messages, streams: streams, publisher: publisher}
}

// SendMessage appends a chat message to a live stream. The timestamp
// and id are assigned here, before the write, so the fan-out event and
// the stored row agree.
func (s *ChatService) SendMessage(ctx context.Context, streamID, userID string, req *domain.SendMessageRequest) (*domain.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, domain.NewValidationError("content", "must not be empty")
	}

	stream, err := s.streams.GetByID(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if !stream.IsLive {
		return nil, &domain.ConflictError{Resource: "stream", Reason: "not live", Err: domain.ErrStreamNotLive}
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		StreamID:  streamID,
		UserID:    userID,
		Content:   content,
		Kind:      domain.MessageKindChat,
		Timestamp: time.Now().UTC(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	s.publish(ctx, msg)
	return msg, nil
}

// History returns the most recent messages of a stream in ascending
// (timestamp, id) order.
func (s *ChatService) History(ctx context.Context, streamID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.messages.History(ctx, streamID, limit)
}

// publish fans the committed message out. Failures are logged; the
// message is already durable and history reads will surface it.
func (s *ChatService) publish(ctx context.Context, msg *domain.Message) {
	if s.publisher == nil {
		return
	}
	ev, err := bus.NewEvent(msg.ID, bus.KindMessageCreated, msg.StreamID, msg)
	if err == nil {
		err = s.publisher.Publish(ctx, bus.MessagesChannel(msg.StreamID), ev)
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str(log.FieldMessageID, msg.ID).
			Str(log.FieldStreamID, msg.StreamID).
			Msg("failed to publish chat message")
	}
}
