package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/TechSanzo/chaturbate/internal/audit"
	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/internal/repository"
	"github.com/TechSanzo/chaturbate/pkg/bus"
	"github.com/TechSanzo/chaturbate/pkg/log"
)

// StreamService owns the stream lifecycle and the public directory.
type StreamService struct {
	streams   repository.StreamRepository
	users     repository.UserRepository
	publisher bus.Publisher
}

// NewStreamService creates a stream service.
func NewStreamService(streams repository.StreamRepository, users repository.UserRepository, publisher bus.Publisher) *StreamService {
	return &StreamService{streams: streams, users: users, publisher: publisher}
}

// Create registers a stream for a broadcaster. The stream starts
// offline; Start flips it live.
func (s *StreamService) Create(ctx context.Context, broadcasterID string, req *domain.CreateStreamRequest) (*domain.Stream, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.NewValidationError("title", "must not be empty")
	}

	owner, err := s.users.GetByID(ctx, broadcasterID)
	if err != nil {
		return nil, err
	}
	if owner.Role != domain.RoleBroadcaster {
		return nil, &domain.AuthError{Reason: "only broadcasters can create streams"}
	}

	stream := &domain.Stream{
		ID:            uuid.New().String(),
		BroadcasterID: broadcasterID,
		Title:         title,
		Description:   req.Description,
		StreamURL:     req.StreamURL,
	}
	if err := s.streams.Create(ctx, stream); err != nil {
		return nil, err
	}
	return stream, nil
}

// Get returns one stream with its broadcaster profile joined in.
func (s *StreamService) Get(ctx context.Context, id string) (*domain.Stream, error) {
	return s.streams.GetByID(ctx, id)
}

// List serves the public directory: live filter, text search, and
// pagination.
func (s *StreamService) List(ctx context.Context, req *domain.ListStreamsRequest) (*domain.ListStreamsResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	streams, total, err := s.streams.List(ctx, req)
	if err != nil {
		return nil, err
	}

	totalPages := total / req.PageSize
	if total%req.PageSize != 0 {
		totalPages++
	}
	return &domain.ListStreamsResponse{
		Streams:    streams,
		Total:      total,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: totalPages,
	}, nil
}

// ByBroadcaster returns a broadcaster's streams, newest first.
func (s *StreamService) ByBroadcaster(ctx context.Context, broadcasterID string) ([]domain.Stream, error) {
	return s.streams.GetByBroadcaster(ctx, broadcasterID)
}

// Start flips a stream live. Starting a stream that is already live, or
// one owned by someone else, is a conflict.
func (s *StreamService) Start(ctx context.Context, id, broadcasterID string) (*domain.Stream, error) {
	stream, err := s.streams.Start(ctx, id, broadcasterID)
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, audit.ActionStreamStart, broadcasterID).Stream(id).Write()
	s.publishState(ctx, stream)
	return stream, nil
}

// End takes a stream offline, recording ended_at exactly once.
func (s *StreamService) End(ctx context.Context, id, broadcasterID string) (*domain.Stream, error) {
	current, err := s.streams.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.BroadcasterID != broadcasterID {
		return nil, &domain.AuthError{Reason: "stream not owned by caller"}
	}

	stream, err := s.streams.End(ctx, id)
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, audit.ActionStreamEnd, broadcasterID).Stream(id).Write()
	s.publishState(ctx, stream)
	return stream, nil
}

// UpdateMeta patches title, description, or stream URL.
func (s *StreamService) UpdateMeta(ctx context.Context, id, broadcasterID string, req *domain.UpdateStreamRequest) (*domain.Stream, error) {
	current, err := s.streams.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.BroadcasterID != broadcasterID {
		return nil, &domain.AuthError{Reason: "stream not owned by caller"}
	}

	stream, err := s.streams.UpdateMeta(ctx, id, req)
	if err != nil {
		return nil, err
	}

	s.publishState(ctx, stream)
	return stream, nil
}

func (s *StreamService) publishState(ctx context.Context, stream *domain.Stream) {
	if s.publisher == nil {
		return
	}
	ev, err := bus.NewEvent(stream.ID, bus.KindStreamUpdated, stream.ID, stream)
	if err == nil {
		err = s.publisher.Publish(ctx, bus.StateChannel(stream.ID), ev)
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldStreamID, stream.ID).Msg("failed to publish stream state")
	}
}
