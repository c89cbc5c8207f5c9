package service

import (
	"context"
	"errors"
	"time"

	"github.com/TechSanzo/chaturbate/internal/audit"
	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/internal/ledger"
	"github.com/TechSanzo/chaturbate/internal/repository"
	"github.com/TechSanzo/chaturbate/pkg/bus"
	"github.com/TechSanzo/chaturbate/pkg/log"
)

// ShowService runs private shows: start, per-minute cost accrual while
// active, and settlement through the ledger when the show ends.
type ShowService struct {
	shows     repository.ShowRepository
	streams   repository.StreamRepository
	users     repository.UserRepository
	ledger    *ledger.Ledger
	publisher bus.Publisher

	accrualInterval time.Duration
}

// NewShowService creates a show service. The accrual worker ticks once
// per interval; production uses a minute.
func NewShowService(
	shows repository.ShowRepository,
	streams repository.StreamRepository,
	users repository.UserRepository,
	lg *ledger.Ledger,
	publisher bus.Publisher,
	accrualInterval time.Duration,
) *ShowService {
	if accrualInterval <= 0 {
		accrualInterval = time.Minute
	}
	return &ShowService{
		shows:           shows,
		streams:         streams,
		users:           users,
		ledger:          lg,
		publisher:       publisher,
		accrualInterval: accrualInterval,
	}
}

// Start opens a private show between a viewer and a broadcaster. A
// viewer can hold at most one active show; the first accrual tick
// happens one interval after start, so a show shorter than the interval
// costs nothing.
func (s *ShowService) Start(ctx context.Context, viewerID string, req *domain.StartShowRequest) (*domain.PrivateShow, error) {
	if req.RatePerMinute <= 0 {
		return nil, domain.NewValidationError("rate_per_minute", "must be positive")
	}
	if req.BroadcasterID == viewerID {
		return nil, domain.NewValidationError("broadcaster_id", "must differ from viewer")
	}

	broadcaster, err := s.users.GetByID(ctx, req.BroadcasterID)
	if err != nil {
		return nil, err
	}
	if broadcaster.Role != domain.RoleBroadcaster {
		return nil, domain.NewValidationError("broadcaster_id", "is not a broadcaster")
	}

	if _, err := s.shows.ActiveShowForViewer(ctx, viewerID); err == nil {
		return nil, &domain.ConflictError{Resource: "show", Reason: "viewer already in an active show"}
	} else if !errors.Is(err, domain.ErrShowNotFound) {
		return nil, err
	}

	// Require one interval's worth of credits up front so a show cannot
	// start that could never be settled.
	viewer, err := s.users.GetByID(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if viewer.Credits < req.RatePerMinute {
		return nil, &domain.ConflictError{Resource: "credits", Reason: "balance below one minute of the show rate"}
	}

	show := &domain.PrivateShow{
		BroadcasterID: req.BroadcasterID,
		ViewerID:      viewerID,
		RatePerMinute: req.RatePerMinute,
		Status:        domain.ShowStatusActive,
		StartedAt:     time.Now().UTC(),
	}
	if err := s.shows.Create(ctx, show); err != nil {
		return nil, err
	}

	audit.Record(ctx, audit.ActionShowStart, viewerID).
		Target(req.BroadcasterID).
		Show(show.ID).
		Amount(req.RatePerMinute).
		Write()
	s.publishShow(ctx, show)
	return show, nil
}

// Get returns one show.
func (s *ShowService) Get(ctx context.Context, id string) (*domain.PrivateShow, error) {
	return s.shows.GetByID(ctx, id)
}

// End finishes a show and settles the accrued cost: one transfer from
// viewer to broadcaster for the final total. The terminal transition
// happens first and exactly once; a settlement failure (insufficient
// balance, transport) leaves the show ended and is returned to the
// caller for operator follow-up.
func (s *ShowService) End(ctx context.Context, id, callerID string) (*domain.PrivateShow, error) {
	current, err := s.shows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != current.ViewerID && callerID != current.BroadcasterID {
		return nil, &domain.AuthError{Reason: "show does not involve caller"}
	}

	show, err := s.shows.Finish(ctx, id, domain.ShowStatusEnded)
	if err != nil {
		return nil, err
	}

	if show.TotalCost > 0 {
		_, terr := s.ledger.Transfer(ctx, show.ViewerID, show.BroadcasterID, show.TotalCost, "", "private show settlement")
		entry := audit.Record(ctx, audit.ActionShowSettle, show.ViewerID).
			Target(show.BroadcasterID).
			Show(show.ID).
			Amount(show.TotalCost)
		if terr != nil {
			entry.Err(terr).Write()
			return show, terr
		}
		entry.Write()
	}

	s.publishShow(ctx, show)
	return show, nil
}

// Cancel finishes a show without settlement; no credits move.
func (s *ShowService) Cancel(ctx context.Context, id, callerID string) (*domain.PrivateShow, error) {
	current, err := s.shows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID != current.ViewerID && callerID != current.BroadcasterID {
		return nil, &domain.AuthError{Reason: "show does not involve caller"}
	}

	show, err := s.shows.Finish(ctx, id, domain.ShowStatusCancelled)
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, audit.ActionShowCancel, callerID).Show(show.ID).Write()
	s.publishShow(ctx, show)
	return show, nil
}

// RunAccrual ticks the per-minute cost onto every active show until the
// context ends. Intended to run once per process.
func (s *ShowService) RunAccrual(ctx context.Context) error {
	ticker := time.NewTicker(s.accrualInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.accrueOnce(ctx)
		}
	}
}

func (s *ShowService) accrueOnce(ctx context.Context) {
	shows, err := s.shows.ActiveShows(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list active shows for accrual")
		return
	}

	for i := range shows {
		show := &shows[i]
		if err := s.shows.Accrue(ctx, show.ID, show.RatePerMinute); err != nil {
			// A conflict means the show went terminal between the list
			// and the tick; nothing to do.
			if domain.IsConflict(err) {
				continue
			}
			log.Ctx(ctx).Error().Err(err).Str(log.FieldShowID, show.ID).Msg("failed to accrue show cost")
		}
	}
}

// publishShow announces a show change on the broadcaster's live stream
// state channel, when one exists. Shows are not bound to a stream row,
// so this is best-effort presence information.
func (s *ShowService) publishShow(ctx context.Context, show *domain.PrivateShow) {
	if s.publisher == nil {
		return
	}

	streams, err := s.streams.GetByBroadcaster(ctx, show.BroadcasterID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldShowID, show.ID).Msg("failed to resolve stream for show event")
		return
	}
	var live *domain.Stream
	for i := range streams {
		if streams[i].IsLive {
			live = &streams[i]
			break
		}
	}
	if live == nil {
		return
	}

	ev, err := bus.NewEvent(show.ID, bus.KindShowUpdated, live.ID, show)
	if err == nil {
		err = s.publisher.Publish(ctx, bus.StateChannel(live.ID), ev)
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldShowID, show.ID).Msg("failed to publish show event")
	}
}
