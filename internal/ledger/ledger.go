// Package ledger is the single write path for credit balances. Every
// balance mutation in the system goes through Transfer; repositories
// only ever read the credits column.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/pkg/bus"
	"github.com/TechSanzo/chaturbate/pkg/log"
)

// Ledger moves credits between identities atomically.
type Ledger struct {
	db        *gorm.DB
	publisher bus.Publisher
	now       func() time.Time
}

// New creates a Ledger. The publisher may be nil in contexts that do
// not fan out (tests, offline settlement).
func New(db *gorm.DB, publisher bus.Publisher) *Ledger {
	return &Ledger{
		db:        db,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Transfer atomically debits the sender and credits the recipient by
// amount, records the Tip, and — when streamID is set — records a chat
// event of kind tip and bumps the stream's cumulative tips. Either all
// of those commit or none do.
//
// Concurrent transfers from one sender serialize against the balance
// through the guarded debit: the WHERE clause re-checks the balance at
// write time, so two transfers racing on a stale read cannot both pass.
// An insufficient balance is a ConflictError, never retried here.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount int64, streamID, note string) (*domain.Tip, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if fromID == toID {
		return nil, domain.NewValidationError("recipient", "must differ from sender")
	}

	tip := &domain.Tip{
		ID:              uuid.New().String(),
		FromUserID:      fromID,
		ToBroadcasterID: toID,
		StreamID:        streamID,
		Amount:          amount,
		Message:         note,
		Timestamp:       l.now(),
	}

	var echo *domain.Message

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Guarded debit: zero rows means the sender is missing or the
		// balance no longer covers the amount.
		debit := tx.Model(&domain.UserModel{}).
			Where("id = ? AND credits >= ?", fromID, amount).
			UpdateColumn("credits", gorm.Expr("credits - ?", amount))
		if debit.Error != nil {
			return debit.Error
		}
		if debit.RowsAffected == 0 {
			var sender domain.UserModel
			if err := tx.First(&sender, "id = ?", fromID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrUserNotFound
				}
				return err
			}
			return &domain.ConflictError{
				Resource: "credits",
				Reason:   fmt.Sprintf("balance %d below transfer amount %d", sender.Credits, amount),
			}
		}

		credit := tx.Model(&domain.UserModel{}).
			Where("id = ?", toID).
			UpdateColumn("credits", gorm.Expr("credits + ?", amount))
		if credit.Error != nil {
			return credit.Error
		}
		if credit.RowsAffected == 0 {
			return domain.ErrUserNotFound
		}

		if err := tx.Create(domain.TipToModel(tip)).Error; err != nil {
			return err
		}

		if streamID != "" {
			echo = &domain.Message{
				ID:        uuid.New().String(),
				StreamID:  streamID,
				UserID:    fromID,
				Content:   tipContent(amount, note),
				Kind:      domain.MessageKindTip,
				Timestamp: tip.Timestamp,
			}
			if err := tx.Create(domain.MessageToModel(echo)).Error; err != nil {
				return err
			}

			bump := tx.Model(&domain.StreamModel{}).
				Where("id = ?", streamID).
				UpdateColumn("total_tips", gorm.Expr("total_tips + ?", amount))
			if bump.Error != nil {
				return bump.Error
			}
			if bump.RowsAffected == 0 {
				return domain.ErrStreamNotFound
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	l.fanOut(ctx, tip, echo)
	return tip, nil
}

// fanOut publishes the committed transfer on the stream's channels.
// Fan-out happens after commit: a publish failure never unwinds the
// transfer, and the tip and its chat echo travel on distinct channels,
// so consumers must key off the tip id, not arrival order.
func (l *Ledger) fanOut(ctx context.Context, tip *domain.Tip, echo *domain.Message) {
	if l.publisher == nil || tip.StreamID == "" {
		return
	}
	logger := log.Ctx(ctx)

	ev, err := bus.NewEvent(tip.ID, bus.KindTipSent, tip.StreamID, tip)
	if err == nil {
		err = l.publisher.Publish(ctx, bus.TipsChannel(tip.StreamID), ev)
	}
	if err != nil {
		logger.Error().Err(err).Str(log.FieldTipID, tip.ID).Msg("failed to publish tip event")
	}

	if echo == nil {
		return
	}
	ev, err = bus.NewEvent(echo.ID, bus.KindMessageCreated, echo.StreamID, echo)
	if err == nil {
		err = l.publisher.Publish(ctx, bus.MessagesChannel(echo.StreamID), ev)
	}
	if err != nil {
		logger.Error().Err(err).Str(log.FieldMessageID, echo.ID).Msg("failed to publish tip chat echo")
	}
}

func tipContent(amount int64, note string) string {
	if note != "" {
		return fmt.Sprintf("tipped %d credits: %s", amount, note)
	}
	return fmt.Sprintf("tipped %d credits", amount)
}
