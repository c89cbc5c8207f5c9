// Package audit emits structured records for the actions that move
// money or change account state. Audit records go to the regular log
// stream under a fixed marker so they can be filtered downstream.
package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/TechSanzo/chaturbate/pkg/log"
)

// Action names for audit records.
const (
	ActionSignUp      = "auth.signup"
	ActionSignIn      = "auth.signin"
	ActionSignOut     = "auth.signout"
	ActionTip         = "credits.tip"
	ActionShowStart   = "show.start"
	ActionShowSettle  = "show.settle"
	ActionShowCancel  = "show.cancel"
	ActionStreamStart = "stream.start"
	ActionStreamEnd   = "stream.end"
)

// Entry is one audit record under construction.
type Entry struct {
	ev *zerolog.Event
}

// Record starts an audit entry for an action performed by a user.
func Record(ctx context.Context, action, userID string) *Entry {
	ev := log.Ctx(ctx).Info().
		Str("audit", action).
		Str(log.FieldUserID, userID)
	return &Entry{ev: ev}
}

// Stream attaches the stream involved.
func (e *Entry) Stream(id string) *Entry {
	e.ev = e.ev.Str(log.FieldStreamID, id)
	return e
}

// Amount attaches a credit amount.
func (e *Entry) Amount(n int64) *Entry {
	e.ev = e.ev.Int64(log.FieldAmount, n)
	return e
}

// Target attaches the counterparty of the action.
func (e *Entry) Target(userID string) *Entry {
	e.ev = e.ev.Str("target_user_id", userID)
	return e
}

// Show attaches the private show involved.
func (e *Entry) Show(id string) *Entry {
	e.ev = e.ev.Str(log.FieldShowID, id)
	return e
}

// Err attaches a failure; the record is still written.
func (e *Entry) Err(err error) *Entry {
	e.ev = e.ev.Err(err)
	return e
}

// Write emits the record.
func (e *Entry) Write() {
	e.ev.Msg("audit")
}
