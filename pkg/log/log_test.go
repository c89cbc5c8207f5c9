package log

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestCtxChainsOnContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), logger)

	Ctx(ctx).Info().Str(FieldStreamID, "s1").Msg("context logger")

	out := buf.String()
	if !strings.Contains(out, "context logger") {
		t.Fatalf("context logger output missing message: %q", out)
	}
	if !strings.Contains(out, `"stream_id":"s1"`) {
		t.Errorf("context logger output missing field: %q", out)
	}
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	if got, want := Ctx(context.Background()), L(); got != want {
		t.Fatalf("bare context logger = %p, want global %p", got, want)
	}

	// Level methods chain directly off both accessors.
	L().Debug().Msg("global chain")
	Ctx(context.Background()).Debug().Msg("context chain")
}

func TestWithLoggerDoesNotAliasCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), logger)

	// Rebinding the caller's variable must not redirect the context copy.
	logger = zerolog.New(&bytes.Buffer{})
	_ = logger

	Ctx(ctx).Info().Msg("still here")
	if !strings.Contains(buf.String(), "still here") {
		t.Fatalf("context logger lost its writer: %q", buf.String())
	}
}
