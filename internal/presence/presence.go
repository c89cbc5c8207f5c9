// Package presence tracks who is watching which stream. Counts live in
// Redis so every process sees the same numbers; the stream rows mirror
// them for directory listings.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TechSanzo/chaturbate/internal/repository"
	"github.com/TechSanzo/chaturbate/pkg/log"
)

// Redis key patterns:
// presence:stream:{stream_id}:viewers  SET<user_id>    - viewers in stream
// presence:viewer:{user_id}            STRING<stream>  - viewer -> stream, TTL'd
func streamViewersKey(streamID string) string {
	return fmt.Sprintf("presence:stream:%s:viewers", streamID)
}

func viewerStreamKey(userID string) string {
	return fmt.Sprintf("presence:viewer:%s", userID)
}

// Tracker is the Redis-backed viewer registry. A viewer is in at most
// one stream; joining a second stream leaves the first. Membership is
// kept alive by heartbeats; a viewer that stops heartbeating falls out
// when its TTL key lapses and the next sweep reconciles the set.
type Tracker struct {
	client  *redis.Client
	streams repository.StreamRepository
	ttl     time.Duration
}

// NewTracker creates a presence tracker. ttl bounds how long a silent
// viewer stays counted.
func NewTracker(client *redis.Client, streams repository.StreamRepository, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Tracker{client: client, streams: streams, ttl: ttl}
}

// Join registers a viewer in a stream, leaving any previous stream
// first, and returns the stream's new viewer count.
func (t *Tracker) Join(ctx context.Context, streamID, userID string) (int, error) {
	prev, err := t.client.Get(ctx, viewerStreamKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	if prev != "" && prev != streamID {
		if _, err := t.Leave(ctx, prev, userID); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str(log.FieldUserID, userID).
				Str(log.FieldStreamID, prev).
				Msg("failed to leave previous stream")
		}
	}

	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, streamViewersKey(streamID), userID)
	pipe.Set(ctx, viewerStreamKey(userID), streamID, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return t.mirror(ctx, streamID)
}

// Leave removes a viewer from a stream and returns the new count.
func (t *Tracker) Leave(ctx context.Context, streamID, userID string) (int, error) {
	pipe := t.client.TxPipeline()
	pipe.SRem(ctx, streamViewersKey(streamID), userID)
	pipe.Del(ctx, viewerStreamKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return t.mirror(ctx, streamID)
}

// Heartbeat extends a viewer's membership TTL.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	ok, err := t.client.Expire(ctx, viewerStreamKey(userID), t.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return redis.Nil
	}
	return nil
}

// Count returns the current viewer count of a stream.
func (t *Tracker) Count(ctx context.Context, streamID string) (int, error) {
	n, err := t.client.SCard(ctx, streamViewersKey(streamID)).Result()
	return int(n), err
}

// Sweep reconciles a stream's viewer set against the TTL keys, dropping
// members whose heartbeat lapsed, and mirrors the result. Run it
// periodically for live streams.
func (t *Tracker) Sweep(ctx context.Context, streamID string) (int, error) {
	members, err := t.client.SMembers(ctx, streamViewersKey(streamID)).Result()
	if err != nil {
		return 0, err
	}

	for _, userID := range members {
		current, err := t.client.Get(ctx, viewerStreamKey(userID)).Result()
		if errors.Is(err, redis.Nil) || (err == nil && current != streamID) {
			if err := t.client.SRem(ctx, streamViewersKey(streamID), userID).Err(); err != nil {
				return 0, err
			}
			continue
		}
		if err != nil {
			return 0, err
		}
	}

	return t.mirror(ctx, streamID)
}

// Clear wipes a stream's presence, used when the stream ends.
func (t *Tracker) Clear(ctx context.Context, streamID string) error {
	members, err := t.client.SMembers(ctx, streamViewersKey(streamID)).Result()
	if err != nil {
		return err
	}

	pipe := t.client.TxPipeline()
	for _, userID := range members {
		pipe.Del(ctx, viewerStreamKey(userID))
	}
	pipe.Del(ctx, streamViewersKey(streamID))
	_, err = pipe.Exec(ctx)
	return err
}

// mirror writes the Redis count onto the stream row so directory reads
// need no Redis round-trip. Mirror failures keep the Redis count
// authoritative.
func (t *Tracker) mirror(ctx context.Context, streamID string) (int, error) {
	count, err := t.Count(ctx, streamID)
	if err != nil {
		return 0, err
	}

	if t.streams != nil {
		if err := t.streams.SetViewers(ctx, streamID, count); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldStreamID, streamID).Msg("failed to mirror viewer count")
		}
	}
	return count, nil
}
