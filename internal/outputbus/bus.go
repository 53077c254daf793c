// Package outputbus folds run output published on redis into live rooms.
package outputbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/colearn-server/internal/core"
)

// Appender receives output lines for a room.
type Appender interface {
	AppendOutput(roomID, message string) error
}

// Payload is the JSON body the execution worker publishes. Plain-text
// payloads are accepted as the message itself.
type Payload struct {
	Message string `json:"message"`
}

// Bus subscribes to every output channel under a prefix.
type Bus struct {
	rdb    *redis.Client
	prefix string
	log    *zerolog.Logger
}

// Options configures the redis connection.
type Options struct {
	Addr   string
	DB     int
	Prefix string
}

// New connects to redis and verifies connectivity.
func New(ctx context.Context, opts Options, logger *zerolog.Logger) (*Bus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, prefix: opts.Prefix, log: logger}, nil
}

// Publish sends one output line for roomID.
func (b *Bus) Publish(ctx context.Context, roomID, message string) error {
	raw, err := json.Marshal(Payload{Message: message})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return b.rdb.Publish(ctx, Channel(b.prefix, roomID), raw).Err()
}

// Run delivers published output to sink until ctx is cancelled.
func (b *Bus) Run(ctx context.Context, sink Appender) error {
	pubsub := b.rdb.PSubscribe(ctx, Channel(b.prefix, "*"))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", b.prefix, err)
	}
	b.log.Info().Str("pattern", Channel(b.prefix, "*")).Msg("output bus subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(sink, msg.Channel, msg.Payload)
		}
	}
}

func (b *Bus) deliver(sink Appender, channel, payload string) {
	roomID, ok := RoomFromChannel(b.prefix, channel)
	if !ok {
		b.log.Debug().Str("channel", channel).Msg("ignoring output on malformed channel")
		return
	}

	err := sink.AppendOutput(roomID, DecodePayload(payload))
	switch {
	case errors.Is(err, core.ErrRoomNotFound):
		b.log.Debug().Str("room_id", roomID).Msg("output for a room that is gone")
	case err != nil:
		b.log.Warn().Err(err).Str("room_id", roomID).Msg("failed to append output")
	}
}

// Close shuts down the redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Channel names the pub/sub channel for roomID.
func Channel(prefix, roomID string) string {
	return prefix + roomID
}

// RoomFromChannel extracts the room id from a channel name.
func RoomFromChannel(prefix, channel string) (string, bool) {
	roomID, ok := strings.CutPrefix(channel, prefix)
	if !ok || roomID == "" {
		return "", false
	}
	return roomID, true
}

// DecodePayload returns the output line carried by payload.
func DecodePayload(payload string) string {
	var p Payload
	if err := json.Unmarshal([]byte(payload), &p); err == nil && p.Message != "" {
		return p.Message
	}
	return payload
}
