package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultInvalidationChannel carries authority invalidation messages.
const DefaultInvalidationChannel = "rbac.invalidate"

// Invalidator fans authority invalidations out to every process over Redis
// pub/sub.
type Invalidator struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewInvalidator constructs an Invalidator. An empty channel selects the default.
func NewInvalidator(client *redis.Client, channel string, logger *slog.Logger) *Invalidator {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{client: client, channel: channel, logger: logger}
}

// Publish broadcasts inv to all listeners.
func (i *Invalidator) Publish(ctx context.Context, inv Invalidation) error {
	if i == nil || i.client == nil {
		return errors.New("rbac: invalidator not configured")
	}
	if !inv.Valid() {
		return errors.New("rbac: empty invalidation")
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	if err := i.client.Publish(ctx, i.channel, payload).Err(); err != nil {
		return fmt.Errorf("rbac: publish invalidation: %w", err)
	}
	return nil
}

// Listen subscribes to the channel and applies each message to cache until ctx
// ends. It returns once the subscription is confirmed. Undecodable messages purge
// the whole cache.
func (i *Invalidator) Listen(ctx context.Context, cache *AuthorityCache) error {
	if i == nil || i.client == nil || cache == nil {
		return nil
	}
	pubsub := i.client.Subscribe(ctx, i.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("rbac: subscribe %s: %w", i.channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil || !inv.Valid() {
					i.logger.Warn("rbac invalidation payload rejected, purging", slog.String("payload", msg.Payload))
					inv = Invalidation{All: true}
				}
				inv.Apply(cache)
				i.logger.Debug("rbac cache invalidated",
					slog.Int64("principal_id", inv.PrincipalID),
					slog.Bool("all", inv.All),
				)
			}
		}
	}()
	return nil
}
