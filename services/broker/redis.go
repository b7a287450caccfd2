// Package broker fans recorded violations out over a redis pub/sub channel.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/session"
)

const DefaultChannel = "proctor:violations"

type RedisBroker struct {
	client  redis.UniversalClient
	channel string
	logger  core.Logger
}

var _ session.Publisher = (*RedisBroker)(nil)

func NewRedisClient(conf core.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
}

func NewRedisBroker(client redis.UniversalClient, channel string, logger core.Logger) *RedisBroker {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroker{client: client, channel: channel, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, rec session.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "json.Marshal(violation)")
	}
	if err = b.client.Publish(ctx, b.channel, string(payload)).Err(); err != nil {
		return errors.Wrapf(err, "publishing to %s", b.channel)
	}
	return nil
}

// Listen calls fn for each violation published on the channel until ctx is done.
func (b *RedisBroker) Listen(ctx context.Context, fn func(session.Record)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrapf(err, "subscribing to %s", b.channel)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			rec, err := decode(msg.Payload)
			if err != nil {
				b.logger.Warn(fmt.Sprintf("broker.Listen: %v", err), err)
				continue
			}
			fn(rec)
		}
	}
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func decode(payload string) (session.Record, error) {
	var rec session.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return session.Record{}, errors.Wrap(err, "decoding violation")
	}
	return rec, nil
}
