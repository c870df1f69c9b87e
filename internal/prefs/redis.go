package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Redis keeps preferences in a hash and announces changed keys on a pub/sub
// channel, so every process sharing the hash hears about every change.
type Redis struct {
	client  *redis.Client
	hash    string
	channel string
	log     *slog.Logger

	subs   subscribers
	pubsub *redis.PubSub
	done   chan struct{}
}

func ConnectRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedis uses the hash "<namespace>:prefs" and the channel
// "<namespace>:prefs:changed". It returns once the change subscription is
// live.
func NewRedis(ctx context.Context, client *redis.Client, namespace string) (*Redis, error) {
	if namespace == "" {
		namespace = "catbike"
	}
	r := &Redis{
		client:  client,
		hash:    namespace + ":prefs",
		channel: namespace + ":prefs:changed",
		log:     slog.Default().With("component", "prefs", "hash", namespace+":prefs"),
		done:    make(chan struct{}),
	}
	r.pubsub = client.Subscribe(ctx, r.channel)
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %w", ErrUnavailable, r.channel, err)
	}
	go r.listen()
	return r, nil
}

func (r *Redis) listen() {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		r.subs.notify(msg.Payload)
	}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %w", ErrUnavailable, key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	before, err := r.client.HMGet(ctx, r.hash, keys...).Result()
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrUnavailable, r.hash, err)
	}
	var changed []string
	fields := make(map[string]interface{}, len(values))
	for i, k := range keys {
		fields[k] = values[k]
		if s, ok := before[i].(string); !ok || s != values[k] {
			changed = append(changed, k)
		}
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.hash, fields)
		for _, k := range changed {
			p.Publish(ctx, r.channel, k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrUnavailable, r.hash, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.client.HKeys(ctx, r.hash).Result()
	if err != nil {
		return fmt.Errorf("%w: list %s: %w", ErrUnavailable, r.hash, err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.hash)
		for _, k := range keys {
			p.Publish(ctx, r.channel, k)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: clear %s: %w", ErrUnavailable, r.hash, err)
	}
	return nil
}

func (r *Redis) Subscribe(fn func(key string)) func() {
	return r.subs.add(fn)
}

// Close stops listening for changes. The client stays open.
func (r *Redis) Close() error {
	err := r.pubsub.Close()
	<-r.done
	if err != nil {
		r.log.Warn("close subscription", "error", err)
	}
	return err
}
