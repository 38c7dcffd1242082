package redisquote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"marketdata/internal/logger"
	"marketdata/internal/provider"
	"marketdata/internal/subscription"
)

// Client is the part of *redis.Client the publisher writes through.
type Client interface {
	Set(key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(channel string, message interface{}) *redis.IntCmd
}

type Config struct {
	// KeyPrefix is prepended to the canonical symbol, default "quote:".
	KeyPrefix string
	// TTL bounds how long a quote stays readable once polling stops.
	TTL time.Duration
	// Channel, when set, also receives every update as one JSON message.
	Channel string
}

// Publisher stores the latest quote per symbol so other services can read
// prices without calling this one.
type Publisher struct {
	cfg Config
	cli Client
}

func New(cfg Config, cli Client) *Publisher {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "quote:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	return &Publisher{cfg: cfg, cli: cli}
}

// Dial connects and pings. An unreachable server is an error so callers can
// run without the sink.
func Dial(addr, password string, db int) (*redis.Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pong, err := cli.Ping().Result()
	if err != nil || pong != "PONG" {
		_ = cli.Close()
		return nil, fmt.Errorf("redis %s unavailable: %w", addr, err)
	}
	return cli, nil
}

// Key returns the key a quote for symbol is stored under.
func (p *Publisher) Key(symbol string) string { return p.cfg.KeyPrefix + symbol }

// Write stores each quote of u. Failed writes are collected, the rest still go out.
func (p *Publisher) Write(u subscription.Update) error {
	var errs []error
	for _, q := range u.Quotes {
		if err := p.set(q); err != nil {
			errs = append(errs, err)
		}
	}
	if p.cfg.Channel != "" {
		b, err := json.Marshal(u)
		if err == nil {
			err = p.cli.Publish(p.cfg.Channel, b).Err()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", p.cfg.Channel, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) set(q provider.Quote) error {
	b, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", q.Symbol, err)
	}
	if err := p.cli.Set(p.Key(q.Symbol), b, p.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", p.Key(q.Symbol), err)
	}
	return nil
}

// Listener adapts Write to a subscription listener. Write failures are logged
// and dropped; the next tick overwrites the keys anyway.
func (p *Publisher) Listener() subscription.Listener {
	return func(u subscription.Update) {
		if err := p.Write(u); err != nil {
			logger.ErrorWithErr(context.Background(), "redis publish failed", err, "key", u.Key)
			return
		}
		logger.Debug(context.Background(), "quotes published", "key", u.Key, "count", len(u.Quotes))
	}
}
