// Package redis provides a Redis-backed PayerLedger. Lifetime spend is kept
// as a fixed-point integer hash field so the add is a single atomic HINCRBY
// inside a script; concurrent sessions under one universal cap therefore
// always observe a serialized total.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nanobill/nanobill/internal/config"
	"github.com/nanobill/nanobill/internal/money"
	"github.com/nanobill/nanobill/internal/storage"
)

// amountScale is the fixed-point scale for amounts stored in Redis.
// 10^8 keeps sub-cent precision while staying well inside Lua's exact
// integer range.
const amountScale = 8

// Ledger is a Redis-backed PayerLedger.
type Ledger struct {
	client *redis.Client
}

// Open creates a Redis-backed ledger from configuration.
func Open(cfg config.RedisConfig) (*Ledger, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Ledger{client: client}, nil
}

// Close closes the Redis connection.
func (l *Ledger) Close() error {
	return l.client.Close()
}

func payerKey(payerID string) string {
	return fmt.Sprintf("nanobill:payer:%s", payerID)
}

// LifetimeSpent returns the cumulative recorded spend for a payer.
func (l *Ledger) LifetimeSpent(ctx context.Context, payerID string) (money.Amount, error) {
	val, err := l.client.HGet(ctx, payerKey(payerID), "lifetime_spent").Result()
	if err == redis.Nil {
		return money.Zero(), nil
	}
	if err != nil {
		return money.Amount{}, err
	}

	scaled, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return money.Amount{}, fmt.Errorf("corrupt lifetime_spent for %s: %w", payerID, err)
	}
	return money.FromScaledInt64(scaled, amountScale), nil
}

// AddSpend atomically adds delta to the payer's lifetime spend and returns
// the new total.
func (l *Ledger) AddSpend(ctx context.Context, payerID string, delta money.Amount) (money.Amount, error) {
	scaledDelta, err := delta.ScaledInt64(amountScale)
	if err != nil {
		return money.Amount{}, err
	}

	script := redis.NewScript(addSpendScript)
	keys := []string{payerKey(payerID)}
	args := []interface{}{payerID, scaledDelta, time.Now().UTC().Format(time.RFC3339Nano)}

	total, err := script.Run(ctx, l.client, keys, args...).Int64()
	if err != nil {
		return money.Amount{}, err
	}
	return money.FromScaledInt64(total, amountScale), nil
}

// UniversalCap returns the payer's lifetime cap, nil when unset.
func (l *Ledger) UniversalCap(ctx context.Context, payerID string) (*money.Amount, error) {
	val, err := l.client.HGet(ctx, payerKey(payerID), "universal_cap").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	scaled, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt universal_cap for %s: %w", payerID, err)
	}
	capValue := money.FromScaledInt64(scaled, amountScale)
	return &capValue, nil
}

// SetUniversalCap sets or replaces the payer's lifetime cap.
func (l *Ledger) SetUniversalCap(ctx context.Context, payerID string, capAmount money.Amount) error {
	scaled, err := capAmount.ScaledInt64(amountScale)
	if err != nil {
		return err
	}

	script := redis.NewScript(setUniversalCapScript)
	keys := []string{payerKey(payerID)}
	args := []interface{}{payerID, scaled, time.Now().UTC().Format(time.RFC3339Nano)}

	return script.Run(ctx, l.client, keys, args...).Err()
}

// ResetPayer clears the payer's cap and spend history.
func (l *Ledger) ResetPayer(ctx context.Context, payerID string) error {
	return l.client.Del(ctx, payerKey(payerID)).Err()
}

var _ storage.PayerLedger = (*Ledger)(nil)
