package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"listing_feed/internal/domain"
)

// RedisLog reads and appends to a single Redis stream.
type RedisLog struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

type RedisConfig struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout time.Duration
	Stream      string
}

func NewRedisLog(cfg RedisConfig, logger *slog.Logger) *RedisLog {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		PoolTimeout: cfg.PoolTimeout,
	})
	return NewRedisLogFromClient(client, cfg.Stream, logger)
}

func NewRedisLogFromClient(client *redis.Client, stream string, logger *slog.Logger) *RedisLog {
	return &RedisLog{
		client: client,
		stream: stream,
		logger: logger.With("stream", stream),
	}
}

func (l *RedisLog) Stream() string {
	return l.stream
}

func (l *RedisLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLog) Read(ctx context.Context, after string, count int64, block time.Duration) ([]domain.LogEntry, error) {
	streams, err := l.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{l.stream, after},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoEntries
	}
	if err != nil {
		return nil, fmt.Errorf("xread %s: %w", l.stream, err)
	}

	var entries []domain.LogEntry
	for _, s := range streams {
		for _, msg := range s.Messages {
			entries = append(entries, decodeMessage(msg))
		}
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	return entries, nil
}

func (l *RedisLog) LastID(ctx context.Context) (string, error) {
	msgs, err := l.client.XRevRangeN(ctx, l.stream, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("xrevrange %s: %w", l.stream, err)
	}
	if len(msgs) == 0 {
		return CursorStart, nil
	}
	return msgs[0].ID, nil
}

// Append adds an entry. Non-string values are JSON encoded, matching what
// the scraper writes.
func (l *RedisLog) Append(ctx context.Context, values map[string]any) (string, error) {
	fields := make(map[string]any, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode field %s: %w", k, err)
		}
		fields[k] = string(b)
	}

	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", l.stream, err)
	}

	l.logger.Debug("appended entry", "id", id)
	return id, nil
}

func (l *RedisLog) Close() error {
	return l.client.Close()
}

func decodeMessage(msg redis.XMessage) domain.LogEntry {
	fields := make(map[string]domain.Field, len(msg.Values))
	for k, v := range msg.Values {
		raw, ok := v.(string)
		if !ok {
			raw = fmt.Sprint(v)
		}
		fields[k] = domain.DecodeField(raw)
	}
	return domain.LogEntry{ID: msg.ID, Fields: fields}
}
