//go:build integration

package eventlog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type RedisIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcredis.RedisContainer
	client    *redis.Client
	logger    *slog.Logger
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := tcredis.Run(s.ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx)
	s.Require().NoError(err)

	opts, err := redis.ParseURL(connStr)
	s.Require().NoError(err)
	s.client = redis.NewClient(opts)
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *RedisIntegrationSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(s.ctx).Err())
}

func TestRedisIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RedisIntegrationSuite))
}

func (s *RedisIntegrationSuite) newLog(stream string) *RedisLog {
	return NewRedisLogFromClient(s.client, stream, s.logger)
}

func (s *RedisIntegrationSuite) TestLastID_EmptyStream() {
	id, err := s.newLog("empty").LastID(s.ctx)
	s.NoError(err)
	s.Equal(CursorStart, id)
}

func (s *RedisIntegrationSuite) TestAppendAndRead() {
	l := s.newLog("listing:events")

	id, err := l.Append(s.ctx, map[string]any{
		"operation":        "insert",
		"transaction_type": "buy",
		"listing_id":       "X1",
		"sale_price":       300000,
		"image_urls":       []string{"https://img/1.jpg"},
	})
	s.Require().NoError(err)

	entries, err := l.Read(s.ctx, CursorStart, 10, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(id, entries[0].ID)

	op, _ := entries[0].Fields["operation"].String()
	s.Equal("insert", op)
	price, ok := entries[0].Fields["sale_price"].Number()
	s.True(ok)
	s.Equal(float64(300000), price)
	urls, ok := entries[0].Fields["image_urls"].Strings()
	s.True(ok)
	s.Equal([]string{"https://img/1.jpg"}, urls)
}

func (s *RedisIntegrationSuite) TestRead_TimeoutReturnsNoEntries() {
	l := s.newLog("quiet")
	last, err := l.LastID(s.ctx)
	s.Require().NoError(err)

	start := time.Now()
	_, err = l.Read(s.ctx, last, 10, 200*time.Millisecond)
	s.ErrorIs(err, ErrNoEntries)
	s.GreaterOrEqual(time.Since(start), 150*time.Millisecond)
}

func (s *RedisIntegrationSuite) TestTailer_DeliversInOrder() {
	l := s.newLog("ordered")
	t := NewTailer(l, TailerConfig{Start: CursorNow, Count: 3, Block: 200 * time.Millisecond}, s.logger)

	batch, err := t.Next(s.ctx)
	s.Require().NoError(err)
	s.True(batch.Timeout)

	var want []string
	for i := 0; i < 7; i++ {
		id, err := l.Append(s.ctx, map[string]any{"n": i})
		s.Require().NoError(err)
		want = append(want, id)
	}

	var got []string
	for len(got) < len(want) {
		batch, err := t.Next(s.ctx)
		s.Require().NoError(err)
		for _, e := range batch.Entries {
			got = append(got, e.ID)
		}
	}
	s.Equal(want, got)
}

func (s *RedisIntegrationSuite) TestTailer_WrongTypeIsPermanent() {
	s.Require().NoError(s.client.Set(s.ctx, "not-a-stream", "x", 0).Err())
	t := NewTailer(s.newLog("not-a-stream"), TailerConfig{Start: CursorStart, Block: 100 * time.Millisecond}, s.logger)

	_, err := t.Next(s.ctx)
	s.Require().Error(err)
	var pe *PermanentError
	s.True(errors.As(err, &pe))
}
