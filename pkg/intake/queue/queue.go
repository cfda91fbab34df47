// Package queue consumes alert messages from a Redis list and turns them
// into run trigger requests.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/phalanx-soar/phalanx/pkg/protocol"
)

const (
	popTimeout     = 1 * time.Second
	connectTimeout = 5 * time.Second
	errorBackoff   = 1 * time.Second
)

// Config connects the source to one Redis list.
type Config struct {
	Addr     string
	Password string
	DB       int
	Queue    string
}

// Source blocks on the configured list and emits one trigger request per
// well-formed message. Malformed messages are logged and dropped; the queue
// is an intake boundary, not a dead-letter store.
type Source struct {
	cfg      Config
	client   redis.UniversalClient
	callback protocol.TriggerCallback
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewSource(logger *slog.Logger, cfg Config) (*Source, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	source := &Source{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		logger: logger.With("module", "queue_intake", "queue", cfg.Queue),
	}

	if err := source.Validate(); err != nil {
		return nil, err
	}

	return source, nil
}

func (s *Source) Validate() error {
	if s.cfg.Queue == "" {
		return errors.New("queue intake requires a queue name")
	}

	return nil
}

func (s *Source) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	s.logger.InfoContext(ctx, "Starting queue intake")
	s.callback = callback

	s.client = redis.NewClient(&redis.Options{
		Addr:     s.cfg.Addr,
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return errors.Join(errors.New("failed to connect to redis"), err)
	}

	s.logger.InfoContext(ctx, "Connected to Redis", "addr", s.cfg.Addr, "db", s.cfg.DB)

	s.wg.Add(1)

	go s.consume(ctx)

	return nil
}

func (s *Source) consume(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			s.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			return
		default:
			if err := s.processMessage(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Error processing queue message", "error", err)
				time.Sleep(errorBackoff)
			}
		}
	}
}

func (s *Source) processMessage(ctx context.Context) error {
	result, err := s.client.BLPop(ctx, popTimeout, s.cfg.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	}

	if len(result) < 2 {
		return nil
	}

	message := result[1]

	var req protocol.TriggerRequest
	if err := json.Unmarshal([]byte(message), &req); err != nil {
		s.logger.WarnContext(ctx, "Dropping malformed queue message", "error", err)

		return nil
	}

	if req.PlaybookID == "" {
		s.logger.WarnContext(ctx, "Dropping queue message without playbook_id")

		return nil
	}

	if err := s.callback(ctx, req); err != nil {
		s.logger.ErrorContext(ctx, "Trigger callback failed",
			"playbook_id", req.PlaybookID, "error", err)
	}

	return nil
}

func (s *Source) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping queue intake")

	close(s.stopCh)
	s.wg.Wait()

	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
