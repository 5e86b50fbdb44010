package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/layered-backend/internal/platform/envutil"
	"github.com/yungbote/layered-backend/internal/platform/logger"
)

const (
	EventProgress  = "progress"
	EventFailed    = "failed"
	EventCompleted = "completed"
)

// ProjectEvent is the payload published on a project's channel.
type ProjectEvent struct {
	ProjectID string    `json:"project_id"`
	JobID     string    `json:"job_id,omitempty"`
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type ProjectBus interface {
	Publish(ctx context.Context, ev ProjectEvent) error
	// Subscribe forwards events for projectID to onMsg until ctx ends.
	Subscribe(ctx context.Context, projectID string, onMsg func(ev ProjectEvent)) error
	Client() *goredis.Client
	Close() error
}

type projectBus struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

func Channel(prefix, projectID string) string {
	return prefix + ":" + projectID
}

// NewProjectBus dials REDIS_ADDR and verifies the connection.
func NewProjectBus(log *logger.Logger) (ProjectBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", ""),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewProjectBusFromClient(log, rdb, envutil.String("REDIS_CHANNEL_PREFIX", "project")), nil
}

func NewProjectBusFromClient(log *logger.Logger, rdb *goredis.Client, prefix string) ProjectBus {
	if strings.TrimSpace(prefix) == "" {
		prefix = "project"
	}
	return &projectBus{
		log:    log.With("service", "RedisProjectBus"),
		rdb:    rdb,
		prefix: prefix,
	}
}

func (b *projectBus) Client() *goredis.Client { return b.rdb }

func (b *projectBus) Publish(ctx context.Context, ev ProjectEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis project bus not initialized")
	}
	if ev.ProjectID == "" {
		return fmt.Errorf("project id required")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Channel(b.prefix, ev.ProjectID), raw).Err()
}

func (b *projectBus) Subscribe(ctx context.Context, projectID string, onMsg func(ev ProjectEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis project bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, Channel(b.prefix, projectID))
	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev ProjectEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad redis project payload", "error", err)
					continue
				}
				onMsg(ev)
			}
		}
	}()
	return nil
}

func (b *projectBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
