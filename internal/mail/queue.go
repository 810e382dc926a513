// Package mail queues outbound account emails in Redis so request handlers
// never wait on the mail provider.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/authemail/internal/services"
	pkglogger "github.com/BradenHooton/authemail/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list holding pending jobs
const QueueKey = "authemail:mail:queue"

// DefaultMaxQueueSize caps the list while the provider is unavailable. 0 means unlimited.
const DefaultMaxQueueSize int64 = 1000

// popTimeout bounds each BLPOP so the worker notices shutdown
const popTimeout = 2 * time.Second

var ErrQueueFull = errors.New("mail queue full")

// Job is the JSON payload stored on the queue
type Job struct {
	Template  services.TemplateID `json:"template"`
	Recipient string              `json:"recipient"`
	Data      map[string]string   `json:"data"`
	QueuedAt  time.Time           `json:"queued_at"`
}

// QueuedMailer implements services.Mailer by pushing jobs onto a capped Redis list.
// Run drains the list into the inner Mailer.
type QueuedMailer struct {
	inner   services.Mailer
	rdb     redis.UniversalClient
	maxSize int64
	logger  *slog.Logger
}

func NewQueuedMailer(inner services.Mailer, rdb redis.UniversalClient, maxSize int64, logger *slog.Logger) *QueuedMailer {
	return &QueuedMailer{inner: inner, rdb: rdb, maxSize: maxSize, logger: logger}
}

// enqueueScript pushes ARGV[2] onto KEYS[1] unless the list already holds ARGV[1] items.
// Returns 1 when queued, 0 when full.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

func (q *QueuedMailer) Send(ctx context.Context, template services.TemplateID, data map[string]string, recipient string) error {
	payload, err := json.Marshal(Job{
		Template:  template,
		Recipient: recipient,
		Data:      data,
		QueuedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal mail job: %w", err)
	}

	ok, err := enqueueScript.Run(ctx, q.rdb, []string{QueueKey}, q.maxSize, payload).Int64()
	if err != nil {
		return fmt.Errorf("enqueue mail job: %w", err)
	}
	if ok == 0 {
		return ErrQueueFull
	}
	return nil
}

// Len reports how many jobs are waiting
func (q *QueuedMailer) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, QueueKey).Result()
}

// Run delivers queued jobs until ctx is cancelled. Failed sends are logged and dropped.
func (q *QueuedMailer) Run(ctx context.Context) {
	q.logger.Info("mail queue worker started")
	for {
		res, err := q.rdb.BLPop(ctx, popTimeout, QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				q.logger.Info("mail queue worker stopped")
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			q.logger.Error("mail queue pop failed", slog.Any("error", err))
			// avoid spinning while redis is unreachable
			select {
			case <-ctx.Done():
				return
			case <-time.After(popTimeout):
			}
			continue
		}

		// res[0] is the key, res[1] the payload
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.logger.Error("mail queue: bad job payload", slog.Any("error", err))
			continue
		}
		q.deliver(ctx, job)
	}
}

func (q *QueuedMailer) deliver(ctx context.Context, job Job) {
	if err := q.inner.Send(ctx, job.Template, job.Data, job.Recipient); err != nil {
		q.logger.Error("mail queue: send failed",
			slog.String("template", string(job.Template)),
			slog.String("to", pkglogger.SanitizedEmail(job.Recipient)),
			slog.Any("error", err))
	}
}
