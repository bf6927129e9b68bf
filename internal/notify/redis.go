package notify

import (
	"context"
	"encoding/json"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Redis publishes events as JSON on a pub/sub channel for out-of-process
// consumers. Publish failures are logged and dropped; signal delivery is best
// effort and never blocks store operations.
type Redis struct {
	rdb     *r.Client
	channel string
	log     *zap.Logger
}

func NewRedis(rdb *r.Client, channel string, log *zap.Logger) *Redis {
	return &Redis{rdb: rdb, channel: channel, log: log}
}

func (n *Redis) Notify(e Event) {
	e = Stamp(e)
	payload, err := json.Marshal(e)
	if err != nil {
		n.log.Warn("marshal event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.log.Warn("publish event", zap.String("event", string(e.Type)), zap.Error(err))
	}
}
