package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hassanrakib/zitbo-server/internal/domain"
	"github.com/hassanrakib/zitbo-server/internal/metrics"
	redisclient "github.com/hassanrakib/zitbo-server/internal/redis"
)

// changeEvent is the push frame delivered to sibling connections.
type changeEvent struct {
	Event string        `json:"event"`
	Data  changePayload `json:"data"`
}

type changePayload struct {
	DayIndex     int    `json:"dayIndex"`
	ActiveTaskID string `json:"activeTaskId"`
}

// Listener subscribes to the Redis change channel and routes every
// notice to the local connections of its user. Notices published on
// any instance reach every instance this way, including the one that
// published them.
type Listener struct {
	redis *goredis.Client
	hub   *Hub
}

func NewListener(redis *goredis.Client, hub *Hub) *Listener {
	return &Listener{redis: redis, hub: hub}
}

// Start begins listening for change notices. Blocks until ctx is
// cancelled. go-redis resubscribes internally after connection loss.
func (l *Listener) Start(ctx context.Context) {
	pubsub := l.redis.Subscribe(ctx, redisclient.ChangeChannel)
	defer func() {
		_ = pubsub.Close()
	}()

	metrics.PubSubSubscriptionActive.Set(1)
	defer metrics.PubSubSubscriptionActive.Set(0)

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			l.handleNotice(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

// handleNotice fans a single notice out to the user's local sibling
// connections, skipping the device that caused the change.
func (l *Listener) handleNotice(payload string) {
	received := time.Now()

	var notice domain.ChangeNotice
	if err := json.Unmarshal([]byte(payload), &notice); err != nil {
		slog.Warn("Invalid change notice on pub/sub channel",
			"payload", payload,
			"error", err)
		return
	}

	data, err := json.Marshal(changeEvent{
		Event: "tasks:change",
		Data: changePayload{
			DayIndex:     notice.DayIndex,
			ActiveTaskID: notice.ActiveTaskID,
		},
	})
	if err != nil {
		slog.Error("Failed to marshal change event", "error", err)
		return
	}

	l.hub.LocalBroadcast(notice.Username, data, notice.SenderConnID)

	metrics.NoticesDelivered.Inc()
	metrics.PubSubMessageLatency.Observe(time.Since(received).Seconds())

	slog.Debug("Change notice fanned out",
		"username", notice.Username,
		"day_index", notice.DayIndex,
		"active_task_id", notice.ActiveTaskID,
	)
}
