package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hassanrakib/zitbo-server/internal/domain"
	"github.com/hassanrakib/zitbo-server/internal/metrics"
)

// ChangeChannel is the Pub/Sub channel carrying change notices between
// instances. Every instance subscribes once and fans notices out to its
// local connections.
const ChangeChannel = "tasks:change"

// Notifier implements domain.ChangePublisher over Redis Pub/Sub.
// Delivery is fire and forget: a dropped notice only delays a sibling
// device until its next read, because clients re-fetch instead of
// trusting the payload.
type Notifier struct {
	rdb *goredis.Client
}

func NewNotifier(rdb *goredis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

var _ domain.ChangePublisher = (*Notifier)(nil)

func (n *Notifier) Publish(ctx context.Context, notice domain.ChangeNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal change notice: %w", err)
	}

	if err := n.rdb.Publish(ctx, ChangeChannel, data).Err(); err != nil {
		metrics.NoticesPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish change notice: %w", err)
	}

	metrics.NoticesPublished.WithLabelValues("success").Inc()
	return nil
}
