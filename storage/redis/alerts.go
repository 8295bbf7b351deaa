package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core/alert"
)

// AlertPublisher appends every created alert to a capped Redis stream for downstream consumers.
type AlertPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewAlertPublisher(client *redis.Client, stream string, maxLen int64) *AlertPublisher {
	return &AlertPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish is an alert.Listener.
func (p *AlertPublisher) Publish(ctx context.Context, a alert.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "encoding alert")
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"alert_id":  a.ID,
			"house_id":  a.HouseID,
			"type":      a.Type,
			"severity":  a.Severity,
			"data":      string(data),
			"timestamp": a.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return errors.Wrap(err, "publishing alert")
	}
	return nil
}
