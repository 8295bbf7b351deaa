// Package redisstore keeps the session state and publishes alerts on Redis.
package redisstore

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/smarthomecloud/backend/core"
)

const keyPrefix = "smarthomecloud:"

func NewClient(conf *core.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
}

// Pinger adapts a client to the health check.
func Pinger(client *redis.Client) core.Pinger {
	return core.PingerFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}
