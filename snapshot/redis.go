// Package snapshot caches the station's latest view in Redis so dashboards
// and agvctl sessions can read it without touching the state machine.
// A nil *Cache is valid and does nothing.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"linetrack/config"
	"linetrack/protocol"
	"linetrack/station"
)

// RecentLimit is how many transitions the cache keeps.
const RecentLimit = 50

type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and pings it. An empty address returns (nil, nil).
func New(ctx context.Context, cfg *config.RedisConfig) (*Cache, error) {
	if cfg.Address == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}
	return NewCache(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewCache wraps an existing client. ttl 0 keeps keys forever.
func NewCache(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "linetrack:"
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

func (c *Cache) reportKey(vehicleID string) string { return c.prefix + "vehicle:" + vehicleID + ":report" }
func (c *Cache) stationKey() string                { return c.prefix + "station:snapshot" }
func (c *Cache) transitionsKey() string            { return c.prefix + "station:transitions" }

func (c *Cache) SetReport(ctx context.Context, r protocol.VehicleReport) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.reportKey(r.VehicleID), data, c.ttl).Err()
}

// GetReport returns nil without error when nothing is cached.
func (c *Cache) GetReport(ctx context.Context, vehicleID string) (*protocol.VehicleReport, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, c.reportKey(vehicleID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r protocol.VehicleReport
	return &r, json.Unmarshal(data, &r)
}

func (c *Cache) SetStation(ctx context.Context, s station.Snapshot) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.stationKey(), data, c.ttl).Err()
}

func (c *Cache) GetStation(ctx context.Context) (*station.Snapshot, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, c.stationKey()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s station.Snapshot
	return &s, json.Unmarshal(data, &s)
}

// PushTransition prepends ev and trims the list to RecentLimit.
func (c *Cache) PushTransition(ctx context.Context, ev protocol.StationEvent) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := c.client.Pipeline()
	pipe.LPush(ctx, c.transitionsKey(), data)
	pipe.LTrim(ctx, c.transitionsKey(), 0, RecentLimit-1)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentTransitions returns up to n transitions, newest first.
func (c *Cache) RecentTransitions(ctx context.Context, n int) ([]protocol.StationEvent, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := c.client.LRange(ctx, c.transitionsKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	events := make([]protocol.StationEvent, 0, len(raw))
	for _, s := range raw {
		var ev protocol.StationEvent
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Clear removes the station keys and the report of vehicleID.
func (c *Cache) Clear(ctx context.Context, vehicleID string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, c.stationKey(), c.transitionsKey(), c.reportKey(vehicleID)).Err()
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
