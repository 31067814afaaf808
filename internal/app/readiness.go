// Package app wires application components and startup helpers.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/resume-analyzer/internal/adapter/httpserver"
	"github.com/fairyhunter13/resume-analyzer/internal/config"
)

// Pinger is any dependency with a context-aware health probe, such as a
// pgxpool.Pool or the redpanda publisher.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisPinger is the part of a go-redis client used for readiness.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// BuildReadinessChecks returns the probes for /readyz: db and redis always,
// kafka when a publisher is configured and tika when TIKA_URL is set.
func BuildReadinessChecks(cfg config.Config, pool Pinger, rdb RedisPinger, kafka Pinger) []httpserver.ReadinessCheck {
	checks := []httpserver.ReadinessCheck{
		{Name: "db", Check: func(ctx context.Context) error {
			if pool == nil {
				return fmt.Errorf("db not configured")
			}
			return pool.Ping(ctx)
		}},
		{Name: "redis", Check: func(ctx context.Context) error {
			if rdb == nil {
				return fmt.Errorf("redis not configured")
			}
			return rdb.Ping(ctx).Err()
		}},
	}
	if kafka != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "kafka", Check: kafka.Ping})
	}
	if u := strings.TrimRight(cfg.TikaURL, "/"); u != "" {
		client := &http.Client{Timeout: 2 * time.Second}
		checks = append(checks, httpserver.ReadinessCheck{Name: "tika", Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"/version", nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			return fmt.Errorf("tika status %d", resp.StatusCode)
		}})
	}
	return checks
}
