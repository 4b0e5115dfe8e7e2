// Command registry-sweep reclaims orphaned session registry entries:
// room keys whose live-connection counter is zero or missing. The
// server runs the same sweep on a timer; this tool exists for one-off
// cleanup against a live Redis, with a dry-run mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix  = "room:"
	connsKeyPrefix = "conns:"
	scanCount      = 100
)

func main() {
	var (
		redisURL = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		dryRun   = flag.Bool("dry-run", false, "Dry run mode (don't write to Redis)")
		verbose  = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *redisURL == "" {
		log.Fatal("Redis URL required (--redis or REDIS_URL env)")
	}

	// Configure logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	// Connect to Redis
	opts, err := goredis.ParseURL(*redisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	rdb := goredis.NewClient(opts)
	defer rdb.Close()

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	slog.Info("Connected to Redis", "url", sanitizeURL(*redisURL))

	if err := sweepOrphanedRooms(ctx, rdb, *dryRun); err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}

	slog.Info("Sweep complete")
}

func sweepOrphanedRooms(ctx context.Context, rdb *goredis.Client, dryRun bool) error {
	start := time.Now()
	var cursor uint64
	var scanned, reclaimed, kept int

	slog.Info("Starting sweep", "dry_run", dryRun)

	for {
		keys, nextCursor, err := rdb.Scan(ctx, cursor, roomKeyPrefix+"*", scanCount).Result()
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		for _, key := range keys {
			scanned++
			username := strings.TrimPrefix(key, roomKeyPrefix)

			count, err := rdb.Get(ctx, connsKeyPrefix+username).Int64()
			if err != nil && err != goredis.Nil {
				return fmt.Errorf("failed to read connection count for %s: %w", username, err)
			}

			// A missing counter reads as zero: no live connection has
			// reported in, so the room is orphaned.
			if count > 0 {
				slog.Debug("Room still has connections", "username", username, "count", count)
				kept++
				continue
			}

			if !dryRun {
				if err := rdb.Del(ctx, key, connsKeyPrefix+username).Err(); err != nil {
					return fmt.Errorf("failed to delete room for %s: %w", username, err)
				}
			}

			slog.Debug("Reclaimed orphaned room", "username", username)
			reclaimed++
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	slog.Info("Sweep summary",
		"scanned", scanned,
		"reclaimed", reclaimed,
		"kept", kept,
		"duration_ms", time.Since(start).Milliseconds())

	return nil
}

func sanitizeURL(url string) string {
	// Hide password in Redis URL for logging
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			credParts := strings.Split(parts[0], ":")
			if len(credParts) >= 2 {
				return credParts[0] + ":***@" + parts[1]
			}
		}
	}
	return url
}
