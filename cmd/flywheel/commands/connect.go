package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/loopworks/flywheel/internal/printer"
	"github.com/loopworks/flywheel/pkg/journal"
)

const defaultRedisURL = "redis://localhost:6379"

// resolveInstance picks the target instance: --name flag, then the
// FLYWHEEL_INSTANCE_NAME environment variable, then "default".
func resolveInstance() string {
	if instanceName != "" {
		return instanceName
	}
	if env := os.Getenv("FLYWHEEL_INSTANCE_NAME"); env != "" {
		return env
	}
	return "default"
}

// connectJournal opens a journal client against REDIS_URL and verifies
// connectivity. Callers must Close() the returned client.
func connectJournal(ctx context.Context) (*journal.Client, string, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = defaultRedisURL
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid REDIS_URL %q: %w", redisURL, err)
	}

	instance := resolveInstance()
	client, err := journal.NewClient(redisOpts, instance)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create journal client: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, "", printer.Error(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s for instance '%s'.", redisURL, instance),
			[]string{
				"Check that the optimizer's Redis is running",
				"Set REDIS_URL if it is not on localhost:6379",
			},
		)
	}

	return client, instance, nil
}

// shortID renders the first eight characters of a UUID for table output.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
