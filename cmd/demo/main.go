// Command demo runs a tracker instance against a collector and generates a
// steady stream of events, exercising sessions, identity changes, and the
// upload pipeline end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/user/event-tracker/internal/pkg/config"
	"github.com/user/event-tracker/internal/pkg/logger"
	"github.com/user/event-tracker/tracker"
)

var eventTypes = []string{
	"screen_viewed",
	"button_clicked",
	"item_added_to_cart",
	"search_performed",
	"checkout_started",
}

func main() {
	cfg, err := config.LoadDemo()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)

	client, err := tracker.NewClient(tracker.Config{
		ServerURL:          cfg.CollectorURL,
		Username:           cfg.AuthUsername,
		Password:           cfg.AuthPassword,
		DatabasePath:       cfg.DatabasePath,
		UserID:             "demo-" + uuid.NewString()[:8],
		TrackSessionEvents: true,
		FlushOnClose:       true,
		Logger:             log,
		Device: tracker.StaticSnapshotProvider{Info: tracker.DeviceSnapshot{
			VersionName: "1.0.0-demo",
			Brand:       "demo",
			Model:       "generator",
		}},
	})
	if err != nil {
		log.Error("failed to create tracker", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	log.Info("generating events",
		"collector", cfg.CollectorURL,
		"rate_per_sec", cfg.EventRate,
		"duration", cfg.Duration,
		"device_id", client.DeviceID(),
	)

	client.EnterForeground(time.Now())

	limiter := rate.NewLimiter(rate.Limit(cfg.EventRate), 1)
	var sent int
	for {
		if err := limiter.Wait(ctx); err != nil {
			break // context expired or cancelled
		}

		eventType := eventTypes[rand.Intn(len(eventTypes))]
		err := client.LogEvent(eventType, &tracker.EventOptions{
			EventProperties: map[string]any{
				"screen": fmt.Sprintf("screen_%d", rand.Intn(5)),
				"index":  sent,
			},
		})
		if err != nil {
			log.Error("failed to log event", "error", err)
			continue
		}
		sent++
	}

	client.ExitForeground(time.Now())
	log.Info("demo finished", "events_logged", sent)
}
