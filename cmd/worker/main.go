package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geoattend/internal/attendance"
	"geoattend/internal/config"
	"geoattend/internal/device"
	"geoattend/internal/metrics"
	"geoattend/internal/notifier"
	"geoattend/internal/queue"
	"geoattend/internal/roster"
	"geoattend/internal/session"
	"geoattend/internal/store"
)

// Worker consumes queue messages, runs absence sweeps for closed
// sessions, pushes critical alerts to the webhook, and periodically
// expires stale sessions.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "geoattend:events")
	}

	sessions := session.NewService(session.NewPostgresRepository(db.Client), cfg.SessionTimeout, cfg.TokenTTL, cfg.DefaultRadiusMeters)
	people := roster.NewService(roster.NewPostgresRepository(db.Client))
	devices := device.NewRegistry(device.NewPostgresRepository(db.Client), device.NewPostgresAlertRepository(db.Client), cfg.SimultaneousWindow)
	att := attendance.NewService(sessions, people, devices, attendance.NewPostgresRepository(db.Client))

	alerts := notifier.New(cfg.AlertWebhookURL, cfg.AlertSkip)
	if !cfg.AlertSkip {
		if err := alerts.Health(ctx); err != nil {
			log.Printf("WARNING: alert webhook not available: %v", err)
			log.Println("Worker will retry delivery when alerts arrive")
		} else {
			log.Println("Alert webhook connected")
		}
	}

	// Expiry sweep runs only when a timeout is configured.
	if cfg.SessionTimeout > 0 {
		go func() {
			ticker := time.NewTicker(cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					closed, err := sessions.CloseExpired(ctx)
					if err != nil {
						log.Printf("expiry sweep failed: %v", err)
						continue
					}
					for _, id := range closed {
						metrics.SessionsClosedTotal.WithLabelValues("expiry").Inc()
						log.Printf("session %s expired after %s", id, cfg.SessionTimeout)
						if err := q.Publish(ctx, queue.Message{Type: queue.TypeSessionClosed, Body: []byte(id)}); err != nil {
							log.Printf("queue publish failed: %v", err)
						}
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		switch msg.Type {
		case queue.TypeSessionClosed:
			id := string(msg.Body)
			result, err := att.ReconcileAbsences(ctx, id)
			if err != nil {
				log.Printf("absence sweep for session %s failed: %v", id, err)
				continue
			}
			log.Printf("session %s reconciled, %d marked absent", id, result.AbsentMarked)

		case queue.TypeCriticalAlert:
			var alert device.Alert
			if err := json.Unmarshal(msg.Body, &alert); err != nil {
				log.Printf("bad alert payload: %v", err)
				continue
			}
			if err := alerts.PushAlert(ctx, alert); err != nil {
				log.Printf("alert %s delivery failed: %v", alert.ID, err)
				continue
			}
			log.Printf("alert %s (%s) delivered", alert.ID, alert.Type)
		}
	}

	log.Println("worker stopped")
}
