// Package worker turns queued scan notifications into activity history.
package worker

import (
	"context"
	"log"

	"dormitory/internal/metrics"
	"dormitory/internal/queue"
)

// Recorder writes the activity entry for a stored scan; *rfid.Service
// implements it.
type Recorder interface {
	RecordActivity(ctx context.Context, eventID string) error
}

// Run consumes q until ctx is cancelled or the queue closes. Failed messages
// are logged and dropped; recording is idempotent so a redelivery is harmless.
func Run(ctx context.Context, q queue.Queue, rec Recorder) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypeScan {
			log.Printf("skipping message of type %q", msg.Type)
			continue
		}
		id := string(msg.Body)
		if err := rec.RecordActivity(ctx, id); err != nil {
			metrics.ActivitiesWritten.WithLabelValues("failed").Inc()
			log.Printf("activity for scan %s failed: %v", id, err)
			continue
		}
		metrics.ActivitiesWritten.WithLabelValues("ok").Inc()
	}
	log.Println("worker stopped")
	return nil
}
