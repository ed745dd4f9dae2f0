package scheduler

import (
	"context"
	"time"

	"github.com/monocle-dev/relay/internal/metrics"
	"github.com/monocle-dev/relay/internal/store"
)

type statsSource interface {
	Stats() (clients, rooms int)
}

// NotificationRetention deletes notifications read more than days ago.
func NotificationRetention(notifications store.NotificationStore, days int) JobFunc {
	return func(ctx context.Context) error {
		cutoff := time.Now().AddDate(0, 0, -days)
		n, err := notifications.PruneRead(ctx, cutoff)
		if err != nil {
			return err
		}
		metrics.NotificationsPruned.Add(float64(n))
		return nil
	}
}

// HubGauges resyncs the client and room gauges from the hub's maps.
func HubGauges(hub statsSource) JobFunc {
	return func(context.Context) error {
		clients, rooms := hub.Stats()
		metrics.ConnectedClients.Set(float64(clients))
		metrics.ActiveRooms.Set(float64(rooms))
		return nil
	}
}
