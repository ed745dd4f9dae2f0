// Package store reads and writes the slice of the web tier's schema the
// relay needs: project memberships, task ownership and notifications.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/monocle-dev/relay/internal/models"
)

var ErrNotFound = errors.New("record not found")

type MembershipStore interface {
	IsMember(ctx context.Context, userID, projectID uint) (bool, error)
}

type TaskStore interface {
	InProject(ctx context.Context, taskID, projectID uint) (bool, error)
}

type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForUser(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, id uint) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
	PruneRead(ctx context.Context, olderThan time.Time) (int64, error)
}
