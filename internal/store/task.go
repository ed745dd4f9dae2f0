package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/monocle-dev/relay/internal/models"
)

type taskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) TaskStore {
	return &taskStore{db: db}
}

// InProject reports whether the task exists and sits on the project's board.
func (s *taskStore) InProject(ctx context.Context, taskID, projectID uint) (bool, error) {
	var count int64

	err := s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ? AND project_id = ?", taskID, projectID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count tasks: %w", err)
	}

	return count > 0, nil
}
