package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/monocle-dev/relay/internal/models"
)

type membershipStore struct {
	db *gorm.DB
}

func NewMembershipStore(db *gorm.DB) MembershipStore {
	return &membershipStore{db: db}
}

// IsMember reports whether the user may join the project's room. Project
// owners count as members even without a membership row.
func (s *membershipStore) IsMember(ctx context.Context, userID, projectID uint) (bool, error) {
	var count int64

	err := s.db.WithContext(ctx).
		Model(&models.ProjectMembership{}).
		Where("user_id = ? AND project_id = ?", userID, projectID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count memberships: %w", err)
	}

	if count > 0 {
		return true, nil
	}

	err = s.db.WithContext(ctx).
		Model(&models.Project{}).
		Where("id = ? AND owner_id = ?", projectID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count owned projects: %w", err)
	}

	return count > 0, nil
}
