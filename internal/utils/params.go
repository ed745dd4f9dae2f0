package utils

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
)

var ErrInvalidID = errors.New("invalid id")

// ParseID parses a positive numeric row id as sent over the wire.
func ParseID(raw string) (uint, error) {
	if raw == "" {
		return 0, ErrInvalidID
	}

	id, err := strconv.ParseUint(raw, 10, 32)

	if err != nil || id == 0 {
		return 0, ErrInvalidID
	}

	return uint(id), nil
}

func GetProjectID(ctx *gin.Context) (uint, error) {
	projectIDStr := ctx.Param("project_id")

	if projectIDStr == "" {
		return 0, errors.New("Project ID not found")
	}

	projectID, err := ParseID(projectIDStr)

	if err != nil {
		return 0, errors.New("Invalid Project ID")
	}

	return projectID, nil
}

func GetNotificationID(ctx *gin.Context) (uint, error) {
	id, err := ParseID(ctx.Param("id"))

	if err != nil {
		return 0, errors.New("Invalid Notification ID")
	}

	return id, nil
}
