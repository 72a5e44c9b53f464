package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/charlesng35/smallworld/internal/models"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
)

// PendingTextBlasts lists text blasts the SMS transport has not sent yet, oldest first.
func (s *NotificationService) PendingTextBlasts(ctx context.Context, limit int) ([]models.TextBlast, error) {
	ctx = ensureContext(ctx)
	limit = clampLimit(limit, defaultListLimit, maxListLimit)

	var blasts []models.TextBlast
	if err := s.db.WithContext(ctx).
		Where("sent_at IS NULL").
		Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Find(&blasts).Error; err != nil {
		return nil, fmt.Errorf("notification service: list pending text blasts: %w", err)
	}
	return blasts, nil
}

// MarkTextBlastSent stamps sent_at once. Repeated calls keep the first timestamp.
func (s *NotificationService) MarkTextBlastSent(ctx context.Context, blastID string) error {
	ctx = ensureContext(ctx)
	blastID = strings.TrimSpace(blastID)
	if blastID == "" {
		return apperrors.ErrNotFound
	}

	now := s.now()
	db := s.db.WithContext(ctx)
	result := db.Model(&models.TextBlast{}).
		Where("id = ? AND sent_at IS NULL", blastID).
		UpdateColumns(map[string]any{
			"sent_at":    now,
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("notification service: mark text blast sent: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&models.TextBlast{}).Where("id = ?", blastID).Count(&count).Error; err != nil {
		return fmt.Errorf("notification service: check text blast: %w", err)
	}
	if count == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
