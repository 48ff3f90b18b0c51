// Package repo implements the data persistence layer for the message queue,
// backed by GORM. This file provides small aggregate queries used by the
// operator list view and the queue-depth metrics.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/caseflow/go-messaging-backend/internal/domain"
)

// CountsByStatus returns the number of queue rows per status. Statuses with
// no rows are present with a zero value so the operator view and metrics see
// a stable key set.
func CountsByStatus(ctx context.Context, db *gorm.DB) (map[domain.QueueStatus]int64, error) {
	type row struct {
		Status domain.QueueStatus
		N      int64
	}
	var rows []row
	err := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.QueueStatus]int64, len(domain.AllStatuses()))
	for _, s := range domain.AllStatuses() {
		counts[s] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
