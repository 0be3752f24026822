package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidPageDailyStat = errors.New("invalid_page_daily_stat")
)

// PageDailyStat captures aggregated views and clicks per page per day.
type PageDailyStat struct {
	ID        string    `gorm:"primaryKey;size:36"`
	PageID    string    `gorm:"not null;size:36;uniqueIndex:idx_page_daily_stats_page_date"`
	Date      time.Time `gorm:"not null;uniqueIndex:idx_page_daily_stats_page_date"` // UTC midnight
	Views     int64     `gorm:"not null"`
	Clicks    int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// NewPageDailyStat constructs a rollup for a specific date.
func NewPageDailyStat(pageID string, date time.Time, views int64, clicks int64) (PageDailyStat, error) {
	trimmedPageID := strings.TrimSpace(pageID)
	if trimmedPageID == "" {
		return PageDailyStat{}, fmt.Errorf("%w: missing page_id", ErrInvalidPageDailyStat)
	}
	if date.IsZero() {
		return PageDailyStat{}, fmt.Errorf("%w: missing date", ErrInvalidPageDailyStat)
	}
	if views < 0 || clicks < 0 {
		return PageDailyStat{}, fmt.Errorf("%w: negative counts", ErrInvalidPageDailyStat)
	}
	utcDate := date.UTC()
	return PageDailyStat{
		ID:     uuid.NewString(),
		PageID: trimmedPageID,
		Date:   time.Date(utcDate.Year(), utcDate.Month(), utcDate.Day(), 0, 0, 0, 0, time.UTC),
		Views:  views,
		Clicks: clicks,
	}, nil
}
