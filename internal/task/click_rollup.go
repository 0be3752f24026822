package task

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/model"
)

const day = 24 * time.Hour

// ClickRollupConfig defines rollup behavior.
type ClickRollupConfig struct {
	RetentionDays int
	// Now overrides the clock, mainly in tests.
	Now func() time.Time
}

// ClickRollupJob aggregates the previous UTC day's views and clicks per
// landing page into PageDailyStat rows and prunes raw events past retention.
type ClickRollupJob struct {
	database *gorm.DB
	logger   *zap.Logger
	config   ClickRollupConfig
}

// NewClickRollupJob builds a ClickRollupJob.
func NewClickRollupJob(database *gorm.DB, logger *zap.Logger, config ClickRollupConfig) *ClickRollupJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Now == nil {
		config.Now = func() time.Time {
			return time.Now().UTC()
		}
	}
	return &ClickRollupJob{
		database: database,
		logger:   logger,
		config:   config,
	}
}

// Run executes aggregation then pruning.
func (job *ClickRollupJob) Run(ctx context.Context) error {
	now := job.config.Now().UTC()
	if err := job.aggregateDay(ctx, now.Add(-day)); err != nil {
		return err
	}
	if job.config.RetentionDays > 0 {
		return job.pruneOldEvents(ctx, now)
	}
	return nil
}

type pageCount struct {
	PageID string
	Total  int64
}

func (job *ClickRollupJob) aggregateDay(ctx context.Context, moment time.Time) error {
	start := time.Date(moment.Year(), moment.Month(), moment.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(day)

	viewCounts, viewErr := job.countByPage(ctx, &model.PageView{}, start, end)
	if viewErr != nil {
		return viewErr
	}
	clickCounts, clickErr := job.countByPage(ctx, &model.ClickEvent{}, start, end)
	if clickErr != nil {
		return clickErr
	}

	pageIDs := make([]string, 0, len(viewCounts)+len(clickCounts))
	for pageID := range viewCounts {
		pageIDs = append(pageIDs, pageID)
	}
	for pageID := range clickCounts {
		if _, seen := viewCounts[pageID]; !seen {
			pageIDs = append(pageIDs, pageID)
		}
	}
	sort.Strings(pageIDs)

	for _, pageID := range pageIDs {
		stat, statErr := model.NewPageDailyStat(pageID, start, viewCounts[pageID], clickCounts[pageID])
		if statErr != nil {
			job.logger.Warn("click_rollup_invalid", zap.Error(statErr), zap.String("page_id", pageID))
			continue
		}
		if err := job.database.WithContext(ctx).
			Where("page_id = ? AND date = ?", stat.PageID, stat.Date).
			Assign(map[string]any{"views": stat.Views, "clicks": stat.Clicks}).
			FirstOrCreate(&stat).Error; err != nil {
			job.logger.Warn("click_rollup_save_failed", zap.Error(err), zap.String("page_id", stat.PageID))
		}
	}
	return nil
}

func (job *ClickRollupJob) countByPage(ctx context.Context, table any, start time.Time, end time.Time) (map[string]int64, error) {
	var results []pageCount
	err := job.database.WithContext(ctx).
		Model(table).
		Select("page_id, COUNT(*) as total").
		Where("occurred_at >= ? AND occurred_at < ?", start, end).
		Group("page_id").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(results))
	for _, result := range results {
		counts[result.PageID] = result.Total
	}
	return counts, nil
}

func (job *ClickRollupJob) pruneOldEvents(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-time.Duration(job.config.RetentionDays) * day).Truncate(day)
	if err := job.database.WithContext(ctx).Where("occurred_at < ?", cutoff).Delete(&model.ClickEvent{}).Error; err != nil {
		return err
	}
	return job.database.WithContext(ctx).Where("occurred_at < ?", cutoff).Delete(&model.PageView{}).Error
}
