package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/model"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/storage"
)

const (
	defaultTrendDays      = 7
	maxTrendDays          = 30
	trendDayLayout        = "2006-01-02"
	trendDateTimeUTC      = "2006-01-02 15:04:05-07:00"
	trendDateTimeTZ       = "2006-01-02 15:04:05-07"
	trendDateTime         = "2006-01-02 15:04:05"
	clickThroughRoundBase = 10000
)

var trendParseLayouts = [...]string{
	trendDayLayout,
	time.RFC3339,
	trendDateTimeUTC,
	trendDateTimeTZ,
	trendDateTime,
}

// PageStatisticsProvider exposes the metrics shown on a page's dashboard cards.
type PageStatisticsProvider interface {
	ViewCount(ctx context.Context, pageID string) (int64, error)
	ClickCount(ctx context.Context, pageID string) (int64, error)
	GenerationCount(ctx context.Context, pageID string) (int64, error)
	DailyTrend(ctx context.Context, pageID string, days int) ([]DailyTrendStat, error)
}

// DailyTrendStat captures one day of views and clicks.
type DailyTrendStat struct {
	Date   time.Time
	Views  int64
	Clicks int64
}

// DatabasePageStatisticsProvider implements PageStatisticsProvider using GORM.
type DatabasePageStatisticsProvider struct {
	database *gorm.DB
	now      func() time.Time
}

// NewDatabasePageStatisticsProvider builds a statistics provider backed by the primary database.
func NewDatabasePageStatisticsProvider(database *gorm.DB) *DatabasePageStatisticsProvider {
	return &DatabasePageStatisticsProvider{
		database: database,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ViewCount returns recorded views for a page within the retention window.
func (provider *DatabasePageStatisticsProvider) ViewCount(ctx context.Context, pageID string) (int64, error) {
	return provider.countForPage(ctx, &model.PageView{}, pageID)
}

// ClickCount returns recorded clicks for a page within the retention window.
func (provider *DatabasePageStatisticsProvider) ClickCount(ctx context.Context, pageID string) (int64, error) {
	return provider.countForPage(ctx, &model.ClickEvent{}, pageID)
}

// GenerationCount returns how many ad copies were generated for a page.
func (provider *DatabasePageStatisticsProvider) GenerationCount(ctx context.Context, pageID string) (int64, error) {
	return provider.countForPage(ctx, &model.AdGeneration{}, pageID)
}

func (provider *DatabasePageStatisticsProvider) countForPage(ctx context.Context, table any, pageID string) (int64, error) {
	if strings.TrimSpace(pageID) == "" {
		return 0, nil
	}
	var count int64
	err := provider.database.WithContext(ctx).Model(table).Where("page_id = ?", pageID).Count(&count).Error
	return count, err
}

type dailyCountRow struct {
	Day   string
	Total int64
}

// DailyTrend returns one entry per day, oldest first, ending today.
// Closed days use their rollup when one exists; other days count raw events.
func (provider *DatabasePageStatisticsProvider) DailyTrend(ctx context.Context, pageID string, days int) ([]DailyTrendStat, error) {
	if strings.TrimSpace(pageID) == "" {
		return nil, nil
	}
	normalizedDays := normalizeTrendDays(days)
	startDay := provider.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(normalizedDays - 1))

	viewsByDay, viewErr := provider.rawDailyCounts(ctx, &model.PageView{}, pageID, startDay)
	if viewErr != nil {
		return nil, viewErr
	}
	clicksByDay, clickErr := provider.rawDailyCounts(ctx, &model.ClickEvent{}, pageID, startDay)
	if clickErr != nil {
		return nil, clickErr
	}

	var rollups []model.PageDailyStat
	if err := provider.database.WithContext(ctx).
		Where("page_id = ? AND date >= ?", pageID, startDay).
		Find(&rollups).Error; err != nil {
		return nil, err
	}
	rollupsByDay := make(map[string]model.PageDailyStat, len(rollups))
	for _, rollup := range rollups {
		rollupsByDay[rollup.Date.UTC().Format(trendDayLayout)] = rollup
	}

	trend := make([]DailyTrendStat, 0, normalizedDays)
	for dayIndex := 0; dayIndex < normalizedDays; dayIndex++ {
		dateValue := startDay.AddDate(0, 0, dayIndex)
		dayKey := dateValue.Format(trendDayLayout)
		if rollup, found := rollupsByDay[dayKey]; found {
			trend = append(trend, DailyTrendStat{Date: dateValue, Views: rollup.Views, Clicks: rollup.Clicks})
			continue
		}
		trend = append(trend, DailyTrendStat{
			Date:   dateValue,
			Views:  viewsByDay[dayKey],
			Clicks: clicksByDay[dayKey],
		})
	}
	return trend, nil
}

func (provider *DatabasePageStatisticsProvider) rawDailyCounts(ctx context.Context, table any, pageID string, startDay time.Time) (map[string]int64, error) {
	var rows []dailyCountRow
	err := provider.database.WithContext(ctx).
		Model(table).
		Select("DATE(occurred_at) as day, COUNT(*) as total").
		Where("page_id = ? AND occurred_at >= ?", pageID, startDay).
		Group("DATE(occurred_at)").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		dayKey, normalizeErr := normalizeTrendDay(row.Day)
		if normalizeErr != nil {
			return nil, normalizeErr
		}
		counts[dayKey] += row.Total
	}
	return counts, nil
}

func normalizeTrendDays(days int) int {
	if days <= 0 {
		return defaultTrendDays
	}
	if days > maxTrendDays {
		return maxTrendDays
	}
	return days
}

func normalizeTrendDay(rawDayValue string) (string, error) {
	normalizedDay := strings.TrimSpace(rawDayValue)
	if normalizedDay == "" {
		return "", errors.New("trend_parse_day: empty day value")
	}
	for _, layout := range trendParseLayouts {
		parsedValue, parseErr := time.ParseInLocation(layout, normalizedDay, time.UTC)
		if parseErr == nil {
			return parsedValue.UTC().Format(trendDayLayout), nil
		}
	}
	return "", fmt.Errorf("trend_parse_day: unsupported format %q", normalizedDay)
}

// ClickThroughRate returns clicks per view rounded to four decimals. Zero views yield zero.
func ClickThroughRate(views int64, clicks int64) float64 {
	if views <= 0 {
		return 0
	}
	return math.Round(float64(clicks)/float64(views)*clickThroughRoundBase) / clickThroughRoundBase
}

// StatsHandlers serves the metric cards and trend series for a page.
type StatsHandlers struct {
	store    *storage.PageStore
	provider PageStatisticsProvider
	logger   *zap.Logger
}

// NewStatsHandlers builds StatsHandlers. A nil provider uses the database.
func NewStatsHandlers(database *gorm.DB, store *storage.PageStore, provider PageStatisticsProvider, logger *zap.Logger) *StatsHandlers {
	if provider == nil {
		provider = NewDatabasePageStatisticsProvider(database)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHandlers{store: store, provider: provider, logger: logger}
}

type trendEntryResponse struct {
	Date   string `json:"date"`
	Views  int64  `json:"views"`
	Clicks int64  `json:"clicks"`
}

type pageStatsResponse struct {
	PageID           string               `json:"page_id"`
	Views            int64                `json:"views"`
	Clicks           int64                `json:"clicks"`
	ClickThroughRate float64              `json:"click_through_rate"`
	Generations      int64                `json:"generations"`
	Trend            []trendEntryResponse `json:"trend"`
}

// PageStats returns metric cards and a daily trend. The days query parameter
// selects the trend length.
func (handlers *StatsHandlers) PageStats(context *gin.Context) {
	pageID, ok := pageIDParam(context)
	if !ok {
		return
	}
	requestContext := context.Request.Context()
	if _, findErr := handlers.store.FindByID(requestContext, pageID); findErr != nil {
		if errors.Is(findErr, storage.ErrPageNotFound) {
			respondError(context, http.StatusNotFound, errorValueUnknownPage)
			return
		}
		respondError(context, http.StatusInternalServerError, errorValueQueryFailed)
		return
	}

	days, _ := strconv.Atoi(strings.TrimSpace(context.Query("days")))

	views, viewsErr := handlers.provider.ViewCount(requestContext, pageID)
	clicks, clicksErr := handlers.provider.ClickCount(requestContext, pageID)
	generations, generationsErr := handlers.provider.GenerationCount(requestContext, pageID)
	trend, trendErr := handlers.provider.DailyTrend(requestContext, pageID, days)
	if statsErr := errors.Join(viewsErr, clicksErr, generationsErr, trendErr); statsErr != nil {
		handlers.logger.Warn("page_stats_failed", zap.String("page_id", pageID), zap.Error(statsErr))
		respondError(context, http.StatusInternalServerError, errorValueQueryFailed)
		return
	}

	response := pageStatsResponse{
		PageID:           pageID,
		Views:            views,
		Clicks:           clicks,
		ClickThroughRate: ClickThroughRate(views, clicks),
		Generations:      generations,
		Trend:            make([]trendEntryResponse, 0, len(trend)),
	}
	for _, entry := range trend {
		response.Trend = append(response.Trend, trendEntryResponse{
			Date:   entry.Date.Format(trendDayLayout),
			Views:  entry.Views,
			Clicks: entry.Clicks,
		})
	}
	context.JSON(http.StatusOK, response)
}
