package api

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/heatmap"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/model"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/storage"
)

const (
	// HeaderHeatmapState reports the background state the frame was produced in.
	HeaderHeatmapState = "X-Heatmap-State"
	// HeaderHeatmapBackground is set to "failed" when the frame was drawn without its background.
	HeaderHeatmapBackground = "X-Heatmap-Background"
	// HeaderHeatmapTruncated is set to "true" when older click groups were left out.
	HeaderHeatmapTruncated = "X-Heatmap-Truncated"

	heatmapBackgroundFailedValue = "failed"
	heatmapPNGContentType        = "image/png"
	heatmapRetryAfterSeconds     = "1"
	defaultHeatmapHeight         = 800
	maxHeatmapHeight             = 4000
	maxHeatmapWait               = 10 * time.Second
	defaultHeatmapBucketSize     = 4
	maxHeatmapSamples            = 50000
)

// HeatmapHandlers renders click heatmaps for landing pages.
type HeatmapHandlers struct {
	database    *gorm.DB
	store       *storage.PageStore
	registry    *heatmap.Registry
	logger      *zap.Logger
	bucketSize  int
	sampleLimit int
}

// NewHeatmapHandlers builds HeatmapHandlers.
func NewHeatmapHandlers(database *gorm.DB, store *storage.PageStore, registry *heatmap.Registry, logger *zap.Logger) *HeatmapHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeatmapHandlers{
		database:    database,
		store:       store,
		registry:    registry,
		logger:      logger,
		bucketSize:  defaultHeatmapBucketSize,
		sampleLimit: maxHeatmapSamples,
	}
}

// WithSampleLimit caps how many distinct click coordinates are read per render.
func (handlers *HeatmapHandlers) WithSampleLimit(sampleLimit int) *HeatmapHandlers {
	if sampleLimit > 0 {
		handlers.sampleLimit = sampleLimit
	}
	return handlers
}

type heatmapQuery struct {
	device heatmap.DeviceClass
	width  int
	height int
	wait   time.Duration
}

type heatmapPointsResponse struct {
	PageID    string          `json:"page_id"`
	Device    string          `json:"device"`
	Width     int             `json:"width"`
	MaxValue  float64         `json:"max_value"`
	Truncated bool            `json:"truncated"`
	Points    []heatmap.Point `json:"points"`
}

// HeatmapImage renders the page heatmap as PNG.
//
// While the background decodes it answers 202 with a placeholder of the
// requested size and a Retry-After header. The optional wait parameter
// blocks up to that long for the decode first. A failed background still
// yields the heatmap, drawn without it, flagged by X-Heatmap-Background.
func (handlers *HeatmapHandlers) HeatmapImage(context *gin.Context) {
	page, query, ok := handlers.resolveRequest(context, true)
	if !ok {
		return
	}

	component := handlers.registry.Component(page.ID)
	component.SetBackground(page.BackgroundImageURL)
	if query.wait > 0 {
		waitContext, cancel := contextWithTimeout(context, query.wait)
		_, _ = component.WaitReady(waitContext)
		cancel()
	}

	points, truncated, pointsErr := handlers.loadPoints(context, page.ID, query)
	if pointsErr != nil {
		handlers.logger.Warn("heatmap_points_failed", zap.String("page_id", page.ID), zap.Error(pointsErr))
		respondError(context, http.StatusInternalServerError, errorValueQueryFailed)
		return
	}

	frame, frameErr := component.Frame(points, query.width, query.height)
	if frameErr != nil {
		handlers.logger.Warn("heatmap_render_failed", zap.String("page_id", page.ID), zap.Error(frameErr))
		respondError(context, http.StatusInternalServerError, errorValueRenderFailed)
		return
	}

	var buffer bytes.Buffer
	if encodeErr := png.Encode(&buffer, frame.Image); encodeErr != nil {
		handlers.logger.Warn("heatmap_encode_failed", zap.String("page_id", page.ID), zap.Error(encodeErr))
		respondError(context, http.StatusInternalServerError, errorValueRenderFailed)
		return
	}

	context.Header("Cache-Control", "no-store")
	context.Header(HeaderHeatmapState, frame.State.String())
	status := http.StatusOK
	if frame.Placeholder {
		status = http.StatusAccepted
		context.Header("Retry-After", heatmapRetryAfterSeconds)
	}
	if frame.State == heatmap.AssetFailed {
		context.Header(HeaderHeatmapBackground, heatmapBackgroundFailedValue)
	}
	if truncated {
		context.Header(HeaderHeatmapTruncated, "true")
	}
	context.Data(status, heatmapPNGContentType, buffer.Bytes())
}

// HeatmapPoints returns the aggregated points the image would draw.
func (handlers *HeatmapHandlers) HeatmapPoints(context *gin.Context) {
	page, query, ok := handlers.resolveRequest(context, false)
	if !ok {
		return
	}
	points, truncated, pointsErr := handlers.loadPoints(context, page.ID, query)
	if pointsErr != nil {
		handlers.logger.Warn("heatmap_points_failed", zap.String("page_id", page.ID), zap.Error(pointsErr))
		respondError(context, http.StatusInternalServerError, errorValueQueryFailed)
		return
	}
	if truncated {
		context.Header(HeaderHeatmapTruncated, "true")
	}
	context.JSON(http.StatusOK, heatmapPointsResponse{
		PageID:    page.ID,
		Device:    string(query.device),
		Width:     query.width,
		MaxValue:  heatmap.MaxValue(points),
		Truncated: truncated,
		Points:    points,
	})
}

func (handlers *HeatmapHandlers) resolveRequest(context *gin.Context, withImageParams bool) (model.LandingPage, heatmapQuery, bool) {
	pageID, ok := pageIDParam(context)
	if !ok {
		return model.LandingPage{}, heatmapQuery{}, false
	}

	query, queryErrCode := parseHeatmapQuery(context, withImageParams)
	if queryErrCode != "" {
		respondError(context, http.StatusBadRequest, queryErrCode)
		return model.LandingPage{}, heatmapQuery{}, false
	}

	page, findErr := handlers.store.FindByID(context.Request.Context(), pageID)
	if findErr != nil {
		if errors.Is(findErr, storage.ErrPageNotFound) {
			respondError(context, http.StatusNotFound, errorValueUnknownPage)
			return model.LandingPage{}, heatmapQuery{}, false
		}
		handlers.logger.Warn("heatmap_page_lookup_failed", zap.String("page_id", pageID), zap.Error(findErr))
		respondError(context, http.StatusInternalServerError, errorValueQueryFailed)
		return model.LandingPage{}, heatmapQuery{}, false
	}
	return page, query, true
}

func parseHeatmapQuery(context *gin.Context, withImageParams bool) (heatmapQuery, string) {
	device, deviceErr := heatmap.ParseDeviceClass(context.Query("device"))
	if deviceErr != nil {
		return heatmapQuery{}, errorValueInvalidDevice
	}
	width, widthErr := parseOptionalInt(context.Query("width"))
	if widthErr != nil || width < 0 {
		return heatmapQuery{}, errorValueInvalidDimensions
	}
	query := heatmapQuery{device: device, width: device.ClampWidth(width), height: defaultHeatmapHeight}
	if !withImageParams {
		return query, ""
	}

	height, heightErr := parseOptionalInt(context.Query("height"))
	if heightErr != nil || height < 0 || height > maxHeatmapHeight {
		return heatmapQuery{}, errorValueInvalidDimensions
	}
	if height > 0 {
		query.height = height
	}

	rawWait := strings.TrimSpace(context.Query("wait"))
	if rawWait != "" {
		wait, waitErr := time.ParseDuration(rawWait)
		if waitErr != nil || wait < 0 {
			return heatmapQuery{}, errorValueInvalidWait
		}
		if wait > maxHeatmapWait {
			wait = maxHeatmapWait
		}
		query.wait = wait
	}
	return query, ""
}

func parseOptionalInt(rawValue string) (int, error) {
	trimmed := strings.TrimSpace(rawValue)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.Atoi(trimmed)
}

// loadPoints keeps the most recently clicked coordinate groups when a page
// has more than sampleLimit of them, and reports whether any were dropped.
func (handlers *HeatmapHandlers) loadPoints(context *gin.Context, pageID string, query heatmapQuery) ([]heatmap.Point, bool, error) {
	var samples []heatmap.ClickSample
	err := handlers.database.WithContext(context.Request.Context()).
		Model(&model.ClickEvent{}).
		Select("x, y, viewport_width, COUNT(*) as count").
		Where("page_id = ? AND device = ?", pageID, string(query.device)).
		Group("x, y, viewport_width").
		Order("MAX(occurred_at) desc").
		Order("x asc").
		Order("y asc").
		Limit(handlers.sampleLimit + 1).
		Scan(&samples).Error
	if err != nil {
		return nil, false, err
	}
	truncated := len(samples) > handlers.sampleLimit
	if truncated {
		samples = samples[:handlers.sampleLimit]
		handlers.logger.Debug("heatmap_samples_truncated", zap.String("page_id", pageID), zap.Int("limit", handlers.sampleLimit))
	}
	return heatmap.BuildPoints(samples, query.width, handlers.bucketSize), truncated, nil
}

func contextWithTimeout(ginContext *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ginContext.Request.Context(), timeout)
}
