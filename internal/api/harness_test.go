package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/content"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/generate"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/heatmap"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/model"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/storage"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/testutil"
)

const (
	testAdminToken         = "test-admin-token"
	testPublicBaseURL      = "https://pages.example.com"
	testOwnerEmail         = "owner@example.com"
	testBackgroundURL      = "https://cdn.example.com/screenshot.png"
	testOtherBackgroundURL = "https://cdn.example.com/other.png"
	testDecodeTimeout      = 5 * time.Second
	testEventuallyTimeout  = 2 * time.Second
	testEventuallyTick     = 10 * time.Millisecond
)

var testBackgroundColor = color.RGBA{B: 255, A: 255}

type testDecoder struct {
	mutex     sync.Mutex
	gate      chan struct{}
	err       error
	requested []string
}

func (decoder *testDecoder) Decode(ctx context.Context, imageURL string) (image.Image, error) {
	decoder.mutex.Lock()
	decoder.requested = append(decoder.requested, imageURL)
	gate := decoder.gate
	decodeErr := decoder.err
	decoder.mutex.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	canvas := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for index := 0; index < len(canvas.Pix); index += 4 {
		canvas.Pix[index+2] = testBackgroundColor.B
		canvas.Pix[index+3] = testBackgroundColor.A
	}
	return canvas, nil
}

func (decoder *testDecoder) requestedURLs() []string {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()
	return append([]string(nil), decoder.requested...)
}

func newGatedDecoder(testingT *testing.T) *testDecoder {
	gate := make(chan struct{})
	testingT.Cleanup(func() {
		close(gate)
	})
	return &testDecoder{gate: gate}
}

type stubCompleter struct {
	text string
	err  error
}

func (completer stubCompleter) Complete(context.Context, string, string) (string, error) {
	return completer.text, completer.err
}

func (completer stubCompleter) Model() string {
	return "stub-model"
}

type harnessOptions struct {
	decoder   heatmap.Decoder
	completer generate.Completer
}

type apiHarness struct {
	router          *gin.Engine
	database        *gorm.DB
	store           *storage.PageStore
	registry        *heatmap.Registry
	publicHandlers  *PublicHandlers
	heatmapHandlers *HeatmapHandlers
	logs            *observer.ObservedLogs
}

func buildAPIHarness(testingT *testing.T, options harnessOptions) apiHarness {
	testingT.Helper()

	gin.SetMode(gin.TestMode)
	observedCore, observedLogs := observer.New(zapcore.DebugLevel)
	logger := zap.New(observedCore)

	sqliteDatabase := testutil.NewSQLiteTestDatabase(testingT)
	database, openErr := storage.OpenDatabase(sqliteDatabase.Configuration())
	require.NoError(testingT, openErr)
	database = testutil.ConfigureDatabaseLogger(testingT, database)
	require.NoError(testingT, storage.AutoMigrate(database))

	decoder := options.decoder
	if decoder == nil {
		decoder = &testDecoder{}
	}
	cache := heatmap.NewBackgroundCache(decoder, logger, testDecodeTimeout)
	registry := heatmap.NewRegistry(cache, heatmap.NewRenderer())
	store := storage.NewPageStore(database)

	generateService := generate.NewService(options.completer, nil, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))

	publicHandlers := NewPublicHandlers(database, store, content.NewMarkdownRenderer(), logger, testPublicBaseURL)
	pageHandlers := NewPageHandlers(store, registry, logger, testPublicBaseURL)
	heatmapHandlers := NewHeatmapHandlers(database, store, registry, logger)
	statsHandlers := NewStatsHandlers(database, store, nil, logger)
	generateHandlers := NewGenerateHandlers(generateService, database, logger)

	publicCORS := cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Type", "Retry-After", HeaderHeatmapState, HeaderHeatmapBackground, HeaderHeatmapTruncated},
		MaxAge:        time.Hour,
	})

	router.GET("/p/:slug", publicHandlers.RenderPublishedPage)
	router.GET(ClickTrackerPath, publicHandlers.ClickTrackerJS)
	publicGroup := router.Group("/public")
	publicGroup.Use(publicCORS)
	publicGroup.POST("/clicks", publicHandlers.CollectClick)
	publicGroup.OPTIONS("/clicks", respondPreflight)

	apiGroup := router.Group("/api")
	apiGroup.Use(publicCORS)
	apiGroup.OPTIONS("/*path", respondPreflight)
	apiGroup.Use(AdminAuthMiddleware(testAdminToken))
	apiGroup.GET("/pages", pageHandlers.ListPages)
	apiGroup.POST("/pages", pageHandlers.CreatePage)
	apiGroup.GET("/pages/:id", pageHandlers.GetPage)
	apiGroup.PATCH("/pages/:id", pageHandlers.UpdatePage)
	apiGroup.DELETE("/pages/:id", pageHandlers.DeletePage)
	apiGroup.GET("/pages/:id/heatmap.png", heatmapHandlers.HeatmapImage)
	apiGroup.GET("/pages/:id/heatmap.json", heatmapHandlers.HeatmapPoints)
	apiGroup.GET("/pages/:id/stats", statsHandlers.PageStats)
	apiGroup.POST("/generate-ad", generateHandlers.GenerateAd)

	return apiHarness{
		router:          router,
		database:        database,
		store:           store,
		registry:        registry,
		publicHandlers:  publicHandlers,
		heatmapHandlers: heatmapHandlers,
		logs:            observedLogs,
	}
}

func respondPreflight(context *gin.Context) {
	context.Status(http.StatusNoContent)
}

func adminHeaders() map[string]string {
	return map[string]string{"Authorization": bearerPrefix + testAdminToken}
}

func performJSONRequest(testingT *testing.T, router *gin.Engine, method string, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	testingT.Helper()
	var requestBody io.Reader
	if body != nil {
		encoded, encodeErr := json.Marshal(body)
		require.NoError(testingT, encodeErr)
		requestBody = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, requestBody)
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSONResponse(testingT *testing.T, recorder *httptest.ResponseRecorder, target any) {
	testingT.Helper()
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), target))
}

func requireErrorCode(testingT *testing.T, recorder *httptest.ResponseRecorder, status int, code string) {
	testingT.Helper()
	require.Equal(testingT, status, recorder.Code, recorder.Body.String())
	var payload map[string]string
	decodeJSONResponse(testingT, recorder, &payload)
	require.Equal(testingT, code, payload[jsonKeyError])
}

func insertPage(testingT *testing.T, database *gorm.DB, title string, backgroundURL string, published bool) model.LandingPage {
	testingT.Helper()
	page, pageErr := model.NewLandingPage(model.LandingPageInput{
		Title:              title,
		Headline:           title + " headline",
		Body:               "Welcome to **" + title + "**",
		CallToActionLabel:  "Start now",
		CallToActionURL:    "https://app.example.com/signup",
		BackgroundImageURL: backgroundURL,
		OwnerEmail:         testOwnerEmail,
	})
	require.NoError(testingT, pageErr)
	if published {
		publishedAt := time.Now().UTC()
		page.Published = true
		page.PublishedAt = &publishedAt
	}
	require.NoError(testingT, database.Create(&page).Error)
	return page
}

func insertClickEvent(testingT *testing.T, database *gorm.DB, pageID string, device heatmap.DeviceClass, x float64, y float64, viewportWidth int, occurred time.Time) {
	testingT.Helper()
	click, clickErr := model.NewClickEvent(model.ClickEventInput{
		PageID:        pageID,
		Device:        string(device),
		X:             x,
		Y:             y,
		ViewportWidth: viewportWidth,
		Occurred:      occurred,
	})
	require.NoError(testingT, clickErr)
	require.NoError(testingT, database.Create(&click).Error)
}
