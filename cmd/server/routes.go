package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/api"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/content"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/generate"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/heatmap"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/storage"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/task"
	"github.com/MarkoPoloResearchLab/pagepilot/pkg/imagefetch"
)

const (
	publicRoutePage           = "/p/:slug"
	publicRouteClickGroup     = "/public"
	publicRouteClicks         = "/clicks"
	apiRoutePrefix            = "/api"
	apiRoutePages             = "/pages"
	apiRoutePage              = "/pages/:id"
	apiRoutePageHeatmapImage  = "/pages/:id/heatmap.png"
	apiRoutePageHeatmapPoints = "/pages/:id/heatmap.json"
	apiRoutePageStats         = "/pages/:id/stats"
	apiRouteGenerateAd        = "/generate-ad"
	apiRoutePreflight         = "/*path"
	healthRoute               = "/healthz"
	corsOriginWildcard        = "*"
	corsHeaderAuthorization   = "Authorization"
	corsHeaderContentType     = "Content-Type"
	corsHeaderRetryAfter      = "Retry-After"
	backgroundDecodeTimeout   = 30 * time.Second
)

var (
	corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	corsAllowedHeaders = []string{corsHeaderAuthorization, corsHeaderContentType}
	corsExposedHeaders = []string{corsHeaderContentType, corsHeaderRetryAfter, api.HeaderHeatmapState, api.HeaderHeatmapBackground, api.HeaderHeatmapTruncated}
)

type serverComponents struct {
	publicHandlers   *api.PublicHandlers
	pageHandlers     *api.PageHandlers
	heatmapHandlers  *api.HeatmapHandlers
	statsHandlers    *api.StatsHandlers
	generateHandlers *api.GenerateHandlers
	rollupScheduler  *task.Scheduler
}

func buildServerComponents(serverConfig ServerConfig, database *gorm.DB, completer generate.Completer, logger *zap.Logger) serverComponents {
	store := storage.NewPageStore(database)

	imageFetcher := imagefetch.NewHTTPFetcher(nil, logger)
	backgroundCache := heatmap.NewBackgroundCache(imageFetcher, logger, backgroundDecodeTimeout)
	heatmapRegistry := heatmap.NewRegistry(backgroundCache, heatmap.NewRenderer())

	generateService := generate.NewService(completer, generate.NewMetadataFetcher(nil, logger), logger)

	rollupJob := task.NewClickRollupJob(database, logger, task.ClickRollupConfig{RetentionDays: serverConfig.ClickRetentionDays})

	return serverComponents{
		publicHandlers:   api.NewPublicHandlers(database, store, content.NewMarkdownRenderer(), logger, serverConfig.PublicBaseURL),
		pageHandlers:     api.NewPageHandlers(store, heatmapRegistry, logger, serverConfig.PublicBaseURL),
		heatmapHandlers:  api.NewHeatmapHandlers(database, store, heatmapRegistry, logger),
		statsHandlers:    api.NewStatsHandlers(database, store, nil, logger),
		generateHandlers: api.NewGenerateHandlers(generateService, database, logger),
		rollupScheduler:  task.NewScheduler(clickRollupJobName, serverConfig.RollupInterval, rollupJob, logger),
	}
}

func newPublicCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{corsOriginWildcard},
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

func buildRouter(serverConfig ServerConfig, components serverComponents, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger(logger))
	router.GET(healthRoute, func(context *gin.Context) {
		context.JSON(http.StatusOK, gin.H{"status": "ok", "mode": string(serverConfig.ServeMode)})
	})

	publicCORS := newPublicCORS()
	if serverConfig.ServeMode.servesWeb() {
		registerWebRoutes(router, publicCORS, components.publicHandlers)
	}
	if serverConfig.ServeMode.servesAPI() {
		registerAPIRoutes(router, publicCORS, serverConfig.AdminBearerToken, components)
	}
	return router
}

func registerWebRoutes(router *gin.Engine, publicCORS gin.HandlerFunc, publicHandlers *api.PublicHandlers) {
	router.GET(publicRoutePage, publicHandlers.RenderPublishedPage)
	router.GET(api.ClickTrackerPath, publicHandlers.ClickTrackerJS)

	clickGroup := router.Group(publicRouteClickGroup)
	clickGroup.Use(publicCORS)
	clickGroup.POST(publicRouteClicks, publicHandlers.CollectClick)
	clickGroup.OPTIONS(publicRouteClicks, respondPreflight)
}

// registerAPIRoutes puts CORS ahead of the bearer check so browser
// preflights are answered without credentials.
func registerAPIRoutes(router *gin.Engine, publicCORS gin.HandlerFunc, adminBearerToken string, components serverComponents) {
	apiGroup := router.Group(apiRoutePrefix)
	apiGroup.Use(publicCORS)
	apiGroup.OPTIONS(apiRoutePreflight, respondPreflight)
	apiGroup.Use(api.AdminAuthMiddleware(adminBearerToken))

	apiGroup.GET(apiRoutePages, components.pageHandlers.ListPages)
	apiGroup.POST(apiRoutePages, components.pageHandlers.CreatePage)
	apiGroup.GET(apiRoutePage, components.pageHandlers.GetPage)
	apiGroup.PATCH(apiRoutePage, components.pageHandlers.UpdatePage)
	apiGroup.DELETE(apiRoutePage, components.pageHandlers.DeletePage)
	apiGroup.GET(apiRoutePageHeatmapImage, components.heatmapHandlers.HeatmapImage)
	apiGroup.GET(apiRoutePageHeatmapPoints, components.heatmapHandlers.HeatmapPoints)
	apiGroup.GET(apiRoutePageStats, components.statsHandlers.PageStats)
	apiGroup.POST(apiRouteGenerateAd, components.generateHandlers.GenerateAd)
}

func respondPreflight(context *gin.Context) {
	context.Status(http.StatusNoContent)
}
