package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/generate"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/model"
)

// GenerateAdPath is the ad copy generation endpoint.
const GenerateAdPath = "/api/generate-ad"

// GenerateHandlers proxies ad copy generation to the completion model.
type GenerateHandlers struct {
	service  *generate.Service
	database *gorm.DB
	logger   *zap.Logger
}

// NewGenerateHandlers builds GenerateHandlers. A service without a completer
// makes every request answer 503.
func NewGenerateHandlers(service *generate.Service, database *gorm.DB, logger *zap.Logger) *GenerateHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerateHandlers{service: service, database: database, logger: logger}
}

type generateAdRequest struct {
	generate.Request
	PageID string `json:"pageId,omitempty"`
}

// GenerateAd accepts {landingPageUrl, audienceType?, industry?, tone?} and
// answers {result} or {error}.
func (handlers *GenerateHandlers) GenerateAd(context *gin.Context) {
	if !handlers.service.Available() {
		respondError(context, http.StatusServiceUnavailable, errorValueGenerationUnavailable)
		return
	}

	var payload generateAdRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		respondError(context, http.StatusBadRequest, errorValueInvalidJSON)
		return
	}

	result, generateErr := handlers.service.Generate(context.Request.Context(), payload.Request)
	if generateErr != nil {
		switch {
		case errors.Is(generateErr, generate.ErrInvalidLandingPageURL):
			respondError(context, http.StatusBadRequest, errorValueInvalidLandingPageURL)
		case errors.Is(generateErr, generate.ErrAttributeTooLong):
			respondError(context, http.StatusBadRequest, errorValueInvalidAttribute)
		case errors.Is(generateErr, generate.ErrCompleterUnavailable):
			respondError(context, http.StatusServiceUnavailable, errorValueGenerationUnavailable)
		default:
			respondError(context, http.StatusBadGateway, errorValueGenerationFailed)
		}
		return
	}

	handlers.recordGeneration(context, payload, result)
	context.JSON(http.StatusOK, gin.H{jsonKeyResult: result.Text})
}

func (handlers *GenerateHandlers) recordGeneration(context *gin.Context, payload generateAdRequest, result generate.Result) {
	if handlers.database == nil {
		return
	}
	generation, generationErr := model.NewAdGeneration(model.AdGenerationInput{
		PageID:         strings.TrimSpace(payload.PageID),
		LandingPageURL: payload.LandingPageURL,
		AudienceType:   payload.AudienceType,
		Industry:       payload.Industry,
		Tone:           payload.Tone,
		Model:          result.Model,
		Result:         result.Text,
	})
	if generationErr != nil {
		handlers.logger.Debug("ad_generation_validation_failed", zap.Error(generationErr))
		return
	}
	if saveErr := handlers.database.WithContext(context.Request.Context()).Create(&generation).Error; saveErr != nil {
		handlers.logger.Warn("ad_generation_save_failed", zap.Error(saveErr))
	}
}
