package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/heatmap"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/model"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/storage"
)

const publicPagePathPrefix = "/p/"

// PageHandlers serves the landing page CRUD API used by the dashboard.
type PageHandlers struct {
	store         *storage.PageStore
	heatmaps      *heatmap.Registry
	logger        *zap.Logger
	publicBaseURL string
}

// NewPageHandlers builds PageHandlers. heatmaps may be nil when no heatmap
// routes are served.
func NewPageHandlers(store *storage.PageStore, heatmaps *heatmap.Registry, logger *zap.Logger, publicBaseURL string) *PageHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageHandlers{
		store:         store,
		heatmaps:      heatmaps,
		logger:        logger,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}
}

type createPageRequest struct {
	Slug               string `json:"slug"`
	Title              string `json:"title"`
	Headline           string `json:"headline"`
	Body               string `json:"body"`
	CallToActionLabel  string `json:"call_to_action_label"`
	CallToActionURL    string `json:"call_to_action_url"`
	BackgroundImageURL string `json:"background_image_url"`
	OwnerEmail         string `json:"owner_email"`
}

type updatePageRequest struct {
	Slug               *string `json:"slug"`
	Title              *string `json:"title"`
	Headline           *string `json:"headline"`
	Body               *string `json:"body"`
	CallToActionLabel  *string `json:"call_to_action_label"`
	CallToActionURL    *string `json:"call_to_action_url"`
	BackgroundImageURL *string `json:"background_image_url"`
	Published          *bool   `json:"published"`
}

func (request updatePageRequest) empty() bool {
	return request.Slug == nil && request.Title == nil && request.Headline == nil && request.Body == nil &&
		request.CallToActionLabel == nil && request.CallToActionURL == nil &&
		request.BackgroundImageURL == nil && request.Published == nil
}

type pageResponse struct {
	ID                 string `json:"id"`
	Slug               string `json:"slug"`
	Title              string `json:"title"`
	Headline           string `json:"headline"`
	Body               string `json:"body"`
	CallToActionLabel  string `json:"call_to_action_label"`
	CallToActionURL    string `json:"call_to_action_url"`
	BackgroundImageURL string `json:"background_image_url"`
	OwnerEmail         string `json:"owner_email"`
	Published          bool   `json:"published"`
	PublishedAt        int64  `json:"published_at"`
	PublicURL          string `json:"public_url"`
	CreatedAt          int64  `json:"created_at"`
	UpdatedAt          int64  `json:"updated_at"`
}

type listPagesResponse struct {
	Pages []pageResponse `json:"pages"`
}

// ListPages returns pages, optionally filtered by the owner query parameter.
func (handlers *PageHandlers) ListPages(context *gin.Context) {
	pages, listErr := handlers.store.List(context.Request.Context(), context.Query("owner"))
	if listErr != nil {
		handlers.logger.Warn("list_pages_failed", zap.Error(listErr))
		respondError(context, http.StatusInternalServerError, errorValueQueryFailed)
		return
	}
	response := listPagesResponse{Pages: make([]pageResponse, 0, len(pages))}
	for _, page := range pages {
		response.Pages = append(response.Pages, handlers.toPageResponse(page))
	}
	context.JSON(http.StatusOK, response)
}

// CreatePage validates and stores a new unpublished page.
func (handlers *PageHandlers) CreatePage(context *gin.Context) {
	var payload createPageRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		respondError(context, http.StatusBadRequest, errorValueInvalidJSON)
		return
	}

	page, pageErr := model.NewLandingPage(model.LandingPageInput{
		Slug:               payload.Slug,
		Title:              payload.Title,
		Headline:           payload.Headline,
		Body:               payload.Body,
		CallToActionLabel:  payload.CallToActionLabel,
		CallToActionURL:    payload.CallToActionURL,
		BackgroundImageURL: payload.BackgroundImageURL,
		OwnerEmail:         payload.OwnerEmail,
	})
	if pageErr != nil {
		handlers.respondPageError(context, pageErr)
		return
	}

	if createErr := handlers.store.Create(context.Request.Context(), &page); createErr != nil {
		handlers.respondPageError(context, createErr)
		return
	}
	handlers.prefetchBackground(page)
	context.JSON(http.StatusCreated, handlers.toPageResponse(page))
}

// GetPage returns one page by id.
func (handlers *PageHandlers) GetPage(context *gin.Context) {
	pageID, ok := pageIDParam(context)
	if !ok {
		return
	}
	page, findErr := handlers.store.FindByID(context.Request.Context(), pageID)
	if findErr != nil {
		handlers.respondPageError(context, findErr)
		return
	}
	context.JSON(http.StatusOK, handlers.toPageResponse(page))
}

// UpdatePage applies a partial update, including publish and unpublish.
// A changed background URL moves the page heatmap to a new generation.
func (handlers *PageHandlers) UpdatePage(context *gin.Context) {
	pageID, ok := pageIDParam(context)
	if !ok {
		return
	}
	var payload updatePageRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		respondError(context, http.StatusBadRequest, errorValueInvalidJSON)
		return
	}
	if payload.empty() {
		respondError(context, http.StatusBadRequest, errorValueNothingToUpdate)
		return
	}

	page, updateErr := handlers.store.Update(context.Request.Context(), pageID, storage.PageUpdate{
		Slug:               payload.Slug,
		Title:              payload.Title,
		Headline:           payload.Headline,
		Body:               payload.Body,
		CallToActionLabel:  payload.CallToActionLabel,
		CallToActionURL:    payload.CallToActionURL,
		BackgroundImageURL: payload.BackgroundImageURL,
		Published:          payload.Published,
	})
	if updateErr != nil {
		handlers.respondPageError(context, updateErr)
		return
	}
	handlers.prefetchBackground(page)
	context.JSON(http.StatusOK, handlers.toPageResponse(page))
}

// DeletePage removes a page and its analytics.
func (handlers *PageHandlers) DeletePage(context *gin.Context) {
	pageID, ok := pageIDParam(context)
	if !ok {
		return
	}
	if deleteErr := handlers.store.Delete(context.Request.Context(), pageID); deleteErr != nil {
		if errors.Is(deleteErr, storage.ErrPageNotFound) {
			respondError(context, http.StatusNotFound, errorValueUnknownPage)
			return
		}
		handlers.logger.Warn("delete_page_failed", zap.String("page_id", pageID), zap.Error(deleteErr))
		respondError(context, http.StatusInternalServerError, errorValueDeleteFailed)
		return
	}
	if handlers.heatmaps != nil {
		handlers.heatmaps.Remove(pageID)
	}
	context.Status(http.StatusNoContent)
}

func (handlers *PageHandlers) prefetchBackground(page model.LandingPage) {
	if handlers.heatmaps == nil {
		return
	}
	handlers.heatmaps.Component(page.ID).SetBackground(page.BackgroundImageURL)
}

func (handlers *PageHandlers) respondPageError(context *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrPageNotFound):
		respondError(context, http.StatusNotFound, errorValueUnknownPage)
	case errors.Is(err, storage.ErrSlugTaken):
		respondError(context, http.StatusConflict, errorValueSlugTaken)
	case errors.Is(err, model.ErrInvalidLandingPageSlug):
		respondError(context, http.StatusBadRequest, errorValueInvalidSlug)
	case errors.Is(err, model.ErrInvalidLandingPageTitle):
		respondError(context, http.StatusBadRequest, errorValueInvalidTitle)
	case errors.Is(err, model.ErrInvalidLandingPageURL):
		respondError(context, http.StatusBadRequest, errorValueInvalidURL)
	default:
		handlers.logger.Warn("page_save_failed", zap.Error(err))
		respondError(context, http.StatusInternalServerError, errorValueSaveFailed)
	}
}

func (handlers *PageHandlers) toPageResponse(page model.LandingPage) pageResponse {
	response := pageResponse{
		ID:                 page.ID,
		Slug:               page.Slug,
		Title:              page.Title,
		Headline:           page.Headline,
		Body:               page.Body,
		CallToActionLabel:  page.CallToActionLabel,
		CallToActionURL:    page.CallToActionURL,
		BackgroundImageURL: page.BackgroundImageURL,
		OwnerEmail:         page.OwnerEmail,
		Published:          page.Published,
		PublicURL:          handlers.publicBaseURL + publicPagePathPrefix + page.Slug,
		CreatedAt:          unixOrZero(page.CreatedAt),
		UpdatedAt:          unixOrZero(page.UpdatedAt),
	}
	if page.PublishedAt != nil {
		response.PublishedAt = unixOrZero(*page.PublishedAt)
	}
	return response
}

func unixOrZero(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.Unix()
}
