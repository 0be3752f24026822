// Package api exposes the dashboard, public page and heatmap HTTP handlers.
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	jsonKeyError  = "error"
	jsonKeyResult = "result"

	errorValueInvalidJSON           = "invalid_json"
	errorValueMissingFields         = "missing_fields"
	errorValueSaveFailed            = "save_failed"
	errorValueQueryFailed           = "query_failed"
	errorValueDeleteFailed          = "delete_failed"
	errorValueUnknownPage           = "unknown_page"
	errorValueInvalidSlug           = "invalid_slug"
	errorValueSlugTaken             = "slug_taken"
	errorValueInvalidTitle          = "invalid_title"
	errorValueInvalidURL            = "invalid_url"
	errorValueNothingToUpdate       = "nothing_to_update"
	errorValueInvalidDevice         = "invalid_device"
	errorValueInvalidDimensions     = "invalid_dimensions"
	errorValueInvalidWait           = "invalid_wait"
	errorValueRenderFailed          = "render_failed"
	errorValueInvalidClick          = "invalid_click"
	errorValueRateLimited           = "rate_limited"
	errorValueInvalidLandingPageURL = "invalid_landing_page_url"
	errorValueInvalidAttribute      = "invalid_attribute"
	errorValueGenerationUnavailable = "generation_unavailable"
	errorValueGenerationFailed      = "generation_failed"
	errorValueAdminDisabled         = "admin_disabled"
	errorValueMissingBearer         = "missing_bearer"
	errorValueForbidden             = "forbidden"

	bearerPrefix = "Bearer "
)

func respondError(context *gin.Context, status int, code string) {
	context.JSON(status, gin.H{jsonKeyError: code})
}

func abortWithError(context *gin.Context, status int, code string) {
	context.AbortWithStatusJSON(status, gin.H{jsonKeyError: code})
}

func pageIDParam(context *gin.Context) (string, bool) {
	pageID := strings.TrimSpace(context.Param("id"))
	if pageID == "" {
		respondError(context, http.StatusBadRequest, errorValueMissingFields)
		return "", false
	}
	return pageID, true
}
