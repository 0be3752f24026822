package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/heatmap"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/model"
)

func createPageViaAPI(testingT *testing.T, harness apiHarness, body map[string]any) pageResponse {
	testingT.Helper()
	recorder := performJSONRequest(testingT, harness.router, http.MethodPost, "/api/pages", body, adminHeaders())
	require.Equal(testingT, http.StatusCreated, recorder.Code, recorder.Body.String())
	var created pageResponse
	decodeJSONResponse(testingT, recorder, &created)
	return created
}

func TestPageRoutesRequireAdminToken(testingT *testing.T) {
	harness := buildAPIHarness(testingT, harnessOptions{})
	recorder := performJSONRequest(testingT, harness.router, http.MethodGet, "/api/pages", nil, nil)
	requireErrorCode(testingT, recorder, http.StatusUnauthorized, errorValueMissingBearer)
}

func TestCreatePageDerivesSlugAndPublicURL(testingT *testing.T) {
	harness := buildAPIHarness(testingT, harnessOptions{})

	created := createPageViaAPI(testingT, harness, map[string]any{
		"title":                "Spring Launch Offer",
		"body":                 "## Save today",
		"call_to_action_label": "Claim",
		"call_to_action_url":   "https://app.example.com/claim",
		"owner_email":          " Owner@Example.com ",
	})

	require.NotEmpty(testingT, created.ID)
	require.Equal(testingT, "spring-launch-offer", created.Slug)
	require.Equal(testingT, testPublicBaseURL+"/p/spring-launch-offer", created.PublicURL)
	require.Equal(testingT, testOwnerEmail, created.OwnerEmail)
	require.False(testingT, created.Published)
	require.Zero(testingT, created.PublishedAt)
	require.NotZero(testingT, created.CreatedAt)
}

func TestCreatePageValidation(testingT *testing.T) {
	harness := buildAPIHarness(testingT, harnessOptions{})
	createPageViaAPI(testingT, harness, map[string]any{"title": "Taken", "slug": "taken-slug"})

	testCases := []struct {
		name           string
		body           any
		expectedStatus int
		expectedCode   string
	}{
		{name: "missing title", body: map[string]any{"slug": "fresh"}, expectedStatus: http.StatusBadRequest, expectedCode: errorValueInvalidTitle},
		{name: "invalid slug", body: map[string]any{"title": "Fine", "slug": "!!"}, expectedStatus: http.StatusBadRequest, expectedCode: errorValueInvalidSlug},
		{name: "invalid url", body: map[string]any{"title": "Fine", "call_to_action_url": "javascript:alert(1)"}, expectedStatus: http.StatusBadRequest, expectedCode: errorValueInvalidURL},
		{name: "duplicate slug", body: map[string]any{"title": "Other", "slug": "taken-slug"}, expectedStatus: http.StatusConflict, expectedCode: errorValueSlugTaken},
		{name: "not json", body: "just a string", expectedStatus: http.StatusBadRequest, expectedCode: errorValueInvalidJSON},
	}
	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(subtestT *testing.T) {
			recorder := performJSONRequest(subtestT, harness.router, http.MethodPost, "/api/pages", testCase.body, adminHeaders())
			requireErrorCode(subtestT, recorder, testCase.expectedStatus, testCase.expectedCode)
		})
	}
}

func TestGetPageReturnsNotFoundForUnknownID(testingT *testing.T) {
	harness := buildAPIHarness(testingT, harnessOptions{})
	recorder := performJSONRequest(testingT, harness.router, http.MethodGet, "/api/pages/missing", nil, adminHeaders())
	requireErrorCode(testingT, recorder, http.StatusNotFound, errorValueUnknownPage)
}

func TestUpdatePagePublishesAndUnpublishes(testingT *testing.T) {
	harness := buildAPIHarness(testingT, harnessOptions{})
	created := createPageViaAPI(testingT, harness, map[string]any{"title": "Publish Me"})
	path := "/api/pages/" + created.ID

	publishRecorder := performJSONRequest(testingT, harness.router, http.MethodPatch, path, map[string]any{"published": true, "headline": "Now live"}, adminHeaders())
	require.Equal(testingT, http.StatusOK, publishRecorder.Code, publishRecorder.Body.String())
	var published pageResponse
	decodeJSONResponse(testingT, publishRecorder, &published)
	require.True(testingT, published.Published)
	require.NotZero(testingT, published.PublishedAt)
	require.Equal(testingT, "Now live", published.Headline)

	unpublishRecorder := performJSONRequest(testingT, harness.router, http.MethodPatch, path, map[string]any{"published": false}, adminHeaders())
	require.Equal(testingT, http.StatusOK, unpublishRecorder.Code)
	var unpublished pageResponse
	decodeJSONResponse(testingT, unpublishRecorder, &unpublished)
	require.False(testingT, unpublished.Published)
	require.Zero(testingT, unpublished.PublishedAt)

	fetchRecorder := performJSONRequest(testingT, harness.router, http.MethodGet, path, nil, adminHeaders())
	require.Equal(testingT, http.StatusOK, fetchRecorder.Code)
	var fetched pageResponse
	decodeJSONResponse(testingT, fetchRecorder, &fetched)
	require.Equal(testingT, "Now live", fetched.Headline)
	require.False(testingT, fetched.Published)
}

func TestUpdatePageRejectsEmptyPayload(testingT *testing.T) {
	harness := buildAPIHarness(testingT, harnessOptions{})
	created := createPageViaAPI(testingT, harness, map[string]any{"title": "Nothing"})

	recorder := performJSONRequest(testingT, harness.router, http.MethodPatch, "/api/pages/"+created.ID, map[string]any{}, adminHeaders())
	requireErrorCode(testingT, recorder, http.StatusBadRequest, errorValueNothingToUpdate)
}

func TestUpdatePageRejectsSlugOfAnotherPage(testingT *testing.T) {
	harness := buildAPIHarness(testingT, harnessOptions{})
	createPageViaAPI(testingT, harness, map[string]any{"title": "First", "slug": "first-page"})
	second := createPageViaAPI(testingT, harness, map[string]any{"title": "Second"})

	recorder := performJSONRequest(testingT, harness.router, http.MethodPatch, "/api/pages/"+second.ID, map[string]any{"slug": "first-page"}, adminHeaders())
	requireErrorCode(testingT, recorder, http.StatusConflict, errorValueSlugTaken)
}

func TestUpdatePageBackgroundStartsDecode(testingT *testing.T) {
	decoder := newGatedDecoder(testingT)
	harness := buildAPIHarness(testingT, harnessOptions{decoder: decoder})
	created := createPageViaAPI(testingT, harness, map[string]any{"title": "Backdrop"})

	recorder := performJSONRequest(testingT, harness.router, http.MethodPatch, "/api/pages/"+created.ID, map[string]any{"background_image_url": testBackgroundURL}, adminHeaders())
	require.Equal(testingT, http.StatusOK, recorder.Code, recorder.Body.String())

	state, generation := harness.registry.Component(created.ID).State()
	require.Equal(testingT, heatmap.AssetLoading, state)
	require.NotZero(testingT, generation)
	require.Eventually(testingT, func() bool {
		urls := decoder.requestedURLs()
		return len(urls) == 1 && urls[0] == testBackgroundURL
	}, testEventuallyTimeout, testEventuallyTick)
}

func TestListPagesFiltersByOwner(testingT *testing.T) {
	harness := buildAPIHarness(testingT, harnessOptions{})
	createPageViaAPI(testingT, harness, map[string]any{"title": "Mine", "owner_email": testOwnerEmail})
	createPageViaAPI(testingT, harness, map[string]any{"title": "Theirs", "owner_email": "someone@example.com"})

	allRecorder := performJSONRequest(testingT, harness.router, http.MethodGet, "/api/pages", nil, adminHeaders())
	require.Equal(testingT, http.StatusOK, allRecorder.Code)
	var all listPagesResponse
	decodeJSONResponse(testingT, allRecorder, &all)
	require.Len(testingT, all.Pages, 2)

	ownedRecorder := performJSONRequest(testingT, harness.router, http.MethodGet, "/api/pages?owner=OWNER@example.com", nil, adminHeaders())
	require.Equal(testingT, http.StatusOK, ownedRecorder.Code)
	var owned listPagesResponse
	decodeJSONResponse(testingT, ownedRecorder, &owned)
	require.Len(testingT, owned.Pages, 1)
	require.Equal(testingT, "Mine", owned.Pages[0].Title)
}

func TestDeletePageRemovesAnalytics(testingT *testing.T) {
	harness := buildAPIHarness(testingT, harnessOptions{})
	page := insertPage(testingT, harness.database, "Doomed", "", true)
	insertClickEvent(testingT, harness.database, page.ID, heatmap.DeviceDesktop, 10, 10, 1280, page.CreatedAt)

	recorder := performJSONRequest(testingT, harness.router, http.MethodDelete, "/api/pages/"+page.ID, nil, adminHeaders())
	require.Equal(testingT, http.StatusNoContent, recorder.Code)

	var clickCount int64
	require.NoError(testingT, harness.database.Model(&model.ClickEvent{}).Where("page_id = ?", page.ID).Count(&clickCount).Error)
	require.Zero(testingT, clickCount)

	missingRecorder := performJSONRequest(testingT, harness.router, http.MethodDelete, "/api/pages/"+page.ID, nil, adminHeaders())
	requireErrorCode(testingT, missingRecorder, http.StatusNotFound, errorValueUnknownPage)
}

func TestCreatePageReportsSaveFailure(testingT *testing.T) {
	harness := buildAPIHarness(testingT, harnessOptions{})
	callbackName := "test:force_page_create_error"
	require.NoError(testingT, harness.database.Callback().Create().Before("gorm:create").Register(callbackName, func(database *gorm.DB) {
		if database.Statement != nil && database.Statement.Table == "landing_pages" {
			database.AddError(fmt.Errorf("forced create failure"))
		}
	}))
	testingT.Cleanup(func() {
		_ = harness.database.Callback().Create().Remove(callbackName)
	})

	recorder := performJSONRequest(testingT, harness.router, http.MethodPost, "/api/pages", map[string]any{"title": "Will Fail"}, adminHeaders())
	requireErrorCode(testingT, recorder, http.StatusInternalServerError, errorValueSaveFailed)
	require.NotEmpty(testingT, harness.logs.FilterMessage("page_save_failed").All())
}
