package api

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/pagepilot/internal/content"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/heatmap"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/model"
	"github.com/MarkoPoloResearchLab/pagepilot/internal/storage"
	"github.com/MarkoPoloResearchLab/pagepilot/pkg/footer"
)

const (
	// ClickTrackerPath serves the click tracking script.
	ClickTrackerPath = "/public/click-tracker.js"
	// ClickCollectionPath receives click events from published pages.
	ClickCollectionPath = "/public/clicks"

	defaultClickRateWindow        = time.Minute
	defaultMaxClicksPerIPInWindow = 120
	publicPageCacheControl        = "no-store"
	javaScriptContentType         = "application/javascript; charset=utf-8"
	htmlContentType               = "text/html; charset=utf-8"
)

var publishedPageTemplate = template.Must(template.New("published_page").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{margin:0;font-family:system-ui,-apple-system,sans-serif;color:#111827;background:#fff}
main{max-width:960px;margin:0 auto;padding:48px 24px}
.hero{padding:64px 24px;background-size:cover;background-position:center;border-radius:16px}
.cta{display:inline-block;margin-top:24px;padding:12px 24px;border-radius:8px;background:#2563eb;color:#fff;text-decoration:none}
.pagepilot-footer{max-width:960px;margin:0 auto;padding:24px;font-size:13px;color:#6b7280}
.pagepilot-footer a{color:inherit;margin-left:4px}
</style>
</head>
<body>
<main>
<section class="hero"{{if .BackgroundImageURL}} style="background-image:url('{{.BackgroundImageURL}}')"{{end}}>
<h1>{{.Headline}}</h1>
{{if .CallToActionURL}}<a class="cta" href="{{.CallToActionURL}}" data-pagepilot-cta>{{.CallToActionLabel}}</a>{{end}}
</section>
<article>{{.Body}}</article>
</main>
{{.Footer}}
<script defer src="{{.TrackerURL}}" data-page-id="{{.PageID}}" data-endpoint="{{.CollectURL}}"></script>
</body>
</html>
`))

const clickTrackerScript = `(function () {
  var script = document.currentScript;
  if (!script) { return; }
  var pageId = script.getAttribute("data-page-id");
  var endpoint = script.getAttribute("data-endpoint") || "/public/clicks";
  if (!pageId) { return; }
  function selectorFor(element) {
    if (!element || !element.tagName) { return ""; }
    var selector = element.tagName.toLowerCase();
    if (element.id) { selector += "#" + element.id; }
    if (typeof element.className === "string" && element.className.trim() !== "") {
      selector += "." + element.className.trim().split(/\s+/).join(".");
    }
    return selector.slice(0, 300);
  }
  document.addEventListener("click", function (event) {
    var payload = JSON.stringify({
      page_id: pageId,
      x: event.pageX,
      y: event.pageY,
      viewport_width: window.innerWidth,
      selector: selectorFor(event.target)
    });
    if (navigator.sendBeacon) {
      navigator.sendBeacon(endpoint, new Blob([payload], { type: "application/json" }));
      return;
    }
    fetch(endpoint, { method: "POST", headers: { "Content-Type": "application/json" }, body: payload, keepalive: true });
  }, { capture: true, passive: true });
})();
`

type publishedPageView struct {
	PageID             string
	Title              string
	Headline           string
	Body               template.HTML
	CallToActionLabel  string
	CallToActionURL    string
	BackgroundImageURL string
	TrackerURL         string
	CollectURL         string
	Footer             template.HTML
}

// PublicHandlers serves published landing pages and collects their clicks.
type PublicHandlers struct {
	database      *gorm.DB
	store         *storage.PageStore
	markdown      *content.MarkdownRenderer
	logger        *zap.Logger
	publicBaseURL string
	footerHTML    template.HTML

	rateWindow                time.Duration
	maxRequestsPerIPPerWindow int
	rateCountersMutex         sync.Mutex
	rateCountersByIP          map[string]int
	rateBucket                int64
	now                       func() time.Time
}

// NewPublicHandlers builds PublicHandlers.
func NewPublicHandlers(database *gorm.DB, store *storage.PageStore, markdown *content.MarkdownRenderer, logger *zap.Logger, publicBaseURL string) *PublicHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if markdown == nil {
		markdown = content.NewMarkdownRenderer()
	}
	normalizedBaseURL := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	footerHTML, footerErr := footer.Render(footer.PublishedPageConfig(normalizedBaseURL))
	if footerErr != nil {
		logger.Warn("published_page_footer_failed", zap.Error(footerErr))
	}
	return &PublicHandlers{
		database:                  database,
		store:                     store,
		markdown:                  markdown,
		logger:                    logger,
		publicBaseURL:             normalizedBaseURL,
		footerHTML:                footerHTML,
		rateWindow:                defaultClickRateWindow,
		maxRequestsPerIPPerWindow: defaultMaxClicksPerIPInWindow,
		rateCountersByIP:          make(map[string]int),
		now:                       time.Now,
	}
}

// WithClickRateLimit allows maxRequests clicks per IP in each window.
// Non-positive values keep the defaults.
func (handlers *PublicHandlers) WithClickRateLimit(window time.Duration, maxRequests int) *PublicHandlers {
	handlers.rateCountersMutex.Lock()
	defer handlers.rateCountersMutex.Unlock()
	if window > 0 {
		handlers.rateWindow = window
	}
	if maxRequests > 0 {
		handlers.maxRequestsPerIPPerWindow = maxRequests
	}
	return handlers
}

// RenderPublishedPage renders a published page by slug and records a view.
// Unpublished and unknown slugs both answer 404.
func (handlers *PublicHandlers) RenderPublishedPage(context *gin.Context) {
	page, findErr := handlers.store.FindPublishedBySlug(context.Request.Context(), context.Param("slug"))
	if findErr != nil {
		if errors.Is(findErr, storage.ErrPageNotFound) {
			context.Data(http.StatusNotFound, htmlContentType, []byte("<!doctype html><title>Not found</title><p>Page not found.</p>"))
			return
		}
		handlers.logger.Warn("published_page_lookup_failed", zap.Error(findErr))
		context.Data(http.StatusInternalServerError, htmlContentType, []byte("<!doctype html><title>Error</title><p>Something went wrong.</p>"))
		return
	}

	body, renderErr := handlers.markdown.Render(page.Body)
	if renderErr != nil {
		handlers.logger.Warn("published_page_markdown_failed", zap.String("page_id", page.ID), zap.Error(renderErr))
		body = template.HTML(template.HTMLEscapeString(page.Body))
	}

	headline := page.Headline
	if headline == "" {
		headline = page.Title
	}
	var buffer bytes.Buffer
	templateErr := publishedPageTemplate.Execute(&buffer, publishedPageView{
		PageID:             page.ID,
		Title:              page.Title,
		Headline:           headline,
		Body:               body,
		CallToActionLabel:  page.CallToActionLabel,
		CallToActionURL:    page.CallToActionURL,
		BackgroundImageURL: page.BackgroundImageURL,
		TrackerURL:         handlers.publicBaseURL + ClickTrackerPath,
		CollectURL:         handlers.publicBaseURL + ClickCollectionPath,
		Footer:             handlers.footerHTML,
	})
	if templateErr != nil {
		handlers.logger.Error("published_page_template_failed", zap.String("page_id", page.ID), zap.Error(templateErr))
		context.Data(http.StatusInternalServerError, htmlContentType, []byte("<!doctype html><title>Error</title><p>Something went wrong.</p>"))
		return
	}

	handlers.recordView(context, page)
	context.Header("Cache-Control", publicPageCacheControl)
	context.Data(http.StatusOK, htmlContentType, buffer.Bytes())
}

func (handlers *PublicHandlers) recordView(context *gin.Context, page model.LandingPage) {
	userAgent := context.Request.UserAgent()
	view, viewErr := model.NewPageView(model.PageViewInput{
		PageID:    page.ID,
		Device:    string(deviceFromUserAgent(userAgent)),
		VisitorID: strings.TrimSpace(context.Query("visitor_id")),
		Referrer:  context.GetHeader("Referer"),
		UserAgent: userAgent,
		Occurred:  time.Now().UTC(),
	})
	if viewErr != nil {
		handlers.logger.Debug("page_view_validation_failed", zap.Error(viewErr))
		return
	}
	if saveErr := handlers.database.WithContext(context.Request.Context()).Create(&view).Error; saveErr != nil {
		handlers.logger.Warn("page_view_save_failed", zap.String("page_id", page.ID), zap.Error(saveErr))
	}
}

type collectClickRequest struct {
	PageID        string  `json:"page_id"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	ViewportWidth int     `json:"viewport_width"`
	Selector      string  `json:"selector"`
}

// CollectClick stores a click reported by the tracker on a published page.
func (handlers *PublicHandlers) CollectClick(context *gin.Context) {
	if handlers.isRateLimited(context.ClientIP()) {
		respondError(context, http.StatusTooManyRequests, errorValueRateLimited)
		return
	}

	var payload collectClickRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		respondError(context, http.StatusBadRequest, errorValueInvalidJSON)
		return
	}

	click, clickErr := model.NewClickEvent(model.ClickEventInput{
		PageID:        payload.PageID,
		Device:        string(heatmap.ClassifyViewport(payload.ViewportWidth)),
		X:             payload.X,
		Y:             payload.Y,
		ViewportWidth: payload.ViewportWidth,
		Selector:      payload.Selector,
		Occurred:      time.Now().UTC(),
	})
	if clickErr != nil {
		handlers.logger.Debug("click_validation_failed", zap.Error(clickErr))
		respondError(context, http.StatusBadRequest, errorValueInvalidClick)
		return
	}

	page, findErr := handlers.store.FindByID(context.Request.Context(), click.PageID)
	if findErr != nil || !page.Published {
		respondError(context, http.StatusNotFound, errorValueUnknownPage)
		return
	}

	if saveErr := handlers.database.WithContext(context.Request.Context()).Create(&click).Error; saveErr != nil {
		handlers.logger.Warn("click_save_failed", zap.String("page_id", click.PageID), zap.Error(saveErr))
		respondError(context, http.StatusInternalServerError, errorValueSaveFailed)
		return
	}
	context.Status(http.StatusNoContent)
}

// ClickTrackerJS serves the tracking script embedded in published pages.
func (handlers *PublicHandlers) ClickTrackerJS(context *gin.Context) {
	context.Header("Cache-Control", "public, max-age=300")
	context.Data(http.StatusOK, javaScriptContentType, []byte(clickTrackerScript))
}

func (handlers *PublicHandlers) isRateLimited(ip string) bool {
	handlers.rateCountersMutex.Lock()
	defer handlers.rateCountersMutex.Unlock()

	window := handlers.rateWindow
	if window <= 0 {
		window = defaultClickRateWindow
	}
	nowBucket := handlers.now().UnixNano() / int64(window)
	key := fmt.Sprintf("%s:%d", ip, nowBucket)

	if nowBucket != handlers.rateBucket {
		handlers.rateBucket = nowBucket
		handlers.rateCountersByIP = make(map[string]int)
	}
	handlers.rateCountersByIP[key]++
	return handlers.rateCountersByIP[key] > handlers.maxRequestsPerIPPerWindow
}

func deviceFromUserAgent(userAgent string) heatmap.DeviceClass {
	normalized := strings.ToLower(userAgent)
	switch {
	case strings.Contains(normalized, "ipad"), strings.Contains(normalized, "tablet"):
		return heatmap.DeviceTablet
	case strings.Contains(normalized, "mobi"), strings.Contains(normalized, "iphone"), strings.Contains(normalized, "android"):
		return heatmap.DeviceMobile
	default:
		return heatmap.DeviceDesktop
	}
}
