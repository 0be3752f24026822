package model

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	clickSelectorMaxLength   = 300
	clickDeviceMaxLength     = 16
	clickCoordinateMax       = 100000
	clickViewportMax         = 10000
	pageViewReferrerMax      = 500
	pageViewUserAgentMax     = 400
	pageViewVisitorIDLength  = 36
	pageViewDeviceMaxLength  = 16
	defaultClickDeviceLabel  = "desktop"
	defaultPageViewDeviceTag = "desktop"
)

var (
	ErrInvalidClickPageID     = errors.New("invalid_click_page_id")
	ErrInvalidClickCoordinate = errors.New("invalid_click_coordinate")
	ErrInvalidClickViewport   = errors.New("invalid_click_viewport")
	ErrInvalidPageViewPageID  = errors.New("invalid_page_view_page_id")
	ErrInvalidPageViewVisitor = errors.New("invalid_page_view_visitor")
)

// ClickEvent captures one click on a published landing page, in page pixels.
type ClickEvent struct {
	ID            string    `gorm:"primaryKey;size:36"`
	PageID        string    `gorm:"not null;size:36;index:idx_click_events_page_device"`
	Device        string    `gorm:"not null;size:16;index:idx_click_events_page_device"`
	X             float64   `gorm:"not null"`
	Y             float64   `gorm:"not null"`
	ViewportWidth int       `gorm:"not null"`
	Selector      string    `gorm:"size:300"`
	OccurredAt    time.Time `gorm:"not null;index"`
}

// ClickEventInput holds incoming click data.
type ClickEventInput struct {
	PageID        string
	Device        string
	X             float64
	Y             float64
	ViewportWidth int
	Selector      string
	Occurred      time.Time
}

// NewClickEvent constructs a validated ClickEvent.
func NewClickEvent(input ClickEventInput) (ClickEvent, error) {
	pageID := strings.TrimSpace(input.PageID)
	if pageID == "" {
		return ClickEvent{}, ErrInvalidClickPageID
	}
	if !validCoordinate(input.X) || !validCoordinate(input.Y) {
		return ClickEvent{}, ErrInvalidClickCoordinate
	}
	if input.ViewportWidth <= 0 || input.ViewportWidth > clickViewportMax {
		return ClickEvent{}, ErrInvalidClickViewport
	}
	device := strings.ToLower(strings.TrimSpace(input.Device))
	if device == "" {
		device = defaultClickDeviceLabel
	}
	occurred := input.Occurred
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return ClickEvent{
		ID:            uuid.NewString(),
		PageID:        pageID,
		Device:        truncateString(device, clickDeviceMaxLength),
		X:             input.X,
		Y:             input.Y,
		ViewportWidth: input.ViewportWidth,
		Selector:      truncateString(strings.TrimSpace(input.Selector), clickSelectorMaxLength),
		OccurredAt:    occurred,
	}, nil
}

func validCoordinate(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && value >= 0 && value <= clickCoordinateMax
}

// PageView records one render of a published landing page.
type PageView struct {
	ID         string    `gorm:"primaryKey;size:36"`
	PageID     string    `gorm:"not null;size:36;index"`
	Device     string    `gorm:"size:16"`
	VisitorID  string    `gorm:"size:36;index"`
	Referrer   string    `gorm:"size:500"`
	UserAgent  string    `gorm:"size:400"`
	OccurredAt time.Time `gorm:"not null;index"`
}

// PageViewInput holds incoming page view data.
type PageViewInput struct {
	PageID    string
	Device    string
	VisitorID string
	Referrer  string
	UserAgent string
	Occurred  time.Time
}

// NewPageView constructs a validated PageView.
func NewPageView(input PageViewInput) (PageView, error) {
	pageID := strings.TrimSpace(input.PageID)
	if pageID == "" {
		return PageView{}, ErrInvalidPageViewPageID
	}
	visitorID := strings.TrimSpace(input.VisitorID)
	if visitorID != "" && len(visitorID) != pageViewVisitorIDLength {
		return PageView{}, ErrInvalidPageViewVisitor
	}
	device := strings.ToLower(strings.TrimSpace(input.Device))
	if device == "" {
		device = defaultPageViewDeviceTag
	}
	occurred := input.Occurred
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return PageView{
		ID:         uuid.NewString(),
		PageID:     pageID,
		Device:     truncateString(device, pageViewDeviceMaxLength),
		VisitorID:  visitorID,
		Referrer:   truncateString(strings.TrimSpace(input.Referrer), pageViewReferrerMax),
		UserAgent:  truncateString(input.UserAgent, pageViewUserAgentMax),
		OccurredAt: occurred,
	}, nil
}
