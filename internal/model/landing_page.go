package model

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	landingPageSlugMinLength        = 3
	landingPageSlugMaxLength        = 80
	landingPageTitleMaxLength       = 200
	landingPageHeadlineMaxLength    = 300
	landingPageBodyMaxLength        = 20000
	landingPageCallToActionMaxLabel = 80
	landingPageURLMaxLength         = 500
	landingPageEmailMaxLength       = 320
)

var (
	ErrInvalidLandingPageSlug  = errors.New("invalid_landing_page_slug")
	ErrInvalidLandingPageTitle = errors.New("invalid_landing_page_title")
	ErrInvalidLandingPageURL   = errors.New("invalid_landing_page_url")

	landingPageSlugPattern     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	landingPageSlugReplacement = regexp.MustCompile(`[^a-z0-9]+`)
)

// LandingPage is a marketing page managed in the dashboard and served publicly once published.
type LandingPage struct {
	ID                 string `gorm:"primaryKey;size:36"`
	Slug               string `gorm:"not null;size:80;uniqueIndex"`
	Title              string `gorm:"not null;size:200"`
	Headline           string `gorm:"size:300"`
	Body               string `gorm:"type:text"`
	CallToActionLabel  string `gorm:"size:80"`
	CallToActionURL    string `gorm:"size:500"`
	BackgroundImageURL string `gorm:"size:500"`
	OwnerEmail         string `gorm:"size:320;index"`
	Published          bool   `gorm:"not null;default:false;index"`
	PublishedAt        *time.Time
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// LandingPageInput holds raw values used to construct a LandingPage.
type LandingPageInput struct {
	Slug               string
	Title              string
	Headline           string
	Body               string
	CallToActionLabel  string
	CallToActionURL    string
	BackgroundImageURL string
	OwnerEmail         string
}

// NewLandingPage constructs an unpublished LandingPage with validated fields.
// An empty slug is derived from the title.
func NewLandingPage(input LandingPageInput) (LandingPage, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" || len(title) > landingPageTitleMaxLength {
		return LandingPage{}, ErrInvalidLandingPageTitle
	}

	rawSlug := input.Slug
	if strings.TrimSpace(rawSlug) == "" {
		rawSlug = title
	}
	slug, slugErr := NormalizeSlug(rawSlug)
	if slugErr != nil {
		return LandingPage{}, slugErr
	}

	callToActionURL, urlErr := NormalizeOptionalURL(input.CallToActionURL)
	if urlErr != nil {
		return LandingPage{}, urlErr
	}
	backgroundImageURL, backgroundErr := NormalizeOptionalURL(input.BackgroundImageURL)
	if backgroundErr != nil {
		return LandingPage{}, backgroundErr
	}

	return LandingPage{
		ID:                 uuid.NewString(),
		Slug:               slug,
		Title:              title,
		Headline:           truncateString(strings.TrimSpace(input.Headline), landingPageHeadlineMaxLength),
		Body:               truncateString(input.Body, landingPageBodyMaxLength),
		CallToActionLabel:  truncateString(strings.TrimSpace(input.CallToActionLabel), landingPageCallToActionMaxLabel),
		CallToActionURL:    callToActionURL,
		BackgroundImageURL: backgroundImageURL,
		OwnerEmail:         truncateString(strings.ToLower(strings.TrimSpace(input.OwnerEmail)), landingPageEmailMaxLength),
	}, nil
}

// NormalizeSlug lowercases raw, collapses runs of other characters into
// single dashes and validates the result.
func NormalizeSlug(raw string) (string, error) {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	slug := strings.Trim(landingPageSlugReplacement.ReplaceAllString(lowered, "-"), "-")
	if len(slug) > landingPageSlugMaxLength {
		slug = strings.TrimRight(slug[:landingPageSlugMaxLength], "-")
	}
	if len(slug) < landingPageSlugMinLength || !landingPageSlugPattern.MatchString(slug) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLandingPageSlug, raw)
	}
	return slug, nil
}

// NormalizeOptionalURL validates an absolute http(s) URL. Empty input is allowed.
func NormalizeOptionalURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if len(trimmed) > landingPageURLMaxLength {
		return "", fmt.Errorf("%w: too long", ErrInvalidLandingPageURL)
	}
	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", ErrInvalidLandingPageURL, raw)
	}
	return parsed.String(), nil
}

func truncateString(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
