package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	adGenerationAttributeMaxLength = 120
	adGenerationModelMaxLength     = 120
)

var (
	ErrInvalidAdGenerationURL    = errors.New("invalid_ad_generation_url")
	ErrInvalidAdGenerationResult = errors.New("invalid_ad_generation_result")
)

// AdGeneration stores one AI-generated ad copy result.
type AdGeneration struct {
	ID             string    `gorm:"primaryKey;size:36"`
	PageID         string    `gorm:"size:36;index"`
	LandingPageURL string    `gorm:"not null;size:500"`
	AudienceType   string    `gorm:"size:120"`
	Industry       string    `gorm:"size:120"`
	Tone           string    `gorm:"size:120"`
	Model          string    `gorm:"size:120"`
	Result         string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// AdGenerationInput holds the request attributes and generated text.
type AdGenerationInput struct {
	PageID         string
	LandingPageURL string
	AudienceType   string
	Industry       string
	Tone           string
	Model          string
	Result         string
}

// NewAdGeneration constructs a validated AdGeneration.
func NewAdGeneration(input AdGenerationInput) (AdGeneration, error) {
	landingPageURL, urlErr := NormalizeOptionalURL(input.LandingPageURL)
	if urlErr != nil || landingPageURL == "" {
		return AdGeneration{}, ErrInvalidAdGenerationURL
	}
	result := strings.TrimSpace(input.Result)
	if result == "" {
		return AdGeneration{}, ErrInvalidAdGenerationResult
	}
	return AdGeneration{
		ID:             uuid.NewString(),
		PageID:         strings.TrimSpace(input.PageID),
		LandingPageURL: landingPageURL,
		AudienceType:   truncateString(strings.TrimSpace(input.AudienceType), adGenerationAttributeMaxLength),
		Industry:       truncateString(strings.TrimSpace(input.Industry), adGenerationAttributeMaxLength),
		Tone:           truncateString(strings.TrimSpace(input.Tone), adGenerationAttributeMaxLength),
		Model:          truncateString(strings.TrimSpace(input.Model), adGenerationModelMaxLength),
		Result:         result,
	}, nil
}
