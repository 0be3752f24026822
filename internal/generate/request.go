// Package generate produces ad copy for landing pages through a text completion model.
package generate

import (
	"errors"
	"net/url"
	"strings"
)

const (
	requestAttributeMaxLength = 120
	requestURLMaxLength       = 500
)

var (
	// ErrInvalidLandingPageURL indicates the request did not carry an absolute http(s) URL.
	ErrInvalidLandingPageURL = errors.New("generate: invalid landing page url")
	// ErrAttributeTooLong indicates an optional attribute exceeded its length limit.
	ErrAttributeTooLong = errors.New("generate: attribute too long")
)

// Request describes the page to write ad copy for.
type Request struct {
	LandingPageURL string `json:"landingPageUrl"`
	AudienceType   string `json:"audienceType,omitempty"`
	Industry       string `json:"industry,omitempty"`
	Tone           string `json:"tone,omitempty"`
}

// Normalize trims every field and validates the request.
func (request Request) Normalize() (Request, error) {
	normalized := Request{
		LandingPageURL: strings.TrimSpace(request.LandingPageURL),
		AudienceType:   strings.TrimSpace(request.AudienceType),
		Industry:       strings.TrimSpace(request.Industry),
		Tone:           strings.TrimSpace(request.Tone),
	}
	if normalized.LandingPageURL == "" || len(normalized.LandingPageURL) > requestURLMaxLength {
		return Request{}, ErrInvalidLandingPageURL
	}
	parsed, parseErr := url.Parse(normalized.LandingPageURL)
	if parseErr != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Request{}, ErrInvalidLandingPageURL
	}
	for _, attribute := range []string{normalized.AudienceType, normalized.Industry, normalized.Tone} {
		if len(attribute) > requestAttributeMaxLength {
			return Request{}, ErrAttributeTooLong
		}
	}
	return normalized, nil
}
