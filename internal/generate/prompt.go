package generate

import (
	"fmt"
	"strings"
)

// SystemPrompt frames the completion model as an ad copywriter.
const SystemPrompt = "You are an expert performance marketer who writes concise, compliant ad copy for landing pages."

const (
	defaultAudienceType = "general consumers"
	defaultIndustry     = "unspecified"
	defaultTone         = "professional"
)

// BuildPrompt renders the user prompt for request. Metadata fields are
// included only when present.
func BuildPrompt(request Request, metadata PageMetadata) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Write ad copy for the landing page at %s.\n", request.LandingPageURL)
	fmt.Fprintf(&builder, "Target audience: %s\n", valueOrDefault(request.AudienceType, defaultAudienceType))
	fmt.Fprintf(&builder, "Industry: %s\n", valueOrDefault(request.Industry, defaultIndustry))
	fmt.Fprintf(&builder, "Tone: %s\n", valueOrDefault(request.Tone, defaultTone))

	if !metadata.Empty() {
		builder.WriteString("\nWhat the page says about itself:\n")
		if metadata.Title != "" {
			fmt.Fprintf(&builder, "- Title: %s\n", metadata.Title)
		}
		if metadata.Heading != "" {
			fmt.Fprintf(&builder, "- Main heading: %s\n", metadata.Heading)
		}
		if metadata.Description != "" {
			fmt.Fprintf(&builder, "- Description: %s\n", metadata.Description)
		}
	}

	builder.WriteString("\nReturn three variations. Each variation has a headline of at most 30 characters, ")
	builder.WriteString("a description of at most 90 characters and a call to action. Use plain text without markdown.")
	return builder.String()
}

func valueOrDefault(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
