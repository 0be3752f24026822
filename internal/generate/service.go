package generate

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrCompleterUnavailable indicates generation is disabled because no completer is configured.
var ErrCompleterUnavailable = errors.New("generate: completer unavailable")

// Result is the generated copy and the model that wrote it.
type Result struct {
	Text  string
	Model string
}

// Service validates requests, grounds them in page metadata and calls the completer.
type Service struct {
	completer Completer
	metadata  MetadataSource
	logger    *zap.Logger
}

// NewService builds a Service. metadata may be nil to skip page lookups.
func NewService(completer Completer, metadata MetadataSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{completer: completer, metadata: metadata, logger: logger}
}

// Available reports whether a completer is configured.
func (service *Service) Available() bool {
	return service != nil && service.completer != nil
}

// Generate produces ad copy for request. Metadata lookups are best effort;
// their failure is logged and the prompt is built from the request alone.
func (service *Service) Generate(ctx context.Context, request Request) (Result, error) {
	if !service.Available() {
		return Result{}, ErrCompleterUnavailable
	}
	normalized, validationErr := request.Normalize()
	if validationErr != nil {
		return Result{}, validationErr
	}

	var metadata PageMetadata
	if service.metadata != nil {
		fetched, fetchErr := service.metadata.Fetch(ctx, normalized.LandingPageURL)
		if fetchErr != nil {
			service.logger.Info("landing_page_metadata_skipped",
				zap.String("url", normalized.LandingPageURL),
				zap.Error(fetchErr),
			)
		} else {
			metadata = fetched
		}
	}

	text, completeErr := service.completer.Complete(ctx, SystemPrompt, BuildPrompt(normalized, metadata))
	if completeErr != nil {
		service.logger.Warn("ad_generation_failed",
			zap.String("url", normalized.LandingPageURL),
			zap.Error(completeErr),
		)
		return Result{}, completeErr
	}
	return Result{Text: text, Model: service.completer.Model()}, nil
}
