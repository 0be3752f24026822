// Package imagefetch downloads and decodes remote images for server-side rendering.
package imagefetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

const (
	defaultMaxImageBytes  = 8 * 1024 * 1024
	defaultMaxImagePixels = 40 * 1000 * 1000
	defaultRequestTimeout = 10 * time.Second
	dataURLPrefix         = "data:"
	userAgentHeaderValue  = "PagePilot-ImageFetch/1.0"
)

var (
	// ErrInvalidImageURL indicates the URL is neither http(s) nor a data URL.
	ErrInvalidImageURL = errors.New("imagefetch: invalid image url")
	// ErrUnexpectedStatus indicates the remote server answered with an error status.
	ErrUnexpectedStatus = errors.New("imagefetch: unexpected status")
	// ErrUnsupportedContentType indicates the response is not an image.
	ErrUnsupportedContentType = errors.New("imagefetch: unsupported content type")
	// ErrAssetTooLarge indicates the payload exceeded the configured limit.
	ErrAssetTooLarge = errors.New("imagefetch: image exceeds size limit")
	// ErrEmptyAsset indicates an empty payload.
	ErrEmptyAsset = errors.New("imagefetch: empty image")
)

// HTTPFetcher fetches images over HTTP(S) or from data URLs and decodes them.
type HTTPFetcher struct {
	httpClient     *http.Client
	logger         *zap.Logger
	maxImageBytes  int64
	maxImagePixels int64
}

// NewHTTPFetcher builds a fetcher. A nil client gets a default with a timeout.
func NewHTTPFetcher(httpClient *http.Client, logger *zap.Logger) *HTTPFetcher {
	fetcher := &HTTPFetcher{
		logger:         logger,
		maxImageBytes:  defaultMaxImageBytes,
		maxImagePixels: defaultMaxImagePixels,
	}
	if httpClient != nil {
		fetcher.httpClient = httpClient
	} else {
		fetcher.httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if fetcher.logger == nil {
		fetcher.logger = zap.NewNop()
	}
	return fetcher
}

// WithMaxImageBytes overrides the payload size limit.
func (fetcher *HTTPFetcher) WithMaxImageBytes(maxImageBytes int64) *HTTPFetcher {
	if maxImageBytes > 0 {
		fetcher.maxImageBytes = maxImageBytes
	}
	return fetcher
}

// WithMaxImagePixels overrides the decoded width*height limit.
func (fetcher *HTTPFetcher) WithMaxImagePixels(maxImagePixels int64) *HTTPFetcher {
	if maxImagePixels > 0 {
		fetcher.maxImagePixels = maxImagePixels
	}
	return fetcher
}

// Decode fetches imageURL and decodes it into a bitmap. Dimensions are read
// from the header first so oversized images are rejected before allocation.
func (fetcher *HTTPFetcher) Decode(ctx context.Context, imageURL string) (image.Image, error) {
	data, fetchErr := fetcher.Fetch(ctx, imageURL)
	if fetchErr != nil {
		return nil, fetchErr
	}
	config, _, configErr := image.DecodeConfig(bytes.NewReader(data))
	if configErr != nil {
		return nil, fmt.Errorf("imagefetch: decode: %w", configErr)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("imagefetch: decode: invalid dimensions %dx%d", config.Width, config.Height)
	}
	if int64(config.Width)*int64(config.Height) > fetcher.maxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrAssetTooLarge, config.Width, config.Height)
	}
	decoded, format, decodeErr := image.Decode(bytes.NewReader(data))
	if decodeErr != nil {
		return nil, fmt.Errorf("imagefetch: decode: %w", decodeErr)
	}
	fetcher.logger.Debug("image_decoded",
		zap.String("format", format),
		zap.Int("width", decoded.Bounds().Dx()),
		zap.Int("height", decoded.Bounds().Dy()),
	)
	return decoded, nil
}

// Fetch returns the raw bytes behind imageURL.
func (fetcher *HTTPFetcher) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	trimmed := strings.TrimSpace(imageURL)
	if strings.HasPrefix(strings.ToLower(trimmed), dataURLPrefix) {
		return fetcher.parseDataURL(trimmed)
	}

	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil || parsed == nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidImageURL, imageURL)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if requestErr != nil {
		return nil, requestErr
	}
	request.Header.Set("User-Agent", userAgentHeaderValue)
	request.Header.Set("Accept", "image/*")

	response, responseErr := fetcher.httpClient.Do(request)
	if responseErr != nil {
		return nil, responseErr
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, response.StatusCode)
	}

	contentType := strings.ToLower(strings.TrimSpace(response.Header.Get("Content-Type")))
	if !isSupportedContentType(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}

	limited := io.LimitReader(response.Body, fetcher.maxImageBytes+1)
	data, readErr := io.ReadAll(limited)
	if readErr != nil {
		return nil, readErr
	}
	if int64(len(data)) > fetcher.maxImageBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrAssetTooLarge, fetcher.maxImageBytes)
	}
	if len(data) == 0 {
		return nil, ErrEmptyAsset
	}
	return data, nil
}

func (fetcher *HTTPFetcher) parseDataURL(value string) ([]byte, error) {
	commaIndex := strings.Index(value, ",")
	if commaIndex < 0 {
		return nil, fmt.Errorf("%w: malformed data url", ErrInvalidImageURL)
	}

	metadataSection := value[len(dataURLPrefix):commaIndex]
	payloadSection := value[commaIndex+1:]

	mediaType := ""
	isBase64 := false
	segments := strings.Split(metadataSection, ";")
	if len(segments) > 0 {
		mediaType = strings.TrimSpace(segments[0])
	}
	for _, segment := range segments[1:] {
		if strings.EqualFold(strings.TrimSpace(segment), "base64") {
			isBase64 = true
		}
	}
	if !isSupportedContentType(mediaType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, mediaType)
	}

	var data []byte
	var decodeErr error
	if isBase64 {
		data, decodeErr = decodeBase64(payloadSection)
	} else {
		var unescaped string
		unescaped, decodeErr = url.PathUnescape(payloadSection)
		data = []byte(unescaped)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if len(data) == 0 {
		return nil, ErrEmptyAsset
	}
	if int64(len(data)) > fetcher.maxImageBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrAssetTooLarge, fetcher.maxImageBytes)
	}
	return data, nil
}

func decodeBase64(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	data, err := base64.StdEncoding.DecodeString(trimmed)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(trimmed)
}

func isSupportedContentType(contentType string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if index := strings.Index(normalized, ";"); index >= 0 {
		normalized = strings.TrimSpace(normalized[:index])
	}
	switch {
	case normalized == "":
		return true
	case normalized == "application/octet-stream", normalized == "binary/octet-stream":
		return true
	case strings.Contains(normalized, "svg"):
		return false
	case strings.HasPrefix(normalized, "image/"):
		return true
	default:
		return false
	}
}
