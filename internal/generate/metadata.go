package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	defaultMetadataTimeout  = 5 * time.Second
	maxMetadataHTMLBytes    = 1 << 20
	metadataFieldMaxLength  = 300
	metadataUserAgentHeader = "PagePilot-AdGenerator/1.0"
)

// ErrMetadataUnavailable indicates the landing page could not be read.
var ErrMetadataUnavailable = errors.New("generate: landing page metadata unavailable")

// PageMetadata is the textual summary of a landing page used to ground the prompt.
type PageMetadata struct {
	Title       string
	Description string
	Heading     string
}

// Empty reports whether no field was found.
func (metadata PageMetadata) Empty() bool {
	return metadata.Title == "" && metadata.Description == "" && metadata.Heading == ""
}

// MetadataSource loads metadata for a landing page URL.
type MetadataSource interface {
	Fetch(ctx context.Context, pageURL string) (PageMetadata, error)
}

// MetadataFetcher reads the title, meta description and first h1 of a page over HTTP.
type MetadataFetcher struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewMetadataFetcher builds a fetcher. A nil client gets a default with a short timeout.
func NewMetadataFetcher(httpClient *http.Client, logger *zap.Logger) *MetadataFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultMetadataTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataFetcher{httpClient: httpClient, logger: logger}
}

// Fetch downloads pageURL and extracts its metadata.
func (fetcher *MetadataFetcher) Fetch(ctx context.Context, pageURL string) (PageMetadata, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if requestErr != nil {
		return PageMetadata{}, fmt.Errorf("%w: %v", ErrMetadataUnavailable, requestErr)
	}
	request.Header.Set("User-Agent", metadataUserAgentHeader)
	request.Header.Set("Accept", "text/html,application/xhtml+xml")

	response, responseErr := fetcher.httpClient.Do(request)
	if responseErr != nil {
		return PageMetadata{}, fmt.Errorf("%w: %v", ErrMetadataUnavailable, responseErr)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return PageMetadata{}, fmt.Errorf("%w: status %d", ErrMetadataUnavailable, response.StatusCode)
	}
	contentType := strings.ToLower(response.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "html") {
		return PageMetadata{}, fmt.Errorf("%w: content type %s", ErrMetadataUnavailable, contentType)
	}

	document, parseErr := html.Parse(io.LimitReader(response.Body, maxMetadataHTMLBytes))
	if parseErr != nil {
		return PageMetadata{}, fmt.Errorf("%w: %v", ErrMetadataUnavailable, parseErr)
	}
	metadata := ExtractMetadata(document)
	fetcher.logger.Debug("landing_page_metadata_fetched",
		zap.String("url", pageURL),
		zap.Bool("empty", metadata.Empty()),
	)
	return metadata, nil
}

// ExtractMetadata walks a parsed document and collects its title, meta
// description and first h1 text.
func ExtractMetadata(document *html.Node) PageMetadata {
	var metadata PageMetadata
	var visit func(node *html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.ElementNode {
			switch node.DataAtom {
			case atom.Title:
				if metadata.Title == "" {
					metadata.Title = collapseText(nodeText(node))
				}
			case atom.Meta:
				if metadata.Description == "" && isDescriptionMeta(node) {
					metadata.Description = collapseText(attributeValue(node, "content"))
				}
			case atom.H1:
				if metadata.Heading == "" {
					metadata.Heading = collapseText(nodeText(node))
				}
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	if document != nil {
		visit(document)
	}
	return metadata
}

func isDescriptionMeta(node *html.Node) bool {
	name := strings.ToLower(attributeValue(node, "name"))
	property := strings.ToLower(attributeValue(node, "property"))
	return name == "description" || property == "og:description"
}

func attributeValue(node *html.Node, key string) string {
	for _, attribute := range node.Attr {
		if strings.EqualFold(attribute.Key, key) {
			return attribute.Val
		}
	}
	return ""
}

func nodeText(node *html.Node) string {
	var builder strings.Builder
	var collect func(current *html.Node)
	collect = func(current *html.Node) {
		if current.Type == html.TextNode {
			builder.WriteString(current.Data)
			builder.WriteByte(' ')
		}
		for child := current.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(node)
	return builder.String()
}

func collapseText(value string) string {
	collapsed := strings.Join(strings.Fields(value), " ")
	if len(collapsed) <= metadataFieldMaxLength {
		return collapsed
	}
	cut := metadataFieldMaxLength
	for cut > 0 && !utf8.RuneStart(collapsed[cut]) {
		cut--
	}
	return strings.TrimSpace(collapsed[:cut])
}
