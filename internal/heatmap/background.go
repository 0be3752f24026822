package heatmap

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDecodeTimeout     = 30 * time.Second
	defaultFailureRetryAfter = time.Minute
	defaultMaxCacheEntries   = 256
)

// ErrDecoderUnavailable reports a cache constructed without a decoder.
var ErrDecoderUnavailable = errors.New("heatmap: background decoder unavailable")

// AssetState tracks the decode status of a background image.
type AssetState int

const (
	// AssetLoading means the decode has started and not yet completed.
	AssetLoading AssetState = iota
	// AssetReady means the image decoded, or no image is configured.
	AssetReady
	// AssetFailed means the decode completed with an error.
	AssetFailed
)

func (state AssetState) String() string {
	switch state {
	case AssetLoading:
		return "loading"
	case AssetReady:
		return "ready"
	case AssetFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Asset is a snapshot of one cached background.
type Asset struct {
	URL   string
	State AssetState
	Image image.Image
	Err   error
}

// Decoder turns an image URL into a drawable bitmap.
type Decoder interface {
	Decode(ctx context.Context, imageURL string) (image.Image, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, imageURL string) (image.Image, error)

// Decode calls the wrapped function.
func (decoderFunc DecoderFunc) Decode(ctx context.Context, imageURL string) (image.Image, error) {
	return decoderFunc(ctx, imageURL)
}

type cacheEntry struct {
	asset    Asset
	done     chan struct{}
	refs     int
	released bool
	failedAt time.Time
}

// BackgroundCache decodes each background URL at most once and keeps the
// result keyed by URL, so concurrent requests resolve by URL identity.
//
// Components hold references through Acquire and Release. An entry whose
// last reference is released is dropped once its decode completes. Entries
// nobody holds are evicted when the cache grows past its capacity, and a
// failed decode is retried after the retry delay.
type BackgroundCache struct {
	decoder       Decoder
	logger        *zap.Logger
	decodeTimeout time.Duration
	retryAfter    time.Duration
	maxEntries    int
	now           func() time.Time
	mutex         sync.Mutex
	entries       map[string]*cacheEntry
}

// NewBackgroundCache builds a cache. A non-positive decodeTimeout uses the default.
func NewBackgroundCache(decoder Decoder, logger *zap.Logger, decodeTimeout time.Duration) *BackgroundCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if decodeTimeout <= 0 {
		decodeTimeout = defaultDecodeTimeout
	}
	return &BackgroundCache{
		decoder:       decoder,
		logger:        logger,
		decodeTimeout: decodeTimeout,
		retryAfter:    defaultFailureRetryAfter,
		maxEntries:    defaultMaxCacheEntries,
		now:           time.Now,
		entries:       make(map[string]*cacheEntry),
	}
}

// WithFailureRetryAfter sets how long a failed decode is served before the
// next request decodes the URL again. Zero retries on every request.
func (cache *BackgroundCache) WithFailureRetryAfter(retryAfter time.Duration) *BackgroundCache {
	if retryAfter >= 0 {
		cache.retryAfter = retryAfter
	}
	return cache
}

// WithMaxEntries bounds the number of cached URLs. Entries held by a
// component or still decoding are never evicted.
func (cache *BackgroundCache) WithMaxEntries(maxEntries int) *BackgroundCache {
	if maxEntries > 0 {
		cache.maxEntries = maxEntries
	}
	return cache
}

// Request returns the current snapshot for imageURL and a channel closed when
// its decode completes. The first request for a URL starts the decode, and so
// does a request for a URL whose failure is older than the retry delay.
func (cache *BackgroundCache) Request(imageURL string) (Asset, <-chan struct{}) {
	asset, done, _ := cache.request(strings.TrimSpace(imageURL), false)
	return asset, done
}

// Acquire is Request plus a reference that keeps the entry cached until Release.
func (cache *BackgroundCache) Acquire(imageURL string) (Asset, <-chan struct{}) {
	asset, done, _ := cache.request(strings.TrimSpace(imageURL), true)
	return asset, done
}

// Release drops one reference taken by Acquire. The last release removes
// the entry, or marks it for removal when its decode is still running.
func (cache *BackgroundCache) Release(imageURL string) {
	normalizedURL := strings.TrimSpace(imageURL)
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	entry, exists := cache.entries[normalizedURL]
	if !exists || entry.refs == 0 {
		return
	}
	entry.refs--
	if entry.refs > 0 {
		return
	}
	entry.released = true
	if entry.asset.State != AssetLoading {
		delete(cache.entries, normalizedURL)
	}
}

// RetryDue reports whether the next request for imageURL starts a new decode.
func (cache *BackgroundCache) RetryDue(imageURL string) bool {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	entry, exists := cache.entries[strings.TrimSpace(imageURL)]
	if !exists {
		return true
	}
	return cache.retryDueLocked(entry)
}

// Len returns the number of cached URLs.
func (cache *BackgroundCache) Len() int {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	return len(cache.entries)
}

// Snapshot returns the cached asset for imageURL without starting a decode.
func (cache *BackgroundCache) Snapshot(imageURL string) (Asset, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	entry, exists := cache.entries[strings.TrimSpace(imageURL)]
	if !exists {
		return Asset{}, false
	}
	return entry.asset, true
}

// Wait requests imageURL and blocks until its decode completes or ctx ends.
func (cache *BackgroundCache) Wait(ctx context.Context, imageURL string) (Asset, error) {
	asset, done, entry := cache.request(strings.TrimSpace(imageURL), false)
	for asset.State == AssetLoading {
		select {
		case <-done:
			asset, done = cache.entryState(entry)
		case <-ctx.Done():
			return asset, ctx.Err()
		}
	}
	return asset, nil
}

// Forget drops a completed entry so the next request decodes again.
// Entries still loading are kept.
func (cache *BackgroundCache) Forget(imageURL string) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	normalizedURL := strings.TrimSpace(imageURL)
	if entry, exists := cache.entries[normalizedURL]; exists && entry.asset.State != AssetLoading {
		delete(cache.entries, normalizedURL)
	}
}

func (cache *BackgroundCache) request(imageURL string, acquire bool) (Asset, <-chan struct{}, *cacheEntry) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	entry, exists := cache.entries[imageURL]
	switch {
	case !exists:
		entry = &cacheEntry{}
		cache.entries[imageURL] = entry
		cache.startDecodeLocked(imageURL, entry)
		cache.evictLocked()
	case cache.retryDueLocked(entry):
		cache.logger.Debug("heatmap_background_retry", zap.String("url", imageURL))
		cache.startDecodeLocked(imageURL, entry)
	}
	if acquire {
		entry.refs++
		entry.released = false
	}
	return entry.asset, entry.done, entry
}

// entryState reads an entry by identity so callers holding it keep working
// after the URL is released or evicted.
func (cache *BackgroundCache) entryState(entry *cacheEntry) (Asset, <-chan struct{}) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	return entry.asset, entry.done
}

func (cache *BackgroundCache) retryDueLocked(entry *cacheEntry) bool {
	return entry.asset.State == AssetFailed && cache.now().Sub(entry.failedAt) >= cache.retryAfter
}

func (cache *BackgroundCache) startDecodeLocked(imageURL string, entry *cacheEntry) {
	done := make(chan struct{})
	entry.asset = Asset{URL: imageURL, State: AssetLoading}
	entry.done = done
	go cache.decode(imageURL, entry, done)
}

func (cache *BackgroundCache) evictLocked() {
	for imageURL, entry := range cache.entries {
		if len(cache.entries) <= cache.maxEntries {
			return
		}
		if entry.refs == 0 && entry.asset.State != AssetLoading {
			delete(cache.entries, imageURL)
			cache.logger.Debug("heatmap_background_evicted", zap.String("url", imageURL))
		}
	}
}

func (cache *BackgroundCache) decode(imageURL string, entry *cacheEntry, done chan struct{}) {
	var decoded image.Image
	decodeErr := ErrDecoderUnavailable
	if cache.decoder != nil {
		decodeContext, cancel := context.WithTimeout(context.Background(), cache.decodeTimeout)
		decoded, decodeErr = cache.decoder.Decode(decodeContext, imageURL)
		cancel()
	}
	if decodeErr == nil && decoded == nil {
		decodeErr = errors.New("heatmap: decoder returned no image")
	}

	if decodeErr != nil {
		cache.logger.Warn("heatmap_background_failed", zap.String("url", imageURL), zap.Error(decodeErr))
	} else {
		cache.logger.Debug("heatmap_background_decoded", zap.String("url", imageURL))
	}

	cache.mutex.Lock()
	if decodeErr != nil {
		entry.asset = Asset{URL: imageURL, State: AssetFailed, Err: decodeErr}
		entry.failedAt = cache.now()
	} else {
		entry.asset = Asset{URL: imageURL, State: AssetReady, Image: decoded}
	}
	if entry.released && entry.refs == 0 && cache.entries[imageURL] == entry {
		delete(cache.entries, imageURL)
	}
	cache.mutex.Unlock()
	close(done)
}
