package heatmap

import (
	"context"
	"image"
	"strings"
	"sync"
)

// Frame is the outcome of one Component render request.
type Frame struct {
	Image         *image.RGBA
	State         AssetState
	Placeholder   bool
	BackgroundURL string
	BackgroundErr error
}

// Component owns one render surface and the background lifecycle for it.
//
// Every SetBackground call with a new URL starts a new generation. A decode
// completion carries the generation it was requested under and is applied
// only while that generation is still current.
type Component struct {
	cache    *BackgroundCache
	renderer *Renderer

	stateMutex    sync.Mutex
	imageURL      string
	heldURL       string
	generation    uint64
	state         AssetState
	background    image.Image
	backgroundErr error
	changed       chan struct{}

	renderMutex sync.Mutex
	surface     *RasterSurface
}

// NewComponent builds a Component with no background configured.
func NewComponent(cache *BackgroundCache, renderer *Renderer) *Component {
	if renderer == nil {
		renderer = NewRenderer()
	}
	changed := make(chan struct{})
	close(changed)
	return &Component{
		cache:    cache,
		renderer: renderer,
		state:    AssetReady,
		changed:  changed,
	}
}

// SetBackground configures the background URL and returns the generation
// token in effect. Repeating the current URL keeps the current generation,
// unless the previous decode failed and the cache is due to retry it.
// An empty URL clears the background and leaves the component Ready.
func (component *Component) SetBackground(imageURL string) uint64 {
	normalizedURL := strings.TrimSpace(imageURL)

	component.stateMutex.Lock()
	sameURL := component.generation > 0 && normalizedURL == component.imageURL
	retrying := sameURL && component.state == AssetFailed && component.heldURL != "" && component.cache.RetryDue(normalizedURL)
	if sameURL && !retrying {
		token := component.generation
		component.stateMutex.Unlock()
		return token
	}
	component.generation++
	token := component.generation
	component.imageURL = normalizedURL
	component.background = nil
	component.backgroundErr = nil
	component.signalChangedLocked()
	leavingURL := ""
	if !retrying {
		leavingURL = component.heldURL
		component.heldURL = ""
	}
	if normalizedURL == "" || component.cache == nil {
		component.state = AssetReady
		if normalizedURL != "" {
			component.state = AssetFailed
			component.backgroundErr = ErrDecoderUnavailable
		}
		component.stateMutex.Unlock()
		component.releaseURL(leavingURL)
		return token
	}
	component.state = AssetLoading
	component.changed = make(chan struct{})
	if !retrying {
		component.heldURL = normalizedURL
	}
	component.stateMutex.Unlock()

	asset, done, entry := component.cache.request(normalizedURL, !retrying)
	component.releaseURL(leavingURL)
	if asset.State != AssetLoading {
		component.apply(token, asset)
		return token
	}
	go func() {
		for {
			<-done
			completed, next := component.cache.entryState(entry)
			if completed.State != AssetLoading {
				component.apply(token, completed)
				return
			}
			done = next
		}
	}()
	return token
}

// Release drops the background and its cache reference. The component stays
// usable and starts over on the next SetBackground.
func (component *Component) Release() {
	component.stateMutex.Lock()
	leavingURL := component.heldURL
	component.heldURL = ""
	component.generation++
	component.imageURL = ""
	component.state = AssetReady
	component.background = nil
	component.backgroundErr = nil
	component.signalChangedLocked()
	component.stateMutex.Unlock()
	component.releaseURL(leavingURL)
}

func (component *Component) releaseURL(imageURL string) {
	if imageURL == "" || component.cache == nil {
		return
	}
	component.cache.Release(imageURL)
}

// apply records a completed decode. It reports false when token is stale.
func (component *Component) apply(token uint64, asset Asset) bool {
	component.stateMutex.Lock()
	defer component.stateMutex.Unlock()
	if token != component.generation || component.state != AssetLoading {
		return false
	}
	switch asset.State {
	case AssetReady:
		component.state = AssetReady
		component.background = asset.Image
	case AssetFailed:
		component.state = AssetFailed
		component.backgroundErr = asset.Err
	default:
		return false
	}
	component.signalChangedLocked()
	return true
}

func (component *Component) signalChangedLocked() {
	select {
	case <-component.changed:
	default:
		close(component.changed)
	}
}

// State returns the background state and current generation.
func (component *Component) State() (AssetState, uint64) {
	component.stateMutex.Lock()
	defer component.stateMutex.Unlock()
	return component.state, component.generation
}

// Changed returns a channel closed on the next state change. While no decode
// is pending the returned channel is already closed.
func (component *Component) Changed() <-chan struct{} {
	component.stateMutex.Lock()
	defer component.stateMutex.Unlock()
	return component.changed
}

// WaitReady blocks until the component leaves Loading or ctx ends.
func (component *Component) WaitReady(ctx context.Context) (AssetState, error) {
	for {
		component.stateMutex.Lock()
		state, changed := component.state, component.changed
		component.stateMutex.Unlock()
		if state != AssetLoading {
			return state, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// Frame renders points at the given size. While the background is loading
// it returns a placeholder instead of drawing. On a failed background the
// points are rendered without it.
func (component *Component) Frame(points []Point, width int, height int) (Frame, error) {
	component.stateMutex.Lock()
	state := component.state
	background := component.background
	backgroundURL := component.imageURL
	backgroundErr := component.backgroundErr
	component.stateMutex.Unlock()

	if state == AssetLoading {
		placeholder, placeholderErr := Placeholder(width, height)
		if placeholderErr != nil {
			return Frame{}, placeholderErr
		}
		return Frame{
			Image:         placeholder,
			State:         state,
			Placeholder:   true,
			BackgroundURL: backgroundURL,
		}, nil
	}

	component.renderMutex.Lock()
	defer component.renderMutex.Unlock()
	if component.surface == nil || !component.surfaceMatches(width, height) {
		surface, surfaceErr := NewRasterSurface(width, height)
		if surfaceErr != nil {
			return Frame{}, surfaceErr
		}
		component.surface = surface
	}
	component.renderer.Render(component.surface, points, background)

	return Frame{
		Image:         component.surface.Snapshot(),
		State:         state,
		BackgroundURL: backgroundURL,
		BackgroundErr: backgroundErr,
	}, nil
}

func (component *Component) surfaceMatches(width int, height int) bool {
	currentWidth, currentHeight := component.surface.Size()
	return currentWidth == width && currentHeight == height
}
