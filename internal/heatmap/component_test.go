package heatmap

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testBackgroundURLFirst  = "https://cdn.example.com/first.png"
	testBackgroundURLSecond = "https://cdn.example.com/second.png"
	testWaitTimeout         = 2 * time.Second
	testPollInterval        = 5 * time.Millisecond
	testDecodeErrorMessage  = "decode failed"
)

var (
	testFirstBackgroundColor  = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	testSecondBackgroundColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
)

type gatedDecoder struct {
	mutex  sync.Mutex
	gates  map[string]chan struct{}
	images map[string]image.Image
	errs   map[string]error
	calls  int64
}

func newGatedDecoder() *gatedDecoder {
	return &gatedDecoder{
		gates:  make(map[string]chan struct{}),
		images: make(map[string]image.Image),
		errs:   make(map[string]error),
	}
}

func (decoder *gatedDecoder) hold(imageURL string) {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()
	decoder.gates[imageURL] = make(chan struct{})
}

func (decoder *gatedDecoder) release(imageURL string) {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()
	close(decoder.gates[imageURL])
}

func (decoder *gatedDecoder) Decode(ctx context.Context, imageURL string) (image.Image, error) {
	atomic.AddInt64(&decoder.calls, 1)
	decoder.mutex.Lock()
	gate := decoder.gates[imageURL]
	decoded := decoder.images[imageURL]
	decodeErr := decoder.errs[imageURL]
	decoder.mutex.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return decoded, decodeErr
}

func waitContext(testingT *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testWaitTimeout)
	testingT.Cleanup(cancel)
	return ctx
}

func TestComponentWithoutBackgroundRendersImmediately(testingT *testing.T) {
	component := NewComponent(NewBackgroundCache(newGatedDecoder(), zap.NewNop(), 0), nil)

	state, generation := component.State()
	require.Equal(testingT, AssetReady, state)
	require.Zero(testingT, generation)

	frame, frameErr := component.Frame([]Point{{X: 10, Y: 10, Value: 1}}, testCanvasWidth, testCanvasHeight)
	require.NoError(testingT, frameErr)
	require.False(testingT, frame.Placeholder)
	require.Equal(testingT, uint8(204), frame.Image.RGBAAt(10, 10).A)
}

func TestComponentShowsPlaceholderUntilBackgroundDecodes(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.images[testBackgroundURLFirst] = solidImage(8, 8, testFirstBackgroundColor)
	decoder.hold(testBackgroundURLFirst)
	component := NewComponent(NewBackgroundCache(decoder, zap.NewNop(), 0), nil)

	component.SetBackground(testBackgroundURLFirst)
	changed := component.Changed()

	loadingFrame, loadingErr := component.Frame([]Point{{X: 10, Y: 10, Value: 1}}, 40, 30)
	require.NoError(testingT, loadingErr)
	require.True(testingT, loadingFrame.Placeholder)
	require.Equal(testingT, AssetLoading, loadingFrame.State)
	require.Equal(testingT, image.Rect(0, 0, 40, 30), loadingFrame.Image.Bounds())
	require.Equal(testingT, PlaceholderColor, loadingFrame.Image.RGBAAt(10, 10))

	decoder.release(testBackgroundURLFirst)
	select {
	case <-changed:
	case <-time.After(testWaitTimeout):
		testingT.Fatal("component did not signal the decode completion")
	}

	state, waitErr := component.WaitReady(waitContext(testingT))
	require.NoError(testingT, waitErr)
	require.Equal(testingT, AssetReady, state)

	readyFrame, readyErr := component.Frame(nil, 40, 30)
	require.NoError(testingT, readyErr)
	require.False(testingT, readyFrame.Placeholder)
	require.Equal(testingT, testFirstBackgroundColor, readyFrame.Image.RGBAAt(0, 0))
	require.Equal(testingT, testBackgroundURLFirst, readyFrame.BackgroundURL)
}

func TestComponentDiscardsStaleCompletion(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.images[testBackgroundURLFirst] = solidImage(4, 4, testFirstBackgroundColor)
	decoder.images[testBackgroundURLSecond] = solidImage(4, 4, testSecondBackgroundColor)
	decoder.hold(testBackgroundURLFirst)
	decoder.hold(testBackgroundURLSecond)
	cache := NewBackgroundCache(decoder, zap.NewNop(), 0)
	component := NewComponent(cache, nil)

	firstToken := component.SetBackground(testBackgroundURLFirst)
	secondToken := component.SetBackground(testBackgroundURLSecond)
	require.Greater(testingT, secondToken, firstToken)

	decoder.release(testBackgroundURLSecond)
	state, waitErr := component.WaitReady(waitContext(testingT))
	require.NoError(testingT, waitErr)
	require.Equal(testingT, AssetReady, state)

	decoder.release(testBackgroundURLFirst)
	firstAsset, firstErr := cache.Wait(waitContext(testingT), testBackgroundURLFirst)
	require.NoError(testingT, firstErr)
	require.Equal(testingT, AssetReady, firstAsset.State)

	require.False(testingT, component.apply(firstToken, firstAsset))

	frame, frameErr := component.Frame(nil, 10, 10)
	require.NoError(testingT, frameErr)
	require.Equal(testingT, testSecondBackgroundColor, frame.Image.RGBAAt(5, 5))
	require.Equal(testingT, testBackgroundURLSecond, frame.BackgroundURL)
}

func TestComponentFailedBackgroundRendersPointsWithoutImage(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.errs[testBackgroundURLFirst] = errors.New(testDecodeErrorMessage)
	observedCore, observedLogs := observer.New(zap.WarnLevel)
	component := NewComponent(NewBackgroundCache(decoder, zap.New(observedCore), 0), nil)

	component.SetBackground(testBackgroundURLFirst)
	state, waitErr := component.WaitReady(waitContext(testingT))
	require.NoError(testingT, waitErr)
	require.Equal(testingT, AssetFailed, state)

	frame, frameErr := component.Frame([]Point{{X: 50, Y: 50, Value: 2}}, testCanvasWidth, testCanvasHeight)
	require.NoError(testingT, frameErr)
	require.False(testingT, frame.Placeholder)
	require.Equal(testingT, AssetFailed, frame.State)
	require.EqualError(testingT, frame.BackgroundErr, testDecodeErrorMessage)
	require.Equal(testingT, uint8(0), frame.Image.RGBAAt(0, 0).A)
	require.Equal(testingT, uint8(204), frame.Image.RGBAAt(50, 50).A)
	require.Equal(testingT, 1, observedLogs.FilterMessage("heatmap_background_failed").Len())
}

func TestComponentRepeatedURLKeepsGeneration(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.images[testBackgroundURLFirst] = solidImage(2, 2, testFirstBackgroundColor)
	component := NewComponent(NewBackgroundCache(decoder, zap.NewNop(), 0), nil)

	firstToken := component.SetBackground(testBackgroundURLFirst)
	repeatedToken := component.SetBackground(" " + testBackgroundURLFirst + " ")
	require.Equal(testingT, firstToken, repeatedToken)

	_, waitErr := component.WaitReady(waitContext(testingT))
	require.NoError(testingT, waitErr)
	require.Equal(testingT, int64(1), atomic.LoadInt64(&decoder.calls))
}

func TestComponentClearingBackgroundReturnsToReady(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.hold(testBackgroundURLFirst)
	component := NewComponent(NewBackgroundCache(decoder, zap.NewNop(), 0), nil)

	component.SetBackground(testBackgroundURLFirst)
	loadingState, _ := component.State()
	require.Equal(testingT, AssetLoading, loadingState)

	component.SetBackground("")
	readyState, _ := component.State()
	require.Equal(testingT, AssetReady, readyState)

	decoder.release(testBackgroundURLFirst)
	frame, frameErr := component.Frame(nil, 5, 5)
	require.NoError(testingT, frameErr)
	require.False(testingT, frame.Placeholder)
	require.Empty(testingT, frame.BackgroundURL)
}

func TestComponentWaitReadyHonorsContext(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.hold(testBackgroundURLFirst)
	component := NewComponent(NewBackgroundCache(decoder, zap.NewNop(), 0), nil)
	testingT.Cleanup(func() { decoder.release(testBackgroundURLFirst) })

	component.SetBackground(testBackgroundURLFirst)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	state, waitErr := component.WaitReady(ctx)
	require.ErrorIs(testingT, waitErr, context.DeadlineExceeded)
	require.Equal(testingT, AssetLoading, state)
}

func TestComponentFrameRejectsInvalidDimensions(testingT *testing.T) {
	component := NewComponent(nil, nil)
	_, frameErr := component.Frame(nil, 0, 10)
	require.ErrorIs(testingT, frameErr, ErrInvalidDimensions)
}

func TestComponentWithoutCacheFailsConfiguredBackground(testingT *testing.T) {
	component := NewComponent(nil, nil)
	component.SetBackground(testBackgroundURLFirst)
	state, _ := component.State()
	require.Equal(testingT, AssetFailed, state)
}

func TestBackgroundCacheDecodesEachURLOnce(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.images[testBackgroundURLFirst] = solidImage(2, 2, testFirstBackgroundColor)
	cache := NewBackgroundCache(decoder, zap.NewNop(), 0)

	for attempt := 0; attempt < 5; attempt++ {
		asset, waitErr := cache.Wait(waitContext(testingT), testBackgroundURLFirst)
		require.NoError(testingT, waitErr)
		require.Equal(testingT, AssetReady, asset.State)
	}
	require.Equal(testingT, int64(1), atomic.LoadInt64(&decoder.calls))

	cache.Forget(testBackgroundURLFirst)
	_, waitErr := cache.Wait(waitContext(testingT), testBackgroundURLFirst)
	require.NoError(testingT, waitErr)
	require.Equal(testingT, int64(2), atomic.LoadInt64(&decoder.calls))
}

func TestBackgroundCacheWithoutDecoderFails(testingT *testing.T) {
	cache := NewBackgroundCache(nil, nil, 0)
	asset, waitErr := cache.Wait(waitContext(testingT), testBackgroundURLFirst)
	require.NoError(testingT, waitErr)
	require.Equal(testingT, AssetFailed, asset.State)
	require.ErrorIs(testingT, asset.Err, ErrDecoderUnavailable)
}

func TestBackgroundCacheTimesOutStuckDecode(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.hold(testBackgroundURLFirst)
	testingT.Cleanup(func() { decoder.release(testBackgroundURLFirst) })
	cache := NewBackgroundCache(decoder, zap.NewNop(), 20*time.Millisecond)

	asset, waitErr := cache.Wait(waitContext(testingT), testBackgroundURLFirst)
	require.NoError(testingT, waitErr)
	require.Equal(testingT, AssetFailed, asset.State)
	require.ErrorIs(testingT, asset.Err, context.DeadlineExceeded)
}

func TestRegistryReusesComponentPerKey(testingT *testing.T) {
	registry := NewRegistry(NewBackgroundCache(newGatedDecoder(), zap.NewNop(), 0), NewRenderer())
	first := registry.Component("page-1")
	require.Same(testingT, first, registry.Component(" page-1 "))
	require.NotSame(testingT, first, registry.Component("page-2"))

	registry.Remove("page-1")
	require.NotSame(testingT, first, registry.Component("page-1"))
}

func TestAssetStateString(testingT *testing.T) {
	require.Equal(testingT, "loading", AssetLoading.String())
	require.Equal(testingT, "ready", AssetReady.String())
	require.Equal(testingT, "failed", AssetFailed.String())
	require.Equal(testingT, "unknown", AssetState(9).String())
}

func TestComponentPollsToReadyEventually(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.images[testBackgroundURLSecond] = solidImage(2, 2, testSecondBackgroundColor)
	component := NewComponent(NewBackgroundCache(decoder, zap.NewNop(), 0), nil)
	component.SetBackground(testBackgroundURLSecond)

	require.Eventually(testingT, func() bool {
		state, _ := component.State()
		return state == AssetReady
	}, testWaitTimeout, testPollInterval)
}

func (decoder *gatedDecoder) succeedWith(imageURL string, decoded image.Image) {
	decoder.mutex.Lock()
	defer decoder.mutex.Unlock()
	delete(decoder.errs, imageURL)
	decoder.images[imageURL] = decoded
}

func TestRegistryRemoveReleasesFailedBackground(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.errs[testBackgroundURLFirst] = errors.New(testDecodeErrorMessage)
	cache := NewBackgroundCache(decoder, zap.NewNop(), 0)
	registry := NewRegistry(cache, NewRenderer())

	failing := registry.Component("page")
	failing.SetBackground(testBackgroundURLFirst)
	failedState, failedErr := failing.WaitReady(waitContext(testingT))
	require.NoError(testingT, failedErr)
	require.Equal(testingT, AssetFailed, failedState)

	registry.Remove("page")
	require.Zero(testingT, cache.Len())

	decoder.succeedWith(testBackgroundURLFirst, solidImage(2, 2, testFirstBackgroundColor))
	replacement := registry.Component("other")
	replacement.SetBackground(testBackgroundURLFirst)
	readyState, readyErr := replacement.WaitReady(waitContext(testingT))
	require.NoError(testingT, readyErr)
	require.Equal(testingT, AssetReady, readyState)
	require.Equal(testingT, int64(2), atomic.LoadInt64(&decoder.calls))
}

func TestComponentLeavingURLReleasesCacheEntry(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.images[testBackgroundURLFirst] = solidImage(2, 2, testFirstBackgroundColor)
	decoder.images[testBackgroundURLSecond] = solidImage(2, 2, testSecondBackgroundColor)
	cache := NewBackgroundCache(decoder, zap.NewNop(), 0)
	component := NewComponent(cache, nil)

	component.SetBackground(testBackgroundURLFirst)
	_, firstErr := component.WaitReady(waitContext(testingT))
	require.NoError(testingT, firstErr)
	require.Equal(testingT, 1, cache.Len())

	component.SetBackground(testBackgroundURLSecond)
	_, secondErr := component.WaitReady(waitContext(testingT))
	require.NoError(testingT, secondErr)

	_, firstCached := cache.Snapshot(testBackgroundURLFirst)
	require.False(testingT, firstCached)
	require.Equal(testingT, 1, cache.Len())

	component.Release()
	require.Zero(testingT, cache.Len())
	state, _ := component.State()
	require.Equal(testingT, AssetReady, state)
}

func TestSharedBackgroundStaysCachedWhileReferenced(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.images[testBackgroundURLFirst] = solidImage(2, 2, testFirstBackgroundColor)
	cache := NewBackgroundCache(decoder, zap.NewNop(), 0)
	registry := NewRegistry(cache, NewRenderer())

	for _, key := range []string{"page-1", "page-2"} {
		component := registry.Component(key)
		component.SetBackground(testBackgroundURLFirst)
		_, waitErr := component.WaitReady(waitContext(testingT))
		require.NoError(testingT, waitErr)
	}

	registry.Remove("page-1")
	asset, cached := cache.Snapshot(testBackgroundURLFirst)
	require.True(testingT, cached)
	require.Equal(testingT, AssetReady, asset.State)
	require.Equal(testingT, int64(1), atomic.LoadInt64(&decoder.calls))

	registry.Remove("page-2")
	require.Zero(testingT, cache.Len())
}

func TestComponentRetriesFailedBackgroundAfterDelay(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.errs[testBackgroundURLFirst] = errors.New(testDecodeErrorMessage)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	var clockMutex sync.Mutex
	cache := NewBackgroundCache(decoder, zap.NewNop(), 0).WithFailureRetryAfter(time.Minute)
	cache.now = func() time.Time {
		clockMutex.Lock()
		defer clockMutex.Unlock()
		return now
	}
	component := NewComponent(cache, nil)

	firstToken := component.SetBackground(testBackgroundURLFirst)
	failedState, failedErr := component.WaitReady(waitContext(testingT))
	require.NoError(testingT, failedErr)
	require.Equal(testingT, AssetFailed, failedState)

	decoder.succeedWith(testBackgroundURLFirst, solidImage(2, 2, testFirstBackgroundColor))
	require.Equal(testingT, firstToken, component.SetBackground(testBackgroundURLFirst))
	require.Equal(testingT, int64(1), atomic.LoadInt64(&decoder.calls))

	clockMutex.Lock()
	now = now.Add(time.Minute)
	clockMutex.Unlock()

	retryToken := component.SetBackground(testBackgroundURLFirst)
	require.Greater(testingT, retryToken, firstToken)
	readyState, readyErr := component.WaitReady(waitContext(testingT))
	require.NoError(testingT, readyErr)
	require.Equal(testingT, AssetReady, readyState)
	require.Equal(testingT, int64(2), atomic.LoadInt64(&decoder.calls))
	require.Equal(testingT, 1, cache.Len())
}

func TestBackgroundCacheEvictsUnreferencedEntries(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.images[testBackgroundURLFirst] = solidImage(2, 2, testFirstBackgroundColor)
	decoder.images[testBackgroundURLSecond] = solidImage(2, 2, testSecondBackgroundColor)
	cache := NewBackgroundCache(decoder, zap.NewNop(), 0).WithMaxEntries(1)

	_, firstErr := cache.Wait(waitContext(testingT), testBackgroundURLFirst)
	require.NoError(testingT, firstErr)
	_, secondErr := cache.Wait(waitContext(testingT), testBackgroundURLSecond)
	require.NoError(testingT, secondErr)

	_, firstCached := cache.Snapshot(testBackgroundURLFirst)
	require.False(testingT, firstCached)
	require.Equal(testingT, 1, cache.Len())
}

func TestBackgroundCacheKeepsAcquiredEntriesOverCapacity(testingT *testing.T) {
	decoder := newGatedDecoder()
	decoder.images[testBackgroundURLFirst] = solidImage(2, 2, testFirstBackgroundColor)
	decoder.images[testBackgroundURLSecond] = solidImage(2, 2, testSecondBackgroundColor)
	cache := NewBackgroundCache(decoder, zap.NewNop(), 0).WithMaxEntries(1)

	_, done := cache.Acquire(testBackgroundURLFirst)
	<-done
	_, secondErr := cache.Wait(waitContext(testingT), testBackgroundURLSecond)
	require.NoError(testingT, secondErr)

	asset, firstCached := cache.Snapshot(testBackgroundURLFirst)
	require.True(testingT, firstCached)
	require.Equal(testingT, AssetReady, asset.State)

	cache.Release(testBackgroundURLFirst)
	_, stillCached := cache.Snapshot(testBackgroundURLFirst)
	require.False(testingT, stillCached)
}
