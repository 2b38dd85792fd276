package download

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/linkpreview"
)

func record(title string) linkpreview.Record {
	return linkpreview.Record{Title: linkpreview.String(title)}
}

func TestDo_SingleCall(t *testing.T) {
	d := New()

	expected := record("hello")

	rec, shared, err := d.Do(context.Background(), "https://a.example", func(ctx context.Context) (linkpreview.Record, error) {
		return expected, nil
	})

	require.NoError(t, err)
	require.False(t, shared)
	require.True(t, expected.Equal(rec))
}

func TestDo_ConcurrentDeduplication(t *testing.T) {
	d := New()

	var callCount atomic.Int32
	expected := record("data")

	var wg sync.WaitGroup
	results := make([]linkpreview.Record, 10)
	errs := make([]error, 10)

	// slow enough for all goroutines to pile up
	for i := range 10 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], _, errs[idx] = d.Do(context.Background(), "https://shared.example", func(ctx context.Context) (linkpreview.Record, error) {
				callCount.Add(1)
				time.Sleep(50 * time.Millisecond)
				return expected, nil
			})
		}(i)
	}

	wg.Wait()

	require.Equal(t, int32(1), callCount.Load(), "fetch func should be called exactly once")
	for i := range 10 {
		require.NoError(t, errs[i])
		require.True(t, expected.Equal(results[i]))
	}
}

func TestDo_CallerTimeout(t *testing.T) {
	d := New()

	var fetchCompleted atomic.Bool
	expected := record("slow")

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer shortCancel()

	var slowWg sync.WaitGroup
	slowWg.Add(1)
	go func() {
		defer slowWg.Done()
		_, _, err := d.Do(shortCtx, "https://slow.example", func(ctx context.Context) (linkpreview.Record, error) {
			time.Sleep(200 * time.Millisecond)
			assert.NoError(t, ctx.Err(), "detached context must survive the caller")
			fetchCompleted.Store(true)
			return expected, nil
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}()

	// Wait for first caller to start the fetch
	time.Sleep(5 * time.Millisecond)

	longCtx, longCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer longCancel()

	rec, shared, err := d.Do(longCtx, "https://slow.example", func(ctx context.Context) (linkpreview.Record, error) {
		t.Fatal("should not be called - fetch already in flight")
		return linkpreview.Record{}, nil
	})

	require.NoError(t, err)
	require.True(t, shared)
	require.True(t, expected.Equal(rec))
	require.True(t, fetchCompleted.Load())

	slowWg.Wait()
}

func TestDo_FetchError(t *testing.T) {
	d := New()

	expectedErr := errors.New("upstream unavailable")

	var wg sync.WaitGroup
	errs := make([]error, 5)

	for i := range 5 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, errs[idx] = d.Do(context.Background(), "https://error.example", func(ctx context.Context) (linkpreview.Record, error) {
				time.Sleep(20 * time.Millisecond)
				return linkpreview.Record{}, expectedErr
			})
		}(i)
	}

	wg.Wait()

	for i := range 5 {
		require.ErrorIs(t, errs[i], expectedErr)
	}
}

func TestDo_DifferentURLs(t *testing.T) {
	d := New()

	var callCount atomic.Int32
	errs := make([]error, 5)
	var wg sync.WaitGroup

	for i := range 5 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			url := "https://" + string(rune('a'+idx)) + ".example"
			_, _, errs[idx] = d.Do(context.Background(), url, func(ctx context.Context) (linkpreview.Record, error) {
				callCount.Add(1)
				return record(url), nil
			})
		}(i)
	}

	wg.Wait()

	for i := range 5 {
		require.NoError(t, errs[i])
	}
	require.Equal(t, int32(5), callCount.Load(), "each url should trigger its own fetch")
}

func TestForgetOnError_SkipsContextErrors(t *testing.T) {
	d := New()

	release := make(chan struct{})
	var callCount atomic.Int32
	started := make(chan struct{})

	go func() {
		_, _, _ = d.Do(context.Background(), "https://inflight.example", func(ctx context.Context) (linkpreview.Record, error) {
			callCount.Add(1)
			close(started)
			<-release
			return record("done"), nil
		})
	}()
	<-started

	// a caller timing out must not detach later callers from the in-flight fetch
	ForgetOnError(d, "https://inflight.example", context.DeadlineExceeded)

	done := make(chan linkpreview.Record)
	go func() {
		rec, _, _ := d.Do(context.Background(), "https://inflight.example", func(ctx context.Context) (linkpreview.Record, error) {
			callCount.Add(1)
			return record("second"), nil
		})
		done <- rec
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	rec := <-done
	require.Equal(t, "done", linkpreview.Value(rec.Title))
	require.Equal(t, int32(1), callCount.Load(), "fetch func should be called exactly once")
}

func TestDo_Forget(t *testing.T) {
	d := New()

	release := make(chan struct{})
	started := make(chan struct{})
	var callCount atomic.Int32

	go func() {
		_, _, _ = d.Do(context.Background(), "https://retry.example", func(ctx context.Context) (linkpreview.Record, error) {
			callCount.Add(1)
			close(started)
			<-release
			return linkpreview.Record{}, errors.New("transient error")
		})
	}()
	<-started

	// a real failure lets the next caller start its own fetch
	ForgetOnError(d, "https://retry.example", errors.New("transient error"))

	rec, shared, err := d.Do(context.Background(), "https://retry.example", func(ctx context.Context) (linkpreview.Record, error) {
		callCount.Add(1)
		return record("retry-success"), nil
	})
	close(release)

	require.NoError(t, err)
	require.False(t, shared)
	require.Equal(t, "retry-success", linkpreview.Value(rec.Title))
	require.Equal(t, int32(2), callCount.Load())
}
