package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-translator/internal/types"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	id := r.Create(types.ModeFull, []string{"a.png", "b.png"})

	j, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.PhaseIdle, j.Status.Phase)
	assert.Len(t, j.Inputs, 2)

	require.NoError(t, r.SetPhase(id, types.PhaseDetecting, 10, "detecting"))
	require.NoError(t, r.PageDone(id, "a_123"))
	j, _ = r.Get(id)
	assert.Equal(t, 50, j.Status.Progress)

	// 进度不会回退
	require.NoError(t, r.SetPhase(id, types.PhaseRendering, 20, "rendering"))
	j, _ = r.Get(id)
	assert.Equal(t, 50, j.Status.Progress)

	require.NoError(t, r.PageFailed(id, "b.png"))
	require.NoError(t, r.Complete(id))
	j, _ = r.Get(id)
	assert.Equal(t, types.PhaseComplete, j.Status.Phase)
	assert.Equal(t, 100, j.Status.Progress)
	assert.Equal(t, []string{"a_123"}, j.PageIDs)
	assert.Equal(t, []string{"b.png"}, j.Failed)

	// 终态之后的更新被忽略
	require.NoError(t, r.Fail(id, errors.New("late")))
	j, _ = r.Get(id)
	assert.Equal(t, types.PhaseComplete, j.Status.Phase)
}

func TestRegistryAllPagesFailed(t *testing.T) {
	r := NewRegistry()
	id := r.Create(types.ModeCleanOnly, []string{"a.png"})
	require.NoError(t, r.PageFailed(id, "a.png"))
	require.NoError(t, r.Complete(id))

	j, _ := r.Get(id)
	assert.Equal(t, types.PhaseError, j.Status.Phase)
}

func TestRegistryUnknownJob(t *testing.T) {
	r := NewRegistry()
	err := r.SetPhase("nope", types.PhaseDetecting, 0, "")
	assert.Equal(t, types.ErrInvalidInput, types.CodeOf(err))
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	id := r.Create(types.ModeFull, []string{"a.png"})
	j, _ := r.Get(id)
	j.Inputs[0] = "changed"

	again, _ := r.Get(id)
	assert.Equal(t, "a.png", again.Inputs[0])
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	first := r.Create(types.ModeFull, nil)
	second := r.Create(types.ModeFull, nil)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)
}

func TestRegistryConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	inputs := make([]string, 50)
	id := r.Create(types.ModeFull, inputs)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.PageDone(id, "p")
			_, _ = r.Get(id)
		}()
	}
	wg.Wait()

	j, _ := r.Get(id)
	assert.Len(t, j.PageIDs, 50)
	assert.Equal(t, 100, j.Status.Progress)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3)
	var inFlight, peak int32

	errs := p.Run(context.Background(), 20, func(ctx context.Context, i int) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		if i == 7 {
			return errors.New("page 7")
		}
		return nil
	})

	require.Len(t, errs, 20)
	assert.LessOrEqual(t, peak, int32(3))
	assert.EqualError(t, errs[7], "page 7")
	assert.NoError(t, errs[0])
}

func TestPoolRecoversPanics(t *testing.T) {
	errs := NewPool(2).Run(context.Background(), 2, func(ctx context.Context, i int) error {
		if i == 1 {
			panic("boom")
		}
		return nil
	})
	assert.NoError(t, errs[0])
	assert.EqualError(t, errs[1], "panic: boom")
}

func TestPoolCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int32
	errs := NewPool(1).Run(ctx, 5, func(ctx context.Context, i int) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	assert.ErrorIs(t, errs[4], context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestNewPoolMinimumSize(t *testing.T) {
	assert.Equal(t, 1, NewPool(0).Size())
	assert.Equal(t, 4, NewPool(4).Size())
}
