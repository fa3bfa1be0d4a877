package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratamem/stratamem-go/pkg/recall"
	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/store/memory"
	"github.com/stratamem/stratamem-go/pkg/topiclock"
)

// countingStore counts manifest scans so tests can tell whether a tick
// reached the engine.
type countingStore struct {
	*memory.Store
	scans atomic.Int32
}

func (c *countingStore) ListManifests(ctx context.Context) ([]*record.Manifest, error) {
	c.scans.Add(1)
	return c.Store.ListManifests(ctx)
}

func newSchedulerTestEngine() (*Engine, *countingStore) {
	s := &countingStore{Store: memory.NewStore()}
	id := int64(0)
	newID := func() int64 { id++; return id }
	tracker := recall.NewTracker(s, newID, 14)
	engine := NewEngine(s, tracker, nil, topiclock.New(), DefaultConfig(), newID, nil)
	return engine, s
}

func TestScheduler_TickSkippedWhileRunning(t *testing.T) {
	engine, s := newSchedulerTestEngine()
	sched := NewScheduler(engine, time.Minute, nil)

	sched.running.Store(true)
	sched.tick(context.Background())
	assert.Equal(t, int32(0), s.scans.Load(), "overlapping tick is skipped, not queued")

	sched.running.Store(false)
	sched.tick(context.Background())
	assert.Equal(t, int32(1), s.scans.Load())
}

func TestScheduler_TickAfterCancel(t *testing.T) {
	engine, s := newSchedulerTestEngine()
	sched := NewScheduler(engine, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sched.tick(ctx)
	assert.Equal(t, int32(0), s.scans.Load())
}

func TestScheduler_DuePreCheckAvoidsFullPass(t *testing.T) {
	engine, s := newSchedulerTestEngine()
	require.NoError(t, s.UpsertManifest(context.Background(), &record.Manifest{
		Topic:            "deployment",
		CurrentTier:      record.TierEpisodic,
		LastTransitionAt: time.Now(),
	}))

	sched := NewScheduler(engine, time.Minute, nil)
	sched.tick(context.Background())

	// One scan from the Due pre-check, none from a full Tick.
	assert.Equal(t, int32(1), s.scans.Load())
}

func TestScheduler_StartStop(t *testing.T) {
	engine, _ := newSchedulerTestEngine()
	sched := NewScheduler(engine, time.Second, nil)

	require.NoError(t, sched.Start(context.Background()))
	assert.Error(t, sched.Start(context.Background()), "double start rejected")

	sched.Stop()
	sched.Stop() // second stop is a no-op

	// The scheduler can be started again after a stop.
	require.NoError(t, sched.Start(context.Background()))
	sched.Stop()
}

func TestScheduler_StopViaContext(t *testing.T) {
	engine, _ := newSchedulerTestEngine()
	sched := NewScheduler(engine, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sched.Start(ctx))
	cancel()

	// Stop after context cancellation must not hang.
	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung after context cancellation")
	}
}

func TestScheduler_DefaultInterval(t *testing.T) {
	engine, _ := newSchedulerTestEngine()
	sched := NewScheduler(engine, 0, nil)
	assert.Equal(t, DefaultInterval, sched.interval)
}
