package commission_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/premium-engine/commission"
)

type recorder struct {
	mu   sync.Mutex
	seen []commission.RateEntryID
	fail bool
}

func (r *recorder) handle(_ context.Context, job commission.FanOutJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, job.Rate.ID)
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestQueue_CloseDrainsQueuedJobs(t *testing.T) {
	rec := &recorder{}
	q := commission.NewQueue(rec.handle, 2, 8, nil, nil)
	q.Start(context.Background())

	for _, id := range []commission.RateEntryID{"r-1", "r-2", "r-3"} {
		require.NoError(t, q.Dispatch(context.Background(), commission.FanOutJob{Rate: commission.RateEntry{ID: id}}))
	}
	require.NoError(t, q.Close())

	assert.Equal(t, 3, rec.count())
	assert.ElementsMatch(t, []commission.RateEntryID{"r-1", "r-2", "r-3"}, rec.seen)
}

func TestQueue_DispatchAfterClose_ErrQueueClosed(t *testing.T) {
	q := commission.NewQueue((&recorder{}).handle, 1, 1, nil, nil)
	q.Start(context.Background())
	require.NoError(t, q.Close())

	err := q.Dispatch(context.Background(), commission.FanOutJob{})

	assert.ErrorIs(t, err, commission.ErrQueueClosed)
	assert.NoError(t, q.Close(), "second close is a no-op")
}

func TestQueue_Full_DispatchDoesNotBlock(t *testing.T) {
	// not started: nothing drains the channel
	q := commission.NewQueue((&recorder{}).handle, 1, 1, nil, nil)

	require.NoError(t, q.Dispatch(context.Background(), commission.FanOutJob{}))
	err := q.Dispatch(context.Background(), commission.FanOutJob{})

	assert.ErrorIs(t, err, commission.ErrQueueFull)
	assert.NoError(t, q.Close())
}

func TestQueue_FailedJob_WorkerKeepsGoing(t *testing.T) {
	rec := &recorder{fail: true}
	q := commission.NewQueue(rec.handle, 1, 4, nil, nil)
	q.Start(context.Background())

	require.NoError(t, q.Dispatch(context.Background(), commission.FanOutJob{Rate: commission.RateEntry{ID: "r-1"}}))
	require.NoError(t, q.Dispatch(context.Background(), commission.FanOutJob{Rate: commission.RateEntry{ID: "r-2"}}))
	require.NoError(t, q.Close())

	assert.Equal(t, 2, rec.count())
}

func TestQueue_Abort_CancelsInFlightJob(t *testing.T) {
	// GIVEN: a worker stuck in a job until its context ends, one job queued behind it
	started := make(chan struct{})
	var handled sync.WaitGroup
	handled.Add(1)
	rec := &recorder{}
	q := commission.NewQueue(func(ctx context.Context, job commission.FanOutJob) error {
		if job.Rate.ID == "r-slow" {
			close(started)
			<-ctx.Done()
			defer handled.Done()
			return ctx.Err()
		}
		return rec.handle(ctx, job)
	}, 1, 4, nil, nil)
	q.Start(context.Background())
	require.NoError(t, q.Dispatch(context.Background(), commission.FanOutJob{Rate: commission.RateEntry{ID: "r-slow"}}))
	require.NoError(t, q.Dispatch(context.Background(), commission.FanOutJob{Rate: commission.RateEntry{ID: "r-next"}}))
	<-started

	drained := make(chan error, 1)
	go func() { drained <- q.Close() }()
	assert.Never(t, func() bool { return len(drained) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	// WHEN: aborting while Close waits
	require.NoError(t, q.Abort())

	// THEN: the stuck job saw the cancellation and Close returned
	handled.Wait()
	select {
	case err := <-drained:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not return after Abort")
	}

	// AND: the queued job was dropped, not run
	assert.Equal(t, 0, rec.count())
}

func TestQueue_AbortBeforeStart(t *testing.T) {
	q := commission.NewQueue((&recorder{}).handle, 1, 1, nil, nil)

	assert.NoError(t, q.Abort())
	assert.ErrorIs(t, q.Dispatch(context.Background(), commission.FanOutJob{}), commission.ErrQueueClosed)
}

func TestInline_RunsInCaller(t *testing.T) {
	rec := &recorder{}
	d := commission.Inline{Handler: rec.handle}

	require.NoError(t, d.Dispatch(context.Background(), commission.FanOutJob{Rate: commission.RateEntry{ID: "r-1"}}))

	assert.Equal(t, 1, rec.count())
}

func TestEngine_QueueDispatcher_FanOutAppliesAfterClose(t *testing.T) {
	// GIVEN: an engine whose fan-out goes through the background queue
	b := newBook(t)
	q := commission.NewQueue(b.eng.HandleFanOut, 2, 16, nil, nil)
	q.Start(b.ctx)
	b.eng.UseDispatcher(q)

	b.policy("p-1", "ins-a", "auto")
	b.policy("p-2", "ins-a", "auto")
	b.installment("i-1", "p-1", "100", 0)
	b.installment("i-2", "p-2", "40", 0)

	// WHEN: a rate is created and the queue drained
	rate := b.rate("r-1", "ins-a", "auto", "5", t0)
	require.NoError(t, b.eng.OnRateEntryChanged(b.ctx, rate))
	require.NoError(t, q.Close())

	// THEN: the installments are linked
	assert.Equal(t, "r-1", refOf(b.inst("i-1")))
	assertMoney(t, "5.00", b.inst("i-1").CommissionAmount)
	assertMoney(t, "2.00", b.inst("i-2").CommissionAmount)
	b.assertInvariants()
}
