// Package poller drives the polling cycles: a fixed-interval,
// drift-corrected loop that fans one fetch per monitored resource out into
// parallel, individually timed-out calls, reconciles the settled results
// into a cycle snapshot, and commits the snapshot atomically.
//
// Failure policy per cycle: transient errors are retried a bounded number of
// times inside the tick; throttling puts only the affected resource into
// jittered exponential backoff; any remaining failure is attached to that
// resource's entry and never blocks the other resources or the cycle.
package poller

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/queuepulse/queuepulse/internal/dlq"
	"github.com/queuepulse/queuepulse/internal/export"
	"github.com/queuepulse/queuepulse/internal/inference"
	"github.com/queuepulse/queuepulse/internal/metrics"
	"github.com/queuepulse/queuepulse/internal/provider"
	"github.com/queuepulse/queuepulse/internal/registry"
	"github.com/queuepulse/queuepulse/internal/snapshot"
	"github.com/queuepulse/queuepulse/internal/track"
)

// Provider is the capability set one tick consumes.
type Provider interface {
	provider.QueueDepthReader
	provider.FunctionMetricsReader
}

// Options tune the scheduler.
type Options struct {
	QueueInterval    time.Duration
	FunctionInterval time.Duration
	MetricPeriod     time.Duration
	FetchTimeout     time.Duration
	TransientRetries int
	MaxDLQMessages   int

	// BackoffBase is the first backoff applied after a throttling response;
	// it doubles per consecutive throttle up to BackoffCap, with jitter.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	Clock    Clock
	Exporter export.Exporter
}

func (o *Options) fillDefaults() {
	if o.QueueInterval <= 0 {
		o.QueueInterval = 10 * time.Second
	}
	if o.FunctionInterval < o.QueueInterval {
		o.FunctionInterval = o.QueueInterval
	}
	if o.MetricPeriod <= 0 {
		o.MetricPeriod = 5 * time.Minute
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.TransientRetries < 0 {
		o.TransientRetries = 0
	}
	if o.MaxDLQMessages <= 0 {
		o.MaxDLQMessages = 20
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 5 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = RealClock()
	}
}

type backoffState struct {
	attempts int
	until    time.Time
}

// Poller owns all cross-tick state: the previous cycle's samples and metric
// windows, and the per-resource backoff schedule. That state is touched only
// from the tick loop; fetches run concurrently but report back through a
// channel.
type Poller struct {
	reg     *registry.Registry
	prov    Provider
	sampler *dlq.Sampler
	log     *zap.Logger
	opts    Options
	clock   Clock

	holder      snapshot.Holder
	prevSamples map[string]track.QueueSample
	prevWindows map[string]*provider.MetricWindow
	lastFnTick  time.Time
	lastFnState []snapshot.FunctionEntry
	backoffs    map[string]*backoffState
	rng         *rand.Rand
}

// New builds a poller over the registry and provider. sampler may be nil
// when no DLQs are monitored; exporter in opts may be nil.
func New(reg *registry.Registry, prov Provider, sampler *dlq.Sampler, log *zap.Logger, opts Options) *Poller {
	opts.fillDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		reg:         reg,
		prov:        prov,
		sampler:     sampler,
		log:         log.Named("poller"),
		opts:        opts,
		clock:       opts.Clock,
		prevSamples: make(map[string]track.QueueSample),
		prevWindows: make(map[string]*provider.MetricWindow),
		backoffs:    make(map[string]*backoffState),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Latest returns the most recently committed snapshot, or nil before the
// first completed cycle.
func (p *Poller) Latest() *snapshot.CycleSnapshot { return p.holder.Load() }

// Run drives polling cycles until ctx is cancelled. Cancellation is
// cooperative: it is honored at the start of each tick and at each fetch
// boundary, within one in-flight fetch's timeout at worst.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller started",
		zap.Duration("queue_interval", p.opts.QueueInterval),
		zap.Duration("function_interval", p.opts.FunctionInterval),
		zap.Int("resources", p.reg.Len()))

	for {
		if ctx.Err() != nil {
			p.log.Info("poller stopped")
			return nil
		}

		start := p.clock.Now()
		p.tick(ctx, start)
		elapsed := p.clock.Now().Sub(start)

		// Drift-corrected: sleep only for what remains of the interval.
		wait := p.opts.QueueInterval - elapsed
		if wait < 0 {
			p.log.Warn("tick overran its interval",
				zap.Duration("elapsed", elapsed),
				zap.Duration("interval", p.opts.QueueInterval))
			wait = 0
		}

		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return nil
		case <-p.clock.After(wait):
		}
	}
}

// RunOnce executes a single polling cycle and returns its snapshot. Used by
// the CLI's one-shot mode and by tests.
func (p *Poller) RunOnce(ctx context.Context) (*snapshot.CycleSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := p.tick(ctx, p.clock.Now())
	if snap == nil {
		return nil, ctx.Err()
	}
	return snap, nil
}

// fetchResult carries one settled fetch back to the tick loop.
type fetchResult struct {
	res         registry.MonitoredResource
	op          string
	count       int
	window      *provider.MetricWindow
	dlqRecords  []dlq.MessageRecord
	err         error
	rateLimited bool
}

// tick runs one complete polling cycle. It returns the committed snapshot,
// or nil when cancellation aborted the tick before commit; in that case no
// shared state was touched, so the tick is not partially applied.
func (p *Poller) tick(ctx context.Context, start time.Time) *snapshot.CycleSnapshot {
	pollFunctions := p.lastFnTick.IsZero() || start.Sub(p.lastFnTick) >= p.opts.FunctionInterval

	results := make(chan fetchResult)
	var wg sync.WaitGroup

	dispatch := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	for _, res := range p.reg.QueueLike() {
		if p.inBackoff(res.ID, start) {
			continue
		}
		res := res
		dispatch(func() { results <- p.fetchQueueDepth(ctx, res) })
	}
	if pollFunctions {
		window := provider.TrailingWindow(start, p.opts.MetricPeriod)
		for _, res := range p.reg.Functions() {
			if p.inBackoff(res.ID, start) {
				continue
			}
			res := res
			dispatch(func() { results <- p.fetchFunctionMetrics(ctx, res, window) })
		}
	}
	if p.sampler != nil {
		for _, res := range p.reg.DLQs() {
			if p.inBackoff(res.ID, start) {
				continue
			}
			res := res
			dispatch(func() { results <- p.fetchDLQMessages(ctx, res) })
		}
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	currSamples := make(map[string]track.QueueSample)
	currWindows := make(map[string]*provider.MetricWindow)
	var dlqRecords []dlq.MessageRecord
	var failures []snapshot.Failure
	var throttled []string
	var recovered []string

	for r := range results {
		if r.err != nil {
			failures = append(failures, snapshot.Failure{
				ResourceID: r.res.ID,
				Kind:       r.res.Kind,
				Category:   string(provider.CategoryOf(r.err)),
				Message:    r.err.Error(),
			})
			if r.rateLimited {
				throttled = append(throttled, r.res.ID)
			}
			p.log.Warn("fetch failed",
				zap.String("resource", r.res.ID),
				zap.String("op", r.op),
				zap.Error(r.err))
			continue
		}
		recovered = append(recovered, r.res.ID)
		switch r.op {
		case opQueueDepth:
			currSamples[r.res.ID] = track.QueueSample{
				ResourceID:       r.res.ID,
				Kind:             r.res.Kind,
				Timestamp:        start,
				ApproximateCount: r.count,
			}
			metrics.SetQueueDepth(r.res.ID, string(r.res.Kind), r.count)
		case opFunctionMetrics:
			currWindows[r.res.ID] = r.window
		case opDLQMessages:
			dlqRecords = append(dlqRecords, r.dlqRecords...)
		}
	}

	// A cancelled tick commits nothing: shared state stays at the previous
	// cycle and the partial results are dropped.
	if ctx.Err() != nil {
		return nil
	}

	// Backoff bookkeeping happens only here, on the tick goroutine.
	for _, id := range recovered {
		delete(p.backoffs, id)
	}
	for _, id := range throttled {
		p.applyBackoff(id, start)
	}
	metrics.SetBackoffsActive(p.activeBackoffs(start))

	snap := snapshot.New(start)
	snap.Failures = failures
	snap.DLQMessages = dlqRecords

	merged := track.Merge(p.prevSamples, currSamples)
	snap.Changes = track.Diff(p.prevSamples, currSamples)
	snap.Queues = buildQueueEntries(merged, snap.Changes)

	if pollFunctions {
		snap.Functions = p.evaluateFunctions(currWindows)
		p.lastFnTick = start
		p.lastFnState = snap.Functions
	} else {
		snap.Functions = p.lastFnState
	}

	active := 0
	for _, f := range snap.Functions {
		if f.State == inference.StateActive {
			active++
		}
	}
	metrics.SetFunctionsActive(active)

	// Commit: the previous cycle's samples are replaced and the snapshot is
	// published in one step from the tick loop's point of view.
	p.prevSamples = merged
	p.holder.Store(snap)

	metrics.RecordCycle(p.clock.Now().Sub(start))
	p.log.Info("cycle committed",
		zap.String("cycle", snap.ID),
		zap.Int("queues", len(snap.Queues)),
		zap.Int("functions", len(snap.Functions)),
		zap.Int("dlq_messages", len(snap.DLQMessages)),
		zap.Int("failures", len(snap.Failures)))

	if p.opts.Exporter != nil {
		if err := p.opts.Exporter.Export(snap); err != nil {
			p.log.Error("export failed", zap.String("cycle", snap.ID), zap.Error(err))
		}
	}
	return snap
}

const (
	opQueueDepth      = "GetQueueDepth"
	opFunctionMetrics = "GetFunctionMetrics"
	opDLQMessages     = "SampleMessages"
)

func (p *Poller) fetchQueueDepth(ctx context.Context, res registry.MonitoredResource) fetchResult {
	started := p.clock.Now()
	count, err := retry(ctx, p.opts.TransientRetries, p.opts.FetchTimeout, func(c context.Context) (int, error) {
		return p.prov.GetQueueDepth(c, res.ProviderHandle)
	})
	return p.settle(fetchResult{res: res, op: opQueueDepth, count: count, err: err}, started)
}

func (p *Poller) fetchFunctionMetrics(ctx context.Context, res registry.MonitoredResource, window provider.TimeRange) fetchResult {
	started := p.clock.Now()
	w, err := retry(ctx, p.opts.TransientRetries, p.opts.FetchTimeout, func(c context.Context) (*provider.MetricWindow, error) {
		return p.prov.GetFunctionMetrics(c, res.ProviderHandle, window)
	})
	return p.settle(fetchResult{res: res, op: opFunctionMetrics, window: w, err: err}, started)
}

// fetchDLQMessages retries whole sampling passes: SampleMessages only fails
// outright before anything was received, so a retried pass never re-reads
// pages it already summarized.
func (p *Poller) fetchDLQMessages(ctx context.Context, res registry.MonitoredResource) fetchResult {
	started := p.clock.Now()
	records, err := retry(ctx, p.opts.TransientRetries, p.opts.FetchTimeout, func(c context.Context) ([]dlq.MessageRecord, error) {
		return p.sampler.SampleMessages(c, res.ProviderHandle, p.opts.MaxDLQMessages)
	})
	for i := range records {
		records[i].QueueID = res.ID
	}
	return p.settle(fetchResult{res: res, op: opDLQMessages, dlqRecords: records, err: err}, started)
}

func (p *Poller) settle(r fetchResult, started time.Time) fetchResult {
	outcome := "ok"
	if r.err != nil {
		r.rateLimited = provider.IsRateLimit(r.err)
		outcome = string(provider.CategoryOf(r.err))
	}
	metrics.RecordFetch(string(r.res.Kind), p.clock.Now().Sub(started), outcome)
	return r
}

// retry runs fn with a per-attempt timeout, retrying immediately up to
// retries extra times while the failure stays transient. Rate limits are
// never retried in-tick; they go to backoff instead.
func retry[T any](ctx context.Context, retries int, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		v, err := fn(cctx)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !provider.IsTransient(err) {
			break
		}
	}
	return zero, lastErr
}

func (p *Poller) inBackoff(id string, now time.Time) bool {
	st, ok := p.backoffs[id]
	return ok && now.Before(st.until)
}

func (p *Poller) activeBackoffs(now time.Time) int {
	n := 0
	for _, st := range p.backoffs {
		if now.Before(st.until) {
			n++
		}
	}
	return n
}

// applyBackoff schedules the resource's next fetch with exponential backoff
// and jitter in [d/2, d]. Only the throttled resource loses cadence.
func (p *Poller) applyBackoff(id string, now time.Time) {
	st := p.backoffs[id]
	if st == nil {
		st = &backoffState{}
		p.backoffs[id] = st
	}
	st.attempts++

	d := p.opts.BackoffBase << uint(st.attempts-1)
	if d > p.opts.BackoffCap || d <= 0 {
		d = p.opts.BackoffCap
	}
	jittered := d/2 + time.Duration(p.rng.Int63n(int64(d/2)+1))
	st.until = now.Add(jittered)

	p.log.Warn("rate limited, backing off",
		zap.String("resource", id),
		zap.Int("consecutive", st.attempts),
		zap.Duration("backoff", jittered))
}

func buildQueueEntries(merged map[string]track.QueueSample, changes []track.ChangeEvent) []snapshot.QueueEntry {
	deltas := make(map[string]int, len(changes))
	for _, ev := range changes {
		deltas[ev.ResourceID] = ev.Delta
	}

	entries := make([]snapshot.QueueEntry, 0, len(merged))
	for id, s := range merged {
		e := snapshot.QueueEntry{
			ID:    id,
			Kind:  s.Kind,
			Count: s.ApproximateCount,
			Stale: s.Stale,
		}
		if d, ok := deltas[id]; ok {
			delta := d
			e.Delta = &delta
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// evaluateFunctions infers each monitored function's state from this cycle's
// windows and updates the previous-window cache. A failed fetch keeps the
// last good window as next cycle's comparison point.
func (p *Poller) evaluateFunctions(currWindows map[string]*provider.MetricWindow) []snapshot.FunctionEntry {
	fns := p.reg.Functions()
	entries := make([]snapshot.FunctionEntry, 0, len(fns))
	for _, res := range fns {
		curr := currWindows[res.ID]
		es := inference.Evaluate(res.ID, curr, p.prevWindows[res.ID])
		entries = append(entries, snapshot.FunctionEntry{
			ID:                   res.ID,
			State:                es.State,
			EstimatedConcurrency: es.EstimatedConcurrency,
			Invocations:          es.Invocations,
			Errors:               es.Errors,
			Throttles:            es.Throttles,
			Stale:                es.Stale,
		})
		if curr != nil {
			p.prevWindows[res.ID] = curr
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}
