package crawler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/alvmarrod/hvt-hunter/internal/config"
	"github.com/alvmarrod/hvt-hunter/internal/fetcher"
	"github.com/alvmarrod/hvt-hunter/internal/filter"
	"github.com/alvmarrod/hvt-hunter/internal/memory"
	"github.com/alvmarrod/hvt-hunter/internal/metrics"
	"github.com/alvmarrod/hvt-hunter/internal/notify"
	"github.com/alvmarrod/hvt-hunter/internal/session"
	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// Termination reasons reported in the summary and the metrics file
const (
	ReasonQueueEmpty  = "queue_empty"
	ReasonBudget      = "budget_reached"
	ReasonInterrupted = "signal"
	ReasonFatal       = "fatal_error"
)

// Summary describes how a run ended
type Summary struct {
	SessionID string
	Status    string
	Reason    string
	Stats     storage.SessionStats
	HVTs      int
	Visited   int
	Queued    int
}

// Options wires the engine's collaborators
type Options struct {
	Config   *config.Config
	Fetcher  fetcher.Fetcher
	Pipeline *filter.Pipeline
	Store    *session.Store
	Notifier notify.Notifier
	Tracker  *metrics.Tracker
}

// Engine orchestrates the crawl. Run's owner goroutine is the only writer
// of the frontier, results, lineage and checkpoints; workers only fetch,
// evaluate and collect followers.
type Engine struct {
	cfg      *config.Config
	fetcher  fetcher.Fetcher
	pipeline *filter.Pipeline
	store    *session.Store
	notifier notify.Notifier
	tracker  *metrics.Tracker

	frontier *Frontier
	lineage  *memory.LineageGraph
	hvts     []storage.HVTRecord
	hvtSeen  map[string]bool
	workers  int

	configSnapshot []byte
	fingerprint    string

	abort     chan struct{}
	abortOnce sync.Once
	now       func() time.Time
}

// workResult carries everything a worker learned about one candidate
type workResult struct {
	ref         storage.ProfileRef
	snapshot    *storage.ProfileSnapshot
	accepted    bool
	trail       storage.DecisionTrail
	followers   []string
	followerErr error
	err         error
	cancelled   bool
	elapsed     time.Duration
}

// NewEngine creates a crawl engine. The worker count is capped by the
// number of proxy slots since each slot serves one request at a time.
func NewEngine(opts Options) (*Engine, error) {
	snapshot, err := opts.Config.Snapshot()
	if err != nil {
		return nil, err
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = metrics.NewTracker()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	workers := opts.Config.ConcurrentWorkers
	if slots := opts.Config.ProxyCount(); workers > slots {
		logrus.Infof("Capping workers at %d (one per proxy slot)", slots)
		workers = slots
	}

	return &Engine{
		cfg:            opts.Config,
		fetcher:        opts.Fetcher,
		pipeline:       opts.Pipeline,
		store:          opts.Store,
		notifier:       notifier,
		tracker:        tracker,
		frontier:       NewFrontier(opts.Config.MaxDepth, opts.Config.MaxProfiles),
		lineage:        memory.NewLineageGraph(),
		hvtSeen:        make(map[string]bool),
		workers:        workers,
		configSnapshot: snapshot,
		fingerprint:    config.Fingerprint(snapshot),
		abort:          make(chan struct{}),
		now:            time.Now,
	}, nil
}

// Restore loads a checkpointed session into the engine
func (e *Engine) Restore(state *storage.SessionState) {
	if state.ConfigFingerprint != "" && state.ConfigFingerprint != e.fingerprint {
		logrus.Warnf("Configuration changed since session %s was checkpointed (%s -> %s), continuing with the current one",
			state.SessionID, state.ConfigFingerprint, e.fingerprint)
	}

	e.frontier.Restore(state.Frontier, state.Visited)
	e.lineage.Load(state.Lineage)
	e.tracker.Restore(state.Stats)

	e.hvts = append(e.hvts[:0], state.HVTs...)
	e.hvtSeen = make(map[string]bool, len(state.HVTs))
	for _, h := range state.HVTs {
		e.hvtSeen[h.Ref.Username] = true
	}

	logrus.Infof("Resuming session %s: %d queued, %d visited, %d HVTs",
		state.SessionID, e.frontier.Len(), e.frontier.VisitedCount(), len(e.hvts))
}

// Seed enqueues operator-supplied usernames
func (e *Engine) Seed(usernames []string) int {
	added := e.frontier.EnqueueSeeds(usernames)
	logrus.Infof("Enqueued %d of %d seeds", added, len(usernames))
	return added
}

// Frontier exposes the frontier for progress reporting
func (e *Engine) Frontier() *Frontier {
	return e.frontier
}

// Abort skips the shutdown grace period: in-flight work is cancelled and
// returned to the frontier before the final checkpoint
func (e *Engine) Abort() {
	e.abortOnce.Do(func() { close(e.abort) })
}

// Run crawls until the frontier is exhausted, the profile budget is spent
// or ctx is cancelled. A fatal error from a worker stops the run after a
// final checkpoint and is returned.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	// Work outlives ctx by the grace period
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	g, gctx := errgroup.WithContext(workCtx)
	jobs := make(chan storage.ProfileRef)
	results := make(chan workResult)

	logrus.Infof("Starting %d crawl workers", e.workers)
	for i := 0; i < e.workers; i++ {
		id := i + 1
		g.Go(func() error { return e.worker(gctx, id, jobs, results) })
	}

	var (
		pending  *storage.ProfileRef
		active   int
		stopping bool
		reason   string
		fatalErr error
		grace    <-chan time.Time
		done     = ctx.Done()
		abort    = e.abort
	)

	stop := func(why string) {
		if stopping {
			return
		}
		stopping = true
		reason = why
		if pending != nil {
			e.frontier.Return(*pending)
			pending = nil
		}
	}

	interrupt := func() {
		stop(ReasonInterrupted)
		if active > 0 {
			graceTime := time.Duration(e.cfg.ShutdownGraceMs) * time.Millisecond
			logrus.Infof("Interrupted, waiting up to %v for %d in-flight profiles", graceTime, active)
			grace = time.After(graceTime)
		}
	}

	for {
		// Never dispatch after an interrupt, even when select would pick a send
		if done != nil && ctx.Err() != nil {
			done = nil
			interrupt()
		}

		var jobCh chan<- storage.ProfileRef
		var next storage.ProfileRef
		if !stopping && active < e.workers {
			if pending == nil {
				if ref, ok := e.frontier.Next(); ok {
					pending = &ref
				}
			}
			if pending != nil {
				jobCh = jobs
				next = *pending
			}
		}
		if pending == nil && active == 0 {
			break
		}

		select {
		case jobCh <- next:
			active++
			pending = nil
			logrus.Debugf("Dispatched %s (depth=%d)", next.Username, next.Depth)

		case res := <-results:
			active--
			if fetcher.IsFatal(res.err) {
				if fatalErr == nil {
					fatalErr = res.err
				}
				e.frontier.Return(res.ref)
				stop(ReasonFatal)
				cancelWork()
				continue
			}
			e.fold(ctx, res)
			if !stopping {
				e.checkpointIfDue()
			}

		case <-done:
			done = nil
			interrupt()

		case <-grace:
			grace = nil
			logrus.Warnf("Grace period over, cancelling %d in-flight profiles", active)
			cancelWork()

		case <-abort:
			abort = nil
			stop(ReasonInterrupted)
			cancelWork()
		}
	}

	close(jobs)
	if err := g.Wait(); err != nil && fatalErr == nil {
		fatalErr = err
	}

	if reason == "" {
		reason = ReasonQueueEmpty
		if e.frontier.BudgetSpent() && e.frontier.Len() > 0 {
			reason = ReasonBudget
		}
	}
	status := storage.StatusComplete
	if stopping {
		status = storage.StatusInterrupted
	}

	if err := e.store.Checkpoint(e.buildState(status)); err != nil {
		e.tracker.IncrementCheckpointFailures()
		notify.Send(context.WithoutCancel(ctx), e.notifier, notify.Event{
			Type:    notify.Error,
			Message: fmt.Sprintf("final checkpoint failed: %v", err),
		})
	} else {
		e.tracker.IncrementCheckpoints()
		logrus.Infof("Final checkpoint #%d written (status=%s)", e.store.Sequence(), status)
	}

	summary := e.summary(status, reason)

	if fatalErr != nil {
		notify.Send(context.WithoutCancel(ctx), e.notifier, notify.Event{
			Type:    notify.Error,
			Message: fatalErr.Error(),
		})
		return summary, fmt.Errorf("crawl stopped: %w", fatalErr)
	}

	if status == storage.StatusComplete {
		notify.Send(ctx, e.notifier, notify.Event{
			Type:    notify.SessionComplete,
			Message: fmt.Sprintf("Session %s complete: %d HVTs from %d profiles", summary.SessionID, summary.HVTs, summary.Stats.ProfilesScanned),
			Payload: map[string]string{
				"session_id": summary.SessionID,
				"hvts":       strconv.Itoa(summary.HVTs),
				"scanned":    strconv.Itoa(summary.Stats.ProfilesScanned),
				"reason":     reason,
			},
		})
	}
	return summary, nil
}

// worker processes dispatched refs until jobs is closed
func (e *Engine) worker(ctx context.Context, id int, jobs <-chan storage.ProfileRef, results chan<- workResult) error {
	for ref := range jobs {
		res := e.process(ctx, ref)
		results <- res
		if fetcher.IsFatal(res.err) {
			logrus.Errorf("Worker %d: fatal error on %s: %v", id, ref.Username, res.err)
			return res.err
		}
	}
	return nil
}

// process fetches and evaluates one candidate and collects its followers
// when it qualifies for expansion
func (e *Engine) process(ctx context.Context, ref storage.ProfileRef) workResult {
	res := workResult{ref: ref}

	start := e.now()
	snap, err := e.fetcher.FetchProfile(ctx, ref.Username)
	res.elapsed = e.now().Sub(start)
	if ctx.Err() != nil {
		res.cancelled = true
		return res
	}
	if err != nil {
		res.err = err
		return res
	}
	res.snapshot = snap

	res.accepted, res.trail = e.pipeline.Evaluate(ctx, snap)
	if ctx.Err() != nil {
		res.cancelled = true
		return res
	}

	if e.shouldExpand(ref, res.accepted) {
		res.followers, res.followerErr = e.collectFollowers(ctx, ref.Username)
		if ctx.Err() != nil {
			res.cancelled = true
		}
		// The profile stays undecided so a resumed run lists its followers again
		if fetcher.IsFatal(res.followerErr) {
			res.err = res.followerErr
		}
	}
	return res
}

// shouldExpand decides whether ref's followers are walked. Only accepted
// profiles expand, and rejected seeds too when strict_seed_expansion is off.
func (e *Engine) shouldExpand(ref storage.ProfileRef, accepted bool) bool {
	if ref.Depth >= e.cfg.MaxDepth {
		return false
	}
	if accepted {
		return true
	}
	return ref.IsSeed() && !e.cfg.StrictSeedExpansion
}

// collectFollowers pages through username's followers up to the per-profile cap.
// Followers gathered before an error are kept.
func (e *Engine) collectFollowers(ctx context.Context, username string) ([]string, error) {
	limit := e.cfg.MaxFollowersPerProfile
	var followers []string
	cursor := ""
	for {
		page, err := e.fetcher.FetchFollowers(ctx, username, cursor)
		if err != nil {
			return followers, err
		}
		followers = append(followers, page.Usernames...)
		if len(followers) >= limit {
			return followers[:limit], nil
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return followers, nil
		}
		cursor = page.NextCursor
	}
}

// fold applies one worker result to the crawl state
func (e *Engine) fold(ctx context.Context, res workResult) {
	ref := res.ref
	if res.cancelled {
		e.frontier.Return(ref)
		logrus.Debugf("Returned %s to the frontier", ref.Username)
		return
	}

	e.tracker.RecordFetchTime(res.elapsed)
	defer e.store.Note()

	if res.err != nil {
		outcome := storage.OutcomeTransientError
		if fetcher.IsPermanent(res.err) {
			outcome = storage.OutcomePermanentError
		}
		e.frontier.MarkVisited(ref.Username, outcome, res.err.Error())
		e.tracker.RecordOutcome(outcome)
		logrus.WithFields(logrus.Fields{
			"username": ref.Username,
			"depth":    ref.Depth,
			"outcome":  string(outcome),
		}).Warnf("Fetch failed: %v", res.err)
		return
	}

	fields := logrus.Fields{"username": ref.Username, "depth": ref.Depth}
	if res.accepted {
		e.accept(ctx, ref, res)
		e.frontier.MarkVisited(ref.Username, storage.OutcomeAccepted, "accepted")
		e.tracker.RecordOutcome(storage.OutcomeAccepted)
		logrus.WithFields(fields).Infof("HVT accepted: %s", res.trail.Justification())
	} else {
		detail := res.trail.Justification()
		if failed, ok := res.trail.Failed(); ok {
			detail = failed.Stage + ": " + failed.Justification
		}
		e.frontier.MarkVisited(ref.Username, storage.OutcomeRejected, detail)
		e.tracker.RecordOutcome(storage.OutcomeRejected)
		logrus.WithFields(fields).Infof("Rejected: %s", detail)
	}

	if res.followerErr != nil {
		logrus.WithFields(fields).Warnf("Follower listing incomplete (%d collected): %v", len(res.followers), res.followerErr)
	}
	if len(res.followers) > 0 {
		for _, raw := range res.followers {
			if name, ok := NormalizeUsername(raw); ok {
				e.lineage.Record(ref.Username, name)
			}
		}
		added := e.frontier.OfferFollowers(ref, res.followers)
		e.tracker.AddFollowers(len(res.followers), added)
		logrus.WithFields(fields).Debugf("Enqueued %d of %d followers", added, len(res.followers))
	}
}

// accept appends an HVT record once per username and announces it
func (e *Engine) accept(ctx context.Context, ref storage.ProfileRef, res workResult) {
	if e.hvtSeen[ref.Username] {
		return
	}
	record := storage.HVTRecord{
		Ref:           ref,
		Snapshot:      *res.snapshot,
		Trail:         res.trail,
		Justification: res.trail.Justification(),
		DiscoveredAt:  e.now().UTC(),
	}
	e.hvts = append(e.hvts, record)
	e.hvtSeen[ref.Username] = true

	payload := map[string]string{
		"followers":  strconv.Itoa(res.snapshot.FollowerCount),
		"profile":    res.snapshot.ProfileURL,
		"source_hvt": ref.SourceProfile,
	}
	if rate, ok := res.trail.Metric(storage.MetricEngagementRate); ok {
		payload[storage.MetricEngagementRate] = rate
	}
	notify.Send(ctx, e.notifier, notify.Event{
		Type:     notify.HVTFound,
		Username: ref.Username,
		Message:  "HVT found: " + ref.Username,
		Payload:  payload,
	})
}

func (e *Engine) checkpointIfDue() {
	saved, err := e.store.CheckpointIfDue(e.buildState(storage.StatusRunning))
	switch {
	case err != nil:
		e.tracker.IncrementCheckpointFailures()
	case saved:
		e.tracker.IncrementCheckpoints()
	}
}

func (e *Engine) buildState(status string) func() *storage.SessionState {
	return func() *storage.SessionState {
		queue, visited := e.frontier.Snapshot()
		hvts := make([]storage.HVTRecord, len(e.hvts))
		copy(hvts, e.hvts)
		return &storage.SessionState{
			Status:            status,
			Config:            e.configSnapshot,
			ConfigFingerprint: e.fingerprint,
			Frontier:          queue,
			Visited:           visited,
			HVTs:              hvts,
			Lineage:           e.lineage.Edges(),
			Stats:             e.tracker.Stats(),
		}
	}
}

func (e *Engine) summary(status, reason string) Summary {
	return Summary{
		SessionID: e.store.SessionID(),
		Status:    status,
		Reason:    reason,
		Stats:     e.tracker.Stats(),
		HVTs:      len(e.hvts),
		Visited:   e.frontier.VisitedCount(),
		Queued:    e.frontier.Len(),
	}
}
