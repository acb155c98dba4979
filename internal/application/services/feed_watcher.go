package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ahecn/referraldesk/internal/domain/entities"
)

// evaluatedRetention is how far below the watermark evaluated ids are tracked individually
const evaluatedRetention = 4096

// FeedWatcher polls the event log on an interval and turns new events into alerts.
// It keeps its own watermark and the set of evaluated ids, so an event is
// evaluated at most once however often it is seen. Start resumes from the log
// tail, so events logged before the process started never raise alerts again.
type FeedWatcher struct {
	events   *EventService
	rules    *AlertRules
	alerts   *AlertService
	interval time.Duration
	batch    int
	now      func() time.Time

	mu        sync.Mutex
	watermark int64
	floor     int64
	evaluated map[int64]struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeedWatcher creates a watcher; Start begins polling
func NewFeedWatcher(events *EventService, rules *AlertRules, alerts *AlertService, interval time.Duration, batch int) *FeedWatcher {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if batch <= 0 {
		batch = 200
	}
	return &FeedWatcher{
		events:    events,
		rules:     rules,
		alerts:    alerts,
		interval:  interval,
		batch:     batch,
		now:       time.Now,
		evaluated: make(map[int64]struct{}),
	}
}

// Start runs the polling loop until ctx is cancelled or Stop is called
func (w *FeedWatcher) Start(ctx context.Context) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if w.cancel != nil {
		return errors.New("feed watcher already started")
	}

	if err := w.Resume(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	signals, err := w.events.Subscribe(ctx, "")
	if err != nil {
		log.Warn().Err(err).Msg("feed watcher running without wake-up signals")
		signals = nil
	}

	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, signals)

	log.Info().Dur("interval", w.interval).Msg("feed watcher started")
	return nil
}

// Resume moves the watermark to the newest event in the log. Everything up to
// it counts as evaluated.
func (w *FeedWatcher) Resume(ctx context.Context) error {
	latest, err := w.events.LatestID(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if latest > w.watermark {
		w.watermark = latest
	}
	if latest > w.floor {
		w.floor = latest
		for id := range w.evaluated {
			if id <= latest {
				delete(w.evaluated, id)
			}
		}
	}
	log.Info().Int64("watermark", w.watermark).Msg("feed watcher resumed from log tail")
	return nil
}

// Stop stops the polling loop and waits for it to exit
func (w *FeedWatcher) Stop() {
	w.runMu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Int64("watermark", w.Watermark()).Msg("feed watcher stopped")
}

func (w *FeedWatcher) run(ctx context.Context, signals <-chan int64) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.pollLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollLogged(ctx)
		case _, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			w.pollLogged(ctx)
		}
	}
}

func (w *FeedWatcher) pollLogged(ctx context.Context) {
	if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Int64("watermark", w.Watermark()).Msg("feed poll failed, will retry")
	}
}

// Poll reads every event after the watermark and returns how many alerts were raised
func (w *FeedWatcher) Poll(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	raised := 0
	for {
		batch, err := w.events.PollSince(ctx, w.watermark, "", w.batch)
		if err != nil {
			return raised, err
		}
		raised += w.process(ctx, batch, true)
		if len(batch) < w.batch {
			break
		}
	}
	w.prune()
	return raised, nil
}

// Process evaluates events that arrived by another path; already evaluated ids are
// skipped. The watermark is left alone so the next Poll still reads any gap.
func (w *FeedWatcher) Process(ctx context.Context, events []*entities.Event) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.process(ctx, events, false)
}

func (w *FeedWatcher) process(ctx context.Context, events []*entities.Event, advance bool) int {
	raised := 0
	for _, e := range events {
		if advance && e.ID > w.watermark {
			w.watermark = e.ID
		}
		if w.seen(e.ID) {
			continue
		}
		w.evaluated[e.ID] = struct{}{}

		alerts := w.rules.Evaluate(e, w.now().UTC())
		w.alerts.Add(ctx, alerts...)
		raised += len(alerts)
	}
	return raised
}

func (w *FeedWatcher) seen(id int64) bool {
	if id <= w.floor {
		return true
	}
	_, ok := w.evaluated[id]
	return ok
}

func (w *FeedWatcher) prune() {
	if len(w.evaluated) <= evaluatedRetention {
		return
	}
	floor := w.watermark - evaluatedRetention
	if floor <= w.floor {
		return
	}
	for id := range w.evaluated {
		if id <= floor {
			delete(w.evaluated, id)
		}
	}
	w.floor = floor
}

// Watermark returns the highest event id seen so far
func (w *FeedWatcher) Watermark() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watermark
}
