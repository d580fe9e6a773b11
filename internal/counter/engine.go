package counter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/korzewarrior/discord-countingbot/internal/config"
	"github.com/korzewarrior/discord-countingbot/internal/discord"
	"github.com/korzewarrior/discord-countingbot/internal/domain"
	"github.com/korzewarrior/discord-countingbot/internal/identity"
	"github.com/korzewarrior/discord-countingbot/internal/notify"
	"github.com/korzewarrior/discord-countingbot/internal/scanner"
	"github.com/korzewarrior/discord-countingbot/internal/store"
)

var (
	ErrAlreadyActive = errors.New("counting is already active")
	ErrNotActive     = errors.New("counting is not active")
	ErrNoChannel     = errors.New("no channel configured")
	ErrResetDetected = errors.New("reset detected during initial scan")
)

const (
	typingDelay        = 50 * time.Millisecond
	scanRetryBackoff   = 5 * time.Second
	soloRecheckBackoff = 5 * time.Second
	selectRetryBackoff = 10 * time.Second
	outOfHoursRecheck  = 60 * time.Second
	errorBackoff       = 5 * time.Second
)

// Engine is the dispatch loop: scan, fold the result into counter state, and
// either post the next value, back off, or stop. At most one loop goroutine
// runs at a time; Start and Stop own the lifecycle.
type Engine struct {
	cfg      config.Config
	store    store.Store
	pool     *identity.Pool
	scanner  *scanner.Scanner
	notifier *notify.Notifier

	mu         sync.Mutex
	state      domain.CounterState
	settings   domain.Settings
	active     bool
	starting   bool // held across Start's initial scan so concurrent Starts cannot race the loop launch
	generation int  // bumped on Stop to invalidate pending auto-restarts
	cancel     context.CancelFunc
	done       chan struct{}
	pacer      *Pacer

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewEngine(cfg config.Config, st store.Store, pool *identity.Pool, sc *scanner.Scanner, snap domain.Snapshot, notifier *notify.Notifier) *Engine {
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = 60 * time.Second
	}
	if cfg.RestartGrace <= 0 {
		cfg.RestartGrace = 3 * time.Second
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 10
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		pool:     pool,
		scanner:  sc,
		notifier: notifier,
		state:    snap.State,
		settings: snap.Settings,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// Start brings the loop up. With forceReset (or a zero count) the counter
// restarts from 1. The initial scan runs synchronously so a freshly reset
// channel is caught before the first post: with auto-restart off, Start
// records the reset and refuses, and the operator retries deliberately.
func (e *Engine) Start(forceReset bool) error {
	e.mu.Lock()
	if e.active || e.starting {
		e.mu.Unlock()
		return ErrAlreadyActive
	}
	if e.settings.ChannelID == "" {
		e.mu.Unlock()
		return ErrNoChannel
	}
	need := 2
	if e.settings.SoloMode {
		need = 1
	}
	if n := e.pool.Len(); n < need {
		e.mu.Unlock()
		return fmt.Errorf("need at least %d identities, have %d", need, n)
	}
	if forceReset || e.state.CurrentCount == 0 {
		e.state = domain.CounterState{LastPosterIndex: -1, LastResetAt: e.state.LastResetAt}
	}
	// The count limit caps posts performed this run, so the counter starts
	// from zero on every Start regardless of the channel count.
	e.state.CountsPerformed = 0
	e.starting = true
	settings := e.settings
	st := e.state
	e.mu.Unlock()

	ctx, cancelScan := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelScan()
	e.pool.ResolveAll(ctx)
	res := e.scanner.Scan(ctx, settings.ChannelID, settings.BotNames, st.LastResetAt)

	e.mu.Lock()
	action := Apply(&e.state, res, e.settings.AutoRestart, e.now())
	if action == domain.ActionStopReset {
		e.starting = false
		e.mu.Unlock()
		e.persist()
		e.emitEvent(domain.EventResetDetected, map[string]interface{}{
			"reset_at": res.ResetAt,
		})
		return ErrResetDetected
	}
	if res.Outcome == domain.ScanFailed {
		log.Printf("start: initial scan failed (%s), continuing from persisted count %d", res.FailureReason, e.state.CurrentCount)
	}

	e.starting = false
	e.active = true
	e.pacer = NewPacer(e.settings)
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	count := e.state.CurrentCount
	e.mu.Unlock()

	log.Printf("counting started on channel %s at count %d", settings.ChannelID, count)
	e.emitEvent(domain.EventCountingStarted, map[string]interface{}{
		"channel_id": settings.ChannelID,
		"count":      count,
	})
	go e.run(runCtx, done)
	return nil
}

// Stop cancels the loop and waits for it to exit. Calling Stop while idle
// still cancels any pending auto-restart.
func (e *Engine) Stop() error {
	e.mu.Lock()
	e.generation++
	if !e.active {
		e.mu.Unlock()
		return ErrNotActive
	}
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done

	e.persist()
	e.mu.Lock()
	count := e.state.CurrentCount
	e.mu.Unlock()
	e.emitEvent(domain.EventCountingStopped, map[string]interface{}{"count": count})
	log.Printf("counting stopped at count %d", count)
	return nil
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer e.deactivate()

	lastSuccess := e.now()

	for ctx.Err() == nil {
		e.mu.Lock()
		settings := e.settings
		st := e.state
		pacer := e.pacer
		e.mu.Unlock()

		if settings.CountLimit > 0 && st.CountsPerformed >= settings.CountLimit {
			log.Printf("count limit %d reached at count %d, stopping", settings.CountLimit, st.CurrentCount)
			e.persist()
			e.emitEvent(domain.EventLimitReached, map[string]interface{}{
				"limit": settings.CountLimit,
				"count": st.CurrentCount,
			})
			e.notifier.Text(ctx, fmt.Sprintf("Count limit %d reached, counting stopped", settings.CountLimit))
			return
		}

		// A count limit means a deliberate sprint to a target; it and
		// ludicrous-rate runs ignore the configured run hours.
		if settings.CountLimit == 0 && !pacer.Ludicrous() &&
			!withinRunHours(e.now(), settings.RunHoursStart, settings.RunHoursEnd) {
			if e.sleep(ctx, outOfHoursRecheck) != nil {
				return
			}
			continue
		}

		if e.now().Sub(lastSuccess) > e.cfg.WatchdogTimeout {
			log.Printf("watchdog: no successful post in %s, reconnecting all sessions", e.cfg.WatchdogTimeout)
			e.emitEvent(domain.EventWatchdogFired, map[string]interface{}{
				"idle": e.now().Sub(lastSuccess).String(),
			})
			e.pool.ReconnectAll()
			lastSuccess = e.now()
		}

		res := e.scanner.Scan(ctx, settings.ChannelID, settings.BotNames, st.LastResetAt)
		e.mu.Lock()
		action := Apply(&e.state, res, settings.AutoRestart, e.now())
		st = e.state
		e.mu.Unlock()

		switch action {
		case domain.ActionWaitRetry:
			if e.sleep(ctx, scanRetryBackoff) != nil {
				return
			}
			continue
		case domain.ActionStopReset:
			e.handleReset(res, false, done)
			return
		case domain.ActionAutoRestart:
			e.handleReset(res, true, done)
			return
		}

		next := st.CurrentCount + 1
		idx, err := e.pool.SelectNext(settings.SoloMode, st.LastPosterIndex, st.LastPosterID)
		if err != nil {
			if errors.Is(err, identity.ErrAwaitOtherUser) {
				if e.sleep(ctx, soloRecheckBackoff) != nil {
					return
				}
			} else {
				log.Printf("dispatch: select identity: %v", err)
				if e.sleep(ctx, selectRetryBackoff) != nil {
					return
				}
			}
			continue
		}
		id, ok := e.pool.Get(idx)
		if !ok {
			continue
		}

		if !pacer.Ludicrous() {
			if err := id.Transport.TriggerTyping(ctx, settings.ChannelID); err == nil {
				if e.sleep(ctx, typingDelay) != nil {
					return
				}
			}
		}

		if settings.VerifyLastMessage && !pacer.Ludicrous() {
			vres := e.scanner.Scan(ctx, settings.ChannelID, settings.BotNames, st.LastResetAt)
			switch vres.Outcome {
			case domain.ScanResetDetected:
				e.mu.Lock()
				vact := Apply(&e.state, vres, settings.AutoRestart, e.now())
				e.mu.Unlock()
				e.handleReset(vres, vact == domain.ActionAutoRestart, done)
				return
			case domain.ScanCountFound:
				if vres.Count != st.CurrentCount {
					log.Printf("verify: count moved from %d to %d, replanning", st.CurrentCount, vres.Count)
					e.mu.Lock()
					Apply(&e.state, vres, settings.AutoRestart, e.now())
					e.mu.Unlock()
					continue
				}
			}
		}

		entry, err := id.Transport.PostEntry(ctx, settings.ChannelID, strconv.Itoa(next))
		if err != nil {
			e.handleSendError(ctx, pacer, err)
			continue
		}

		posterID := entry.AuthorID
		if posterID == "" {
			posterID = id.ExternalID
		}
		e.mu.Lock()
		e.state.CurrentCount = next
		e.state.LastPosterIndex = idx
		e.state.LastPosterID = posterID
		e.state.CountsPerformed++
		performed := e.state.CountsPerformed
		e.mu.Unlock()
		e.pool.RecordSend(idx)
		pacer.OnSuccess()
		lastSuccess = e.now()

		if next%100 == 0 {
			log.Printf("milestone: reached %d", next)
		}
		// Snapshot cadence stretches with throughput: every success at a
		// human pace, sparser in speed and ludicrous modes.
		every := 1
		switch {
		case pacer.Ludicrous():
			every = 100
		case settings.SpeedMode:
			every = e.cfg.SnapshotEvery
		}
		if performed%every == 0 {
			e.persist()
		}

		if e.sleep(ctx, pacer.NextDelay()) != nil {
			return
		}
	}
}

// handleSendError maps the transport failure taxonomy onto pacing: rate
// limits grow the delay modifier and wait out the retry-after, everything
// else gets a flat backoff. Blocked sends never advance the count.
func (e *Engine) handleSendError(ctx context.Context, pacer *Pacer, err error) {
	var rl *discord.RateLimitError
	if errors.As(err, &rl) {
		wait, reduced := pacer.OnRateLimit(rl.RetryAfter)
		log.Printf("dispatch: rate limited, waiting %s (modifier %.2f)", wait, pacer.Modifier())
		if reduced > 0 {
			e.mu.Lock()
			e.settings.MessagesPerSecond = reduced
			e.mu.Unlock()
			e.emitEvent(domain.EventRateAdjusted, map[string]interface{}{
				"messages_per_second": reduced,
			})
			log.Printf("dispatch: target rate reduced to %.2f msg/s", reduced)
		}
		_ = e.sleep(ctx, wait)
		return
	}

	var httpErr *discord.HTTPError
	if errors.As(err, &httpErr) {
		log.Printf("dispatch: post rejected: %v", err)
	} else {
		log.Printf("dispatch: post failed: %v", err)
	}
	_ = e.sleep(ctx, errorBackoff)
}

// handleReset persists the cleared state and, with auto-restart on, schedules
// a fresh Start after a grace period from a new goroutine. The loop goroutine
// itself always exits first, so restarts never stack.
func (e *Engine) handleReset(res domain.ScanResult, restart bool, done <-chan struct{}) {
	e.persist()
	e.emitEvent(domain.EventResetDetected, map[string]interface{}{
		"reset_at":     res.ResetAt,
		"auto_restart": restart,
	})
	e.notifier.Text(context.Background(), fmt.Sprintf("Counting reset detected (auto-restart: %v)", restart))
	if !restart {
		log.Printf("reset detected, stopping")
		return
	}

	log.Printf("reset detected, restarting in %s", e.cfg.RestartGrace)
	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()
	go func() {
		<-done // loop goroutine fully exited
		if e.sleep(context.Background(), e.cfg.RestartGrace) != nil {
			return
		}
		e.mu.Lock()
		stale := gen != e.generation
		e.mu.Unlock()
		if stale {
			return
		}
		if err := e.Start(false); err != nil && !errors.Is(err, ErrAlreadyActive) {
			log.Printf("auto-restart failed: %v", err)
		}
	}()
}

func (e *Engine) deactivate() {
	e.mu.Lock()
	e.active = false
	e.cancel = nil
	e.mu.Unlock()
}

// emitEvent records the event and mirrors it to the configured webhook.
func (e *Engine) emitEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event {
	event := e.store.AppendEvent(eventType, payload)
	e.notifier.Event(event)
	return event
}

func (e *Engine) persist() {
	e.mu.Lock()
	snap := domain.Snapshot{
		State:      e.state,
		Identities: e.pool.Records(),
		Settings:   e.settings,
	}
	e.mu.Unlock()
	if err := e.store.Save(snap); err != nil {
		log.Printf("persist: %v", err)
	}
}

// withinRunHours implements the wrap-around hour window: start==end is an
// empty window, start>end wraps past midnight.
func withinRunHours(now time.Time, start, end int) bool {
	if start == end {
		return false
	}
	h := now.Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
