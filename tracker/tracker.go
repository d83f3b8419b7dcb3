package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"marketpulse/config"
	"marketpulse/internal/ring"
	"marketpulse/logger"
	"marketpulse/models"
	"marketpulse/processor"
)

// ConnInfo exposes the connection state of the stream reader feeding a
// tracker. The tracker surfaces it through its own health accessors.
type ConnInfo interface {
	Status() models.ConnStatus
	LastMessageAt() time.Time
}

// Tracker owns one feed's bounded event buffer. It consumes raw messages
// from its channel, normalizes them, and keeps the most recent events in a
// ring buffer that readers snapshot. When the live feed goes silent the
// fallback generator fills the buffer with tagged synthetic events.
type Tracker struct {
	feed   models.Feed
	config *config.Config
	norm   *processor.Normalizer
	buffer *ring.Buffer[models.Event]
	source <-chan models.RawStreamMessage
	conn   ConnInfo
	gen    *fallbackGenerator
	window time.Duration
	log    *logger.Log

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	seq    atomic.Uint64

	mu            sync.RWMutex
	running       bool
	lastLive      time.Time
	lastSynthetic time.Time
	lastUpdate    time.Time
	rejections    map[processor.Rejection]uint64
}

// NewLiquidationTracker builds the tracker for the forceOrder feed.
func NewLiquidationTracker(cfg *config.Config, source <-chan models.RawStreamMessage, conn ConnInfo) *Tracker {
	tc := cfg.Trackers.Liquidations
	return newTracker(cfg, models.FeedLiquidations, tc, source, conn)
}

// NewTradeTracker builds the tracker for the large-trade feed.
func NewTradeTracker(cfg *config.Config, source <-chan models.RawStreamMessage, conn ConnInfo) *Tracker {
	tc := cfg.Trackers.Trades
	return newTracker(cfg, models.FeedTrades, tc, source, conn)
}

func newTracker(cfg *config.Config, feed models.Feed, tc config.TrackerConfig,
	source <-chan models.RawStreamMessage, conn ConnInfo) *Tracker {

	minLiq := cfg.Trackers.Liquidations.MinValueUSD
	minTrade := cfg.Trackers.Trades.MinValueUSD

	return &Tracker{
		feed:       feed,
		config:     cfg,
		norm:       processor.NewNormalizer(minLiq, minTrade, cfg.Streams.Symbols),
		buffer:     ring.New[models.Event](tc.BufferSize),
		source:     source,
		conn:       conn,
		gen:        newFallbackGenerator(tc.MinValueUSD, cfg.Fallback.MaxEvents),
		window:     tc.Window,
		log:        logger.GetLogger(),
		rejections: make(map[processor.Rejection]uint64),
	}
}

// Start launches the consume loop and, when fallback is enabled, the
// fallback timer.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("%s tracker already running", t.feed)
	}
	t.running = true
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.lastLive = time.Now()

	t.wg.Add(1)
	go t.consume()

	if t.config.Fallback.Enabled || t.config.Fallback.Force {
		t.wg.Add(1)
		go t.fallbackLoop()
	}

	t.log.WithComponent(t.component()).WithFields(logger.Fields{
		"buffer_capacity":  t.buffer.Cap(),
		"fallback_enabled": t.config.Fallback.Enabled,
	}).Info("tracker started")
	return nil
}

// Stop cancels the loops and waits for them to drain.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.cancel()
	t.mu.Unlock()

	t.wg.Wait()
	t.log.WithComponent(t.component()).Info("tracker stopped")
}

func (t *Tracker) component() string {
	return fmt.Sprintf("%s-tracker", t.feed)
}

func (t *Tracker) consume() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case msg, ok := <-t.source:
			if !ok {
				return
			}
			t.ingest(msg)
		}
	}
}

func (t *Tracker) ingest(msg models.RawStreamMessage) {
	ev, rej := t.norm.Normalize(msg)
	if rej != processor.RejectNone {
		t.recordRejection(rej)
		return
	}

	t.push(ev)

	now := time.Now()
	t.mu.Lock()
	t.lastLive = now
	t.lastUpdate = now
	t.mu.Unlock()

	switch t.feed {
	case models.FeedLiquidations:
		logger.IncrementLiquidationRead(len(msg.Data))
	case models.FeedTrades:
		logger.IncrementTradeRead(len(msg.Data))
	}
}

// push stamps the event with the feed's next sequence number before it
// enters the ring.
func (t *Tracker) push(ev models.Event) {
	ev.Seq = t.seq.Add(1)
	t.buffer.Push(ev)
}

func (t *Tracker) recordRejection(rej processor.Rejection) {
	// Parse failures are worth a log line; validation filtering is not.
	if rej == processor.RejectParse {
		t.log.WithComponent(t.component()).Warn("dropping malformed message")
	}
	t.mu.Lock()
	t.rejections[rej]++
	t.mu.Unlock()
}

// fallbackLoop checks feed silence on a timer and injects synthetic events
// when the silence and spacing thresholds are both crossed. The force flag
// skips the silence check entirely.
func (t *Tracker) fallbackLoop() {
	defer t.wg.Done()

	interval := t.config.Fallback.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case now := <-ticker.C:
			t.maybeGenerate(now)
		}
	}
}

func (t *Tracker) maybeGenerate(now time.Time) {
	fb := t.config.Fallback

	t.mu.RLock()
	silentFor := now.Sub(t.lastLive)
	sinceSynthetic := now.Sub(t.lastSynthetic)
	t.mu.RUnlock()

	if !fb.Force && silentFor < fb.SilenceThreshold {
		return
	}
	if sinceSynthetic < fb.MinInterval {
		return
	}

	events := t.gen.generate(now)
	for _, ev := range events {
		t.push(ev)
	}

	t.mu.Lock()
	t.lastSynthetic = now
	t.lastUpdate = now
	t.mu.Unlock()

	t.log.WithComponent(t.component()).WithFields(logger.Fields{
		"count":      len(events),
		"silent_for": silentFor.String(),
	}).Info("generated synthetic events")
}

// Snapshot returns a copy of the buffered events, most recent first.
func (t *Tracker) Snapshot() []models.Event {
	return t.buffer.Snapshot()
}

// Status reports the feeding reader's connection state.
func (t *Tracker) Status() models.ConnStatus {
	if t.conn == nil {
		return models.StatusDisconnected
	}
	return t.conn.Status()
}

// LastUpdate reports when the buffer last changed.
func (t *Tracker) LastUpdate() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUpdate
}

// LastSyntheticAt reports when the fallback generator last fired.
func (t *Tracker) LastSyntheticAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSynthetic
}

// Rejections returns a copy of the per-reason rejection counters.
func (t *Tracker) Rejections() map[string]uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]uint64, len(t.rejections))
	for rej, n := range t.rejections {
		out[rej.String()] = n
	}
	return out
}
