package channel

import (
	"context"
	"sync"
	"time"

	"marketpulse/logger"
	"marketpulse/models"
)

// Channels owns the buffered raw-message channels that connect the stream
// readers to the trackers. Readers publish with SendRaw and trackers consume
// from Liquidations() and Trades(). When a channel is full the message is
// dropped rather than blocking the reader's receive loop.
type Channels struct {
	liquidations chan models.RawStreamMessage
	trades       chan models.RawStreamMessage

	mu     sync.RWMutex
	closed bool
	stats  map[models.Feed]*FeedStats

	log *logger.Log
}

// FeedStats tracks per-feed delivery counters.
type FeedStats struct {
	Sent    uint64
	Dropped uint64
	LastAt  time.Time
}

// NewChannels creates the feed channels with the given buffer sizes.
func NewChannels(liqBuffer, tradeBuffer int) *Channels {
	if liqBuffer < 1 {
		liqBuffer = 1
	}
	if tradeBuffer < 1 {
		tradeBuffer = 1
	}

	return &Channels{
		liquidations: make(chan models.RawStreamMessage, liqBuffer),
		trades:       make(chan models.RawStreamMessage, tradeBuffer),
		stats: map[models.Feed]*FeedStats{
			models.FeedLiquidations: {},
			models.FeedTrades:       {},
		},
		log: logger.GetLogger(),
	}
}

// Liquidations returns the receive side of the liquidation feed.
func (c *Channels) Liquidations() <-chan models.RawStreamMessage {
	return c.liquidations
}

// Trades returns the receive side of the large-trade feed.
func (c *Channels) Trades() <-chan models.RawStreamMessage {
	return c.trades
}

// SendRaw routes a raw stream message onto its feed channel. It returns false
// when the message was dropped because the channel is full, the channels are
// closed, or the context was cancelled.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawStreamMessage) bool {
	// The read lock is held across the send so Close, which takes the write
	// lock, cannot close the channel mid-send. The select never blocks, so
	// the lock is held only briefly.
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}

	var target chan models.RawStreamMessage
	switch msg.Feed {
	case models.FeedLiquidations:
		target = c.liquidations
	case models.FeedTrades:
		target = c.trades
	default:
		c.mu.RUnlock()
		return false
	}

	var sent, full bool
	select {
	case target <- msg:
		sent = true
	case <-ctx.Done():
	default:
		full = true
	}
	c.mu.RUnlock()

	if sent {
		c.recordSent(msg.Feed)
		return true
	}
	c.recordDropped(msg.Feed)
	if full {
		c.log.WithComponent("channels").WithFields(logger.Fields{
			"feed":     string(msg.Feed),
			"exchange": msg.Exchange,
		}).Warn("channel full, dropping message")
	}
	return false
}

func (c *Channels) recordSent(feed models.Feed) {
	c.mu.Lock()
	if s := c.stats[feed]; s != nil {
		s.Sent++
		s.LastAt = time.Now()
	}
	c.mu.Unlock()
}

func (c *Channels) recordDropped(feed models.Feed) {
	c.mu.Lock()
	if s := c.stats[feed]; s != nil {
		s.Dropped++
	}
	c.mu.Unlock()
}

// GetStats returns a copy of the per-feed delivery counters.
func (c *Channels) GetStats() map[models.Feed]FeedStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[models.Feed]FeedStats, len(c.stats))
	for feed, s := range c.stats {
		out[feed] = *s
	}
	return out
}

// Close closes both feed channels. Further SendRaw calls return false.
func (c *Channels) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.liquidations)
	close(c.trades)
}

// StartMetricsReporting periodically logs channel occupancy and delivery
// counters until the context is cancelled.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := c.GetStats()
				liq := stats[models.FeedLiquidations]
				trd := stats[models.FeedTrades]
				entry := c.log.WithComponent("channels").WithFields(logger.Fields{
					"liq_len":       len(c.liquidations),
					"liq_cap":       cap(c.liquidations),
					"liq_sent":      liq.Sent,
					"liq_dropped":   liq.Dropped,
					"trade_len":     len(c.trades),
					"trade_cap":     cap(c.trades),
					"trade_sent":    trd.Sent,
					"trade_dropped": trd.Dropped,
				})
				entry.Info("channel stats")
				logger.RecordChannelMessage("liquidations", len(c.liquidations))
				logger.RecordChannelMessage("trades", len(c.trades))
			}
		}
	}()
}
