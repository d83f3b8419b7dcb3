package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/config"
	"marketpulse/internal/channel"
	"marketpulse/internal/symbols"
	"marketpulse/logger"
	"marketpulse/models"
)

const (
	liquidationChannel = "forceOrder"
	tradeChannel       = "trade"

	liquidationSubscribeID = 1
	tradeSubscribeID       = 2
)

// subscribeRequest is the handshake sent after dialing a combined stream.
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// subscribeAck is the exchange's confirmation of a subscribe request.
type subscribeAck struct {
	Result json.RawMessage `json:"result"`
	ID     int             `json:"id"`
}

// StreamReader maintains one long-lived websocket subscription to a Binance
// futures feed and forwards raw messages onto the feed channel. It reconnects
// with multiplicative backoff and runs its own staleness health monitor.
type StreamReader struct {
	config   *config.Config
	channels *channel.Channels
	log      *logger.Log

	feed        models.Feed
	streamName  string
	subscribeID int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	conn    *websocket.Conn

	status      atomic.Int32
	lastMessage atomic.Int64
}

// NewLiquidationReader creates a reader for the forceOrder feed.
func NewLiquidationReader(cfg *config.Config, ch *channel.Channels) *StreamReader {
	return newStreamReader(cfg, ch, models.FeedLiquidations, liquidationChannel, liquidationSubscribeID)
}

// NewTradeReader creates a reader for the trade feed.
func NewTradeReader(cfg *config.Config, ch *channel.Channels) *StreamReader {
	return newStreamReader(cfg, ch, models.FeedTrades, tradeChannel, tradeSubscribeID)
}

func newStreamReader(cfg *config.Config, ch *channel.Channels, feed models.Feed, stream string, id int) *StreamReader {
	r := &StreamReader{
		config:      cfg,
		channels:    ch,
		log:         logger.GetLogger(),
		feed:        feed,
		streamName:  stream,
		subscribeID: id,
	}
	r.status.Store(int32(models.StatusDisconnected))
	return r
}

// Start launches the connection supervisor and the health monitor.
func (r *StreamReader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("%s reader already running", r.feed)
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.run()
	go r.healthLoop()

	r.log.WithComponent(r.component()).WithFields(logger.Fields{
		"url":     r.config.Streams.URL,
		"symbols": len(r.config.Streams.Symbols),
	}).Info("stream reader started")
	return nil
}

// Stop cancels the supervisor, closes the socket and waits for the loops.
func (r *StreamReader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	if r.conn != nil {
		r.conn.Close()
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.status.Store(int32(models.StatusDisconnected))
	r.log.WithComponent(r.component()).Info("stream reader stopped")
}

// Status reports the current connection state.
func (r *StreamReader) Status() models.ConnStatus {
	return models.ConnStatus(r.status.Load())
}

// LastMessageAt reports when the last inbound message was received. The zero
// time means no message has arrived yet.
func (r *StreamReader) LastMessageAt() time.Time {
	n := r.lastMessage.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (r *StreamReader) component() string {
	return fmt.Sprintf("binance-%s-reader", r.streamName)
}

// run is the connection supervisor. Each iteration dials, subscribes and
// hands the socket to the receive loop; when the loop exits the supervisor
// sleeps out the backoff delay and tries again.
func (r *StreamReader) run() {
	defer r.wg.Done()

	log := r.log.WithComponent(r.component())
	bo := newBackoff(r.config.Streams.Retry)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		r.status.Store(int32(models.StatusConnecting))
		conn, err := r.connect()
		if err != nil {
			r.status.Store(int32(models.StatusDisconnected))
			delay := bo.Next()
			if bo.Exhausted() {
				log.WithError(err).WithFields(logger.Fields{
					"attempts": bo.Attempts(),
				}).Error("retry attempts exhausted, reader giving up")
				return
			}
			log.WithError(err).WithFields(logger.Fields{
				"attempt":     bo.Attempts(),
				"retry_delay": delay.String(),
			}).Warn("connect failed, retrying")
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		bo.Reset()
		r.setConn(conn)
		r.status.Store(int32(models.StatusConnected))
		log.Info("connected and subscribed")

		r.receiveLoop(conn)

		r.setConn(nil)
		conn.Close()
		r.status.Store(int32(models.StatusDisconnected))

		select {
		case <-r.ctx.Done():
			return
		default:
			log.Warn("connection lost, reconnecting")
		}
	}
}

// connect dials the combined stream endpoint, sends the subscribe handshake
// and waits for the confirmation within the configured timeout.
func (r *StreamReader) connect() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(r.ctx, r.config.Streams.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.config.Streams.URL, err)
	}

	req := subscribeRequest{
		Method: "SUBSCRIBE",
		Params: streamParams(r.config.Streams.Symbols, r.streamName),
		ID:     r.subscribeID,
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(r.config.Streams.ConfirmTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await subscribe confirmation: %w", err)
	}

	var ack subscribeAck
	if err := json.Unmarshal(data, &ack); err == nil && ack.ID == r.subscribeID {
		return conn, nil
	}

	// Some endpoints start streaming before the ack arrives. Treat the first
	// payload as data and consider the subscription live.
	r.forward(data)
	return conn, nil
}

// receiveLoop reads messages until the connection dies. A read timeout
// triggers one application ping; if nothing arrives within the ping window
// the connection is declared dead.
func (r *StreamReader) receiveLoop(conn *websocket.Conn) {
	log := r.log.WithComponent(r.component())

	conn.SetPongHandler(func(string) error {
		r.lastMessage.Store(time.Now().UnixNano())
		return nil
	})

	pinged := false
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(r.readDeadline(pinged)))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) && !pinged {
				deadline := time.Now().Add(r.config.Streams.PingTimeout)
				if werr := conn.WriteControl(websocket.PingMessage, nil, deadline); werr != nil {
					log.WithError(werr).Warn("ping failed, closing connection")
					return
				}
				pinged = true
				continue
			}
			if r.ctx.Err() == nil {
				log.WithError(err).Warn("read failed")
			}
			return
		}

		pinged = false
		r.forward(data)
	}
}

func (r *StreamReader) readDeadline(pinged bool) time.Duration {
	if pinged {
		return r.config.Streams.PingTimeout
	}
	return r.config.Streams.ReadTimeout
}

func (r *StreamReader) forward(data []byte) {
	r.lastMessage.Store(time.Now().UnixNano())

	msg := models.RawStreamMessage{
		Exchange: "binance",
		Feed:     r.feed,
		Data:     append([]byte(nil), data...),
		Received: time.Now().UTC(),
	}
	r.channels.SendRaw(r.ctx, msg)
}

// healthLoop catches connections that neither deliver data nor fail. When
// the feed has been silent for a full interval it sends a ping through the
// live socket; a failed send closes the socket so the supervisor reconnects.
func (r *StreamReader) healthLoop() {
	defer r.wg.Done()

	interval := r.config.Streams.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	log := r.log.WithComponent(r.component())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if r.Status() != models.StatusConnected {
				continue
			}
			last := r.LastMessageAt()
			if !last.IsZero() && time.Since(last) < interval {
				continue
			}

			conn := r.getConn()
			if conn == nil {
				continue
			}
			deadline := time.Now().Add(r.config.Streams.PingTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"silent_for": time.Since(last).String(),
				}).Warn("health ping failed, forcing reconnect")
				conn.Close()
			}
		}
	}
}

func (r *StreamReader) setConn(conn *websocket.Conn) {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
}

func (r *StreamReader) getConn() *websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// streamParams builds the combined-stream subscription topics, one per symbol.
func streamParams(pairs []string, channelName string) []string {
	params := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		params = append(params, symbols.Stream(pair, channelName))
	}
	return params
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
