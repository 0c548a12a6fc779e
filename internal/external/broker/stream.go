package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/aegis-warrant/internal/contracts"
	"github.com/wonny/aegis-warrant/pkg/httputil"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

// Timing
const (
	PingInterval          = 30 * time.Second
	ReconnectInitialDelay = 1 * time.Second
	ReconnectMaxDelay     = 30 * time.Second
	MaxReconnectAttempts  = 10

	MaxSubscriptions = 200
)

var errStreamClosed = errors.New("quote stream closed")

type streamRequest struct {
	Action  string   `json:"action"` // subscribe | unsubscribe
	Symbols []string `json:"symbols"`
}

type streamMessage struct {
	Type    string          `json:"type"` // quote | error | pong
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// QuoteStream is the push-quote websocket client
// ⭐ SSOT: 실시간 시세 WebSocket 연결은 여기서만
type QuoteStream struct {
	url       string
	header    http.Header
	throttler httputil.Throttler
	logger    *logger.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	connected bool

	subscriptions map[string]bool
	subMu         sync.RWMutex

	onQuote func(contracts.Quote)
	onError func(error)

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewQuoteStream creates a stream client; throttler meters subscribe/unsubscribe requests
func NewQuoteStream(url, accessToken string, throttler httputil.Throttler, log *logger.Logger) *QuoteStream {
	if log == nil {
		log = logger.Nop()
	}
	header := http.Header{}
	if accessToken != "" {
		header.Set("Authorization", "Bearer "+accessToken)
	}
	return &QuoteStream{
		url:           url,
		header:        header,
		throttler:     throttler,
		logger:        log.WithComponent("quote_stream"),
		subscriptions: make(map[string]bool),
		stopCh:        make(chan struct{}),
	}
}

// Callback setters; set before Connect
func (s *QuoteStream) OnQuote(fn func(contracts.Quote)) { s.onQuote = fn }
func (s *QuoteStream) OnError(fn func(error))           { s.onError = fn }

// Connect dials the stream and starts the read and ping loops
func (s *QuoteStream) Connect(ctx context.Context) error {
	if err := s.dial(ctx); err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.pingLoop()

	s.logger.Info("Quote stream connected")
	return nil
}

func (s *QuoteStream) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	if s.stopped {
		s.connMu.Unlock()
		conn.Close()
		return errStreamClosed
	}
	s.conn = conn
	s.connected = true
	s.connMu.Unlock()
	return nil
}

// Close stops the loops and closes the connection
func (s *QuoteStream) Close() error {
	s.connMu.Lock()
	if s.stopped {
		s.connMu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.conn.Close()
	}
	s.connected = false
	s.connMu.Unlock()

	s.wg.Wait()
	s.logger.Info("Quote stream closed")
	return nil
}

// IsConnected returns connection status
func (s *QuoteStream) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connected
}

// Subscribe adds symbols; already-subscribed symbols are skipped
func (s *QuoteStream) Subscribe(ctx context.Context, symbols []string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	var add []string
	for _, symbol := range symbols {
		if !s.subscriptions[symbol] {
			add = append(add, symbol)
		}
	}
	if len(add) == 0 {
		return nil
	}
	if len(s.subscriptions)+len(add) > MaxSubscriptions {
		return fmt.Errorf("max subscriptions reached (%d)", MaxSubscriptions)
	}

	if err := s.send(ctx, streamRequest{Action: "subscribe", Symbols: add}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for _, symbol := range add {
		s.subscriptions[symbol] = true
	}

	s.logger.WithField("symbols", add).Debug("Subscribed to quotes")
	return nil
}

// Unsubscribe removes symbols
func (s *QuoteStream) Unsubscribe(ctx context.Context, symbols []string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	var remove []string
	for _, symbol := range symbols {
		if s.subscriptions[symbol] {
			remove = append(remove, symbol)
		}
	}
	if len(remove) == 0 {
		return nil
	}

	if err := s.send(ctx, streamRequest{Action: "unsubscribe", Symbols: remove}); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	for _, symbol := range remove {
		delete(s.subscriptions, symbol)
	}
	return nil
}

// Subscriptions returns current subscriptions, sorted
func (s *QuoteStream) Subscriptions() []string {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	symbols := make([]string, 0, len(s.subscriptions))
	for symbol := range s.subscriptions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (s *QuoteStream) send(ctx context.Context, req streamRequest) error {
	if s.throttler != nil {
		if err := s.throttler.Throttle(ctx); err != nil {
			return err
		}
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	return s.conn.WriteJSON(req)
}

func (s *QuoteStream) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.isStopped() {
				return
			}
			s.connMu.Lock()
			s.connected = false
			s.connMu.Unlock()
			s.reportError(fmt.Errorf("read error: %w", err))
			if err := s.reconnect(ctx); err != nil {
				s.reportError(err)
				return
			}
			continue
		}

		s.handleMessage(data)
	}
}

func (s *QuoteStream) handleMessage(data []byte) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.WithError(err).Warn("Malformed stream message")
		return
	}

	switch msg.Type {
	case "quote":
		var q contracts.Quote
		if err := json.Unmarshal(msg.Data, &q); err != nil {
			s.logger.WithError(err).Warn("Malformed quote")
			return
		}
		if s.onQuote != nil && q.Valid() {
			s.onQuote(q)
		}
	case "error":
		s.reportError(fmt.Errorf("stream error: %s", msg.Message))
	}
}

func (s *QuoteStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					s.logger.WithError(err).Debug("Ping failed")
				}
			}
			s.connMu.Unlock()
		}
	}
}

// reconnect redials with exponential backoff and restores subscriptions
func (s *QuoteStream) reconnect(ctx context.Context) error {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connected = false
	s.connMu.Unlock()

	delay := ReconnectInitialDelay
	for attempt := 1; attempt <= MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-time.After(delay):
		}

		s.logger.WithField("attempt", attempt).Info("Attempting quote stream reconnection")

		if err := s.dial(ctx); err != nil {
			if errors.Is(err, errStreamClosed) {
				return nil
			}
			delay *= 2
			if delay > ReconnectMaxDelay {
				delay = ReconnectMaxDelay
			}
			continue
		}

		if err := s.resubscribe(ctx); err != nil {
			s.logger.WithError(err).Warn("Failed to restore subscriptions")
		}

		s.logger.Info("Quote stream reconnected")
		return nil
	}

	return fmt.Errorf("max reconnect attempts reached")
}

// resubscribe replays the subscription set on a fresh connection; the set is kept on failure
func (s *QuoteStream) resubscribe(ctx context.Context) error {
	symbols := s.Subscriptions()
	if len(symbols) == 0 {
		return nil
	}
	return s.send(ctx, streamRequest{Action: "subscribe", Symbols: symbols})
}

func (s *QuoteStream) isStopped() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.stopped
}

func (s *QuoteStream) reportError(err error) {
	s.logger.WithError(err).Warn("Quote stream error")
	if s.onError != nil {
		s.onError(err)
	}
}
