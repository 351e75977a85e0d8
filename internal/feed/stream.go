// Package feed maintains rolling per-symbol market windows from a websocket
// tick stream and serves them as synchronous snapshots to the decision path.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tradekernel/internal/domain"
)

// Config sets the upstream endpoint and window sizing.
type Config struct {
	URL     string   `yaml:"url"`
	Symbols []string `yaml:"symbols"`

	// WindowSize bounds the rolling sample window kept per symbol.
	WindowSize int `yaml:"window_size"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Reconnect backoff doubles from Min up to Max.
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

// DefaultConfig returns the feed defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:   64,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		ReconnectMin: time.Second,
		ReconnectMax: 30 * time.Second,
	}
}

// Tick is one upstream market update.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Stream holds the rolling windows. Reads never block on the network; a
// snapshot is whatever the stream has accumulated so far.
type Stream struct {
	cfg Config

	mu      sync.RWMutex
	windows map[string][]domain.PriceSample
	last    map[string]Tick
}

// NewStream creates a stream with empty windows.
func NewStream(cfg Config) *Stream {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	return &Stream{
		cfg:     cfg,
		windows: make(map[string][]domain.PriceSample),
		last:    make(map[string]Tick),
	}
}

// Run connects, subscribes, and consumes ticks until ctx is cancelled,
// reconnecting with capped backoff on any failure.
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.cfg.ReconnectMin
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("url", s.cfg.URL).Dur("backoff", backoff).Msg("Market feed disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if max := s.cfg.ReconnectMax; max > 0 && backoff > max {
			backoff = max
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial market feed: %w", err)
	}
	defer conn.Close()

	if len(s.cfg.Symbols) > 0 {
		if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", Symbols: s.cfg.Symbols}); err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}
	log.Info().Str("url", s.cfg.URL).Strs("symbols", s.cfg.Symbols).Msg("Market feed connected")

	// Unblock the read loop when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed read failed: %w", err)
		}

		var tick Tick
		if err := json.Unmarshal(payload, &tick); err != nil {
			log.Debug().Err(err).Msg("Skipping unparseable feed message")
			continue
		}
		if tick.Symbol == "" || tick.Price <= 0 {
			continue
		}
		s.Apply(tick)
	}
}

// Apply folds one tick into the symbol's rolling window. Exported so replay
// and test harnesses can feed the stream directly.
func (s *Stream) Apply(tick Tick) {
	if tick.Timestamp.IsZero() {
		tick.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	window := append(s.windows[tick.Symbol], domain.PriceSample{
		Price:     tick.Price,
		Volume:    tick.Volume,
		Timestamp: tick.Timestamp,
	})
	if len(window) > s.cfg.WindowSize {
		window = window[len(window)-s.cfg.WindowSize:]
	}
	s.windows[tick.Symbol] = window
	s.last[tick.Symbol] = tick
}

// Snapshot returns the symbol's current rolling view. Symbols with no ticks
// yet fail with ErrNotFound.
func (s *Stream) Snapshot(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window, ok := s.windows[symbol]
	if !ok || len(window) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("no market data for %s: %w", symbol, domain.ErrNotFound)
	}

	last := s.last[symbol]
	out := domain.MarketSnapshot{
		Symbol:    symbol,
		Window:    make([]domain.PriceSample, len(window)),
		LastPrice: last.Price,
		Bid:       last.Bid,
		Ask:       last.Ask,
		Timestamp: last.Timestamp,
	}
	copy(out.Window, window)
	return out, nil
}

// Symbols lists every symbol with at least one tick.
func (s *Stream) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.windows))
	for symbol := range s.windows {
		out = append(out, symbol)
	}
	return out
}
