package oracle

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/serpworks/serpd/internal/model"
	"github.com/serpworks/serpd/internal/pkg/logger"
)

const (
	reconnBaseDelay = 1 * time.Second
	reconnMaxDelay  = 30 * time.Second
	pingPeriod      = 15 * time.Second
)

// WSFeed subscribes to a streaming price feed over websocket and serves the
// latest tick per pair as an oracle Source. Reconnects with exponential
// backoff; a dropped connection degrades into stale observations rather than
// errors.
type WSFeed struct {
	url  string
	conn *websocket.Conn

	mu          sync.RWMutex
	quotes      map[string]Quote
	subs        []model.Pair
	ctx         context.Context
	cancel      context.CancelFunc
	isConnected bool
}

func NewWSFeed(url string) *WSFeed {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSFeed{
		url:    url,
		quotes: make(map[string]Quote),
		subs:   make([]model.Pair, 0),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the connection loop in a background goroutine
func (f *WSFeed) Start() {
	go f.runLoop()
}

// Stop closes the feed
func (f *WSFeed) Stop() {
	f.cancel()
	if f.conn != nil {
		f.conn.Close()
	}
}

// Subscribe adds pairs to the subscription list and updates the connection if active
func (f *WSFeed) Subscribe(pairs []model.Pair) {
	f.mu.Lock()
	defer f.mu.Unlock()

	updates := false
	for _, p := range pairs {
		found := false
		for _, existing := range f.subs {
			if existing.String() == p.String() {
				found = true
				break
			}
		}
		if !found {
			f.subs = append(f.subs, p)
			updates = true
		}
	}

	if updates && f.isConnected {
		f.sendSubscribe(f.subs)
	}
}

func (f *WSFeed) Latest(pair model.Pair) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[pair.String()]
	return q, ok
}

func (f *WSFeed) runLoop() {
	delay := reconnBaseDelay

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		if err := f.connect(); err != nil {
			logger.Error("Oracle feed connection failed", "url", f.url, "error", err, "retry_in", delay)
			time.Sleep(delay)
			delay *= 2
			if delay > reconnMaxDelay {
				delay = reconnMaxDelay
			}
			continue
		}

		delay = reconnBaseDelay
		f.mu.Lock()
		f.isConnected = true
		allSubs := make([]model.Pair, len(f.subs))
		copy(allSubs, f.subs)
		f.mu.Unlock()

		if len(allSubs) > 0 {
			if err := f.sendSubscribe(allSubs); err != nil {
				logger.Error("Oracle feed resubscribe failed", "error", err)
				f.conn.Close()
				continue
			}
		}

		f.readLoop()

		f.mu.Lock()
		f.isConnected = false
		f.mu.Unlock()
	}
}

func (f *WSFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return err
	}
	f.conn = conn

	// Zombie check: without any data or pong inside the window, the
	// connection is assumed dead and the read loop exits.
	readTimeout := pingPeriod + 10*time.Second
	f.conn.SetReadDeadline(time.Now().Add(readTimeout))

	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-f.ctx.Done():
				return
			case <-ticker.C:
				f.mu.Lock()
				if !f.isConnected || f.conn == nil {
					f.mu.Unlock()
					return
				}
				err := f.conn.WriteMessage(websocket.PingMessage, []byte{})
				f.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	return nil
}

type wsTick struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
	Price string `json:"price"`
	Ts    int64  `json:"ts"`
}

func (f *WSFeed) readLoop() {
	defer f.conn.Close()

	readTimeout := pingPeriod + 10*time.Second

	for {
		f.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := f.conn.ReadMessage()
		if err != nil {
			logger.Error("Oracle feed read error", "error", err)
			return
		}

		var ticks []wsTick
		if err := json.Unmarshal(message, &ticks); err != nil {
			var single wsTick
			if err2 := json.Unmarshal(message, &single); err2 == nil {
				ticks = []wsTick{single}
			} else {
				// control or keep-alive frame
				continue
			}
		}

		for _, t := range ticks {
			f.processTick(t)
		}
	}
}

func (f *WSFeed) processTick(t wsTick) {
	price, err := decimal.NewFromString(t.Price)
	if err != nil || !price.IsPositive() {
		return
	}
	pair := model.Pair{Base: model.Currency(t.Base), Quote: model.Currency(t.Quote)}
	if !pair.Valid() {
		return
	}
	ts := time.Now()
	if t.Ts > 0 {
		ts = time.Unix(t.Ts, 0).UTC()
	}

	f.mu.Lock()
	f.quotes[pair.String()] = Quote{Pair: pair, Price: price, Ts: ts, Provider: f.url}
	f.mu.Unlock()
}

func (f *WSFeed) sendSubscribe(pairs []model.Pair) error {
	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, p.String())
	}
	msg := map[string]interface{}{
		"type":  "subscribe",
		"pairs": ids,
	}
	return f.conn.WriteJSON(msg)
}
