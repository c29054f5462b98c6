package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/GuoMonth/trading-view/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// ErrHubClosed is returned by Serve after the hub stopped running
var ErrHubClosed = errors.New("stream hub closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// subscriber is one websocket connection following a symbol
type subscriber struct {
	conn   *websocket.Conn
	symbol string
	send   chan []byte
}

// Hub fans imported bars out to websocket subscribers of their symbol
type Hub struct {
	subscribers map[*subscriber]bool
	register    chan *subscriber
	unregister  chan *subscriber
	broadcast   chan model.PriceBar
	done        chan struct{}
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewHub creates a hub whose broadcast queue holds bufferSize bars
func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan model.PriceBar, bufferSize),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run processes registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for s := range h.subscribers {
				close(s.send)
				delete(h.subscribers, s)
			}
			h.mu.Unlock()
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = true
			h.mu.Unlock()
			h.logger.Debug("Stream subscriber connected",
				zap.String("symbol", s.symbol),
				zap.Int("subscribers", h.SubscriberCount()))

		case s := <-h.unregister:
			h.remove(s)

		case bar := <-h.broadcast:
			payload, err := json.Marshal(bar)
			if err != nil {
				h.logger.Error("Failed to encode bar for stream", zap.Error(err))
				continue
			}

			h.mu.RLock()
			var slow []*subscriber
			for s := range h.subscribers {
				if s.symbol != bar.Symbol {
					continue
				}
				select {
				case s.send <- payload:
				default:
					slow = append(slow, s)
				}
			}
			h.mu.RUnlock()

			for _, s := range slow {
				h.logger.Warn("Dropping slow stream subscriber", zap.String("symbol", s.symbol))
				h.remove(s)
			}
		}
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
		close(s.send)
	}
}

// Broadcast queues bars for delivery without blocking. Bars that do not fit are dropped.
func (h *Hub) Broadcast(bars []model.PriceBar) {
	for _, bar := range bars {
		select {
		case h.broadcast <- bar:
		default:
			h.logger.Warn("Stream queue full, dropping bar",
				zap.String("symbol", bar.Symbol),
				zap.String("timestamp", bar.Timestamp))
		}
	}
}

// SubscriberCount returns the number of connected subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Serve upgrades the request and streams bars of symbol to it until the peer disconnects
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, symbol string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	s := &subscriber{
		conn:   conn,
		symbol: symbol,
		send:   make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return ErrHubClosed
	}

	go h.writePump(s)
	go h.readPump(s)
	return nil
}

// readPump discards client frames and unregisters on disconnect
func (h *Hub) readPump(s *subscriber) {
	defer func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("Stream read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
