package apiserver

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spoutfi/rwa/backend/internal/store"
)

// Websocket channels:
//
//	orders              recent orders, any user
//	orders.<pubkey>     recent orders for one user
//	price               the on-chain price feed record
//	price.ticks.<feed>  freshest journaled Hermes tick for a feed id
type websocketSubscribeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type websocketEnvelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	TS      int64  `json:"ts"`
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	upgrader := websocketUpgrader
	upgrader.CheckOrigin = func(req *http.Request) bool {
		origin := strings.TrimSpace(req.Header.Get("Origin"))
		return s.isOriginAllowed(origin)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := newSubscriptionSet()
	readErrCh := make(chan error, 1)
	go s.websocketReadLoop(ctx, conn, subs, readErrCh)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrCh:
			if err != nil {
				s.logger.Debug("websocket read loop ended", "err", err)
			}
			return
		case <-ticker.C:
			channels := subs.List()
			for _, channel := range channels {
				payload, err := s.getWebsocketPayload(ctx, channel)
				if err != nil {
					_ = writeWebsocketJSON(conn, websocketEnvelope{Type: "error", Channel: channel, Error: "failed to fetch channel data", TS: time.Now().Unix()})
					continue
				}
				if payload == nil {
					continue
				}
				if err := writeWebsocketJSON(conn, websocketEnvelope{Type: "event", Channel: channel, Data: payload, TS: time.Now().Unix()}); err != nil {
					return
				}
			}
		}
	}
}

func (s *Service) websocketReadLoop(ctx context.Context, conn *websocket.Conn, subs *subscriptionSet, readErrCh chan<- error) {
	conn.SetReadLimit(1024 * 1024)
	if err := conn.SetReadDeadline(time.Now().Add(90 * time.Second)); err == nil {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		})
	}
	for {
		select {
		case <-ctx.Done():
			readErrCh <- nil
			return
		default:
		}
		var message websocketSubscribeRequest
		if err := conn.ReadJSON(&message); err != nil {
			readErrCh <- err
			return
		}
		message.Type = strings.ToLower(strings.TrimSpace(message.Type))
		message.Channel = strings.TrimSpace(message.Channel)
		if message.Channel == "" {
			continue
		}
		switch message.Type {
		case "subscribe":
			subs.Add(message.Channel)
		case "unsubscribe":
			subs.Remove(message.Channel)
		}
	}
}

func (s *Service) getWebsocketPayload(ctx context.Context, channel string) (any, error) {
	switch {
	case channel == "orders":
		return s.store.ListOrders(ctx, store.OrderFilter{Limit: 20})
	case strings.HasPrefix(channel, "orders."):
		user := strings.TrimSpace(strings.TrimPrefix(channel, "orders."))
		if user == "" {
			return nil, nil
		}
		return s.store.ListOrders(ctx, store.OrderFilter{User: user, Limit: 20})
	case channel == "price":
		feed, err := s.fetchPriceFeed(ctx)
		if err != nil {
			return nil, err
		}
		if feed == nil {
			return nil, nil
		}
		return priceFeedView{
			Price:      feed.Price,
			Confidence: feed.Confidence,
			Expo:       feed.Expo,
			Timestamp:  feed.Timestamp,
		}, nil
	case strings.HasPrefix(channel, "price.ticks."):
		feedID := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(channel, "price.ticks.")))
		if feedID == "" {
			return nil, nil
		}
		tick, err := s.store.LatestPriceTick(ctx, feedID)
		if err != nil {
			return nil, err
		}
		if tick == nil {
			return nil, nil
		}
		return tick, nil
	default:
		return nil, nil
	}
}

func writeWebsocketJSON(conn *websocket.Conn, payload websocketEnvelope) error {
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}

type subscriptionSet struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{items: map[string]struct{}{}}
}

func (s *subscriptionSet) Add(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[channel] = struct{}{}
}

func (s *subscriptionSet) Remove(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, channel)
}

func (s *subscriptionSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.items))
	for channel := range s.items {
		out = append(out, channel)
	}
	return out
}
