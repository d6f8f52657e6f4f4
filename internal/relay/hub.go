package relay

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/fogsync"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// Hub fans committed fog rows out to the websocket peers of each map topic.
type Hub struct {
	mu     deadlock.RWMutex
	topics map[fogsync.MapKey]map[*peer]struct{}
	log    logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		topics: make(map[fogsync.MapKey]map[*peer]struct{}),
		log:    log.WithField("component", "hub"),
	}
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[p.key]
	if !ok {
		set = make(map[*peer]struct{})
		h.topics[p.key] = set
	}
	set[p] = struct{}{}
	h.log.WithFields(logrus.Fields{"topic": p.key.Topic(), "peers": len(set)}).Info("peer joined")
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[p.key]
	if !ok {
		return
	}
	if _, ok := set[p]; !ok {
		return
	}
	delete(set, p)
	close(p.send)
	if len(set) == 0 {
		delete(h.topics, p.key)
	}
	h.log.WithFields(logrus.Fields{"topic": p.key.Topic(), "peers": len(set)}).Info("peer left")
}

// Publish sends the events of each map to that map's peers as one frame. A
// peer whose buffer is full is disconnected; it reloads state when it
// reconnects.
func (h *Hub) Publish(events []fogsync.Event) {
	var order []fogsync.MapKey
	byKey := make(map[fogsync.MapKey][]fogsync.Event)
	for _, ev := range events {
		k := ev.Row.Key()
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], ev)
	}

	var slow []*peer
	h.mu.RLock()
	for _, k := range order {
		set := h.topics[k]
		if len(set) == 0 {
			continue
		}
		data, err := fogsync.EncodeBatch(byKey[k])
		if err != nil {
			h.log.WithError(err).Warn("encode fog batch")
			continue
		}
		for p := range set {
			select {
			case p.send <- data:
			default:
				slow = append(slow, p)
			}
		}
	}
	h.mu.RUnlock()

	for _, p := range slow {
		h.log.WithField("topic", p.key.Topic()).Warn("peer too slow, disconnecting")
		h.unregister(p)
	}
}

// PeerCount returns the number of connected peers on key.
func (h *Hub) PeerCount(key fogsync.MapKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[key])
}

// peer is one websocket subscriber on one map topic. The relay only pushes;
// anything the peer sends is read and discarded to service pings and closes.
type peer struct {
	hub  *Hub
	key  fogsync.MapKey
	conn *websocket.Conn
	send chan []byte
}

func (p *peer) readPump() {
	defer func() {
		p.hub.unregister(p)
		if err := p.conn.Close(); err != nil {
			p.hub.log.WithError(err).Debug("close websocket")
		}
	}()

	p.conn.SetReadLimit(maxMessageSize)
	if err := p.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		p.hub.log.WithError(err).Warn("set read deadline")
	}
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.hub.log.WithError(err).Warn("websocket read")
			}
			return
		}
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := p.conn.Close(); err != nil {
			p.hub.log.WithError(err).Debug("close websocket in writePump")
		}
	}()

	for {
		select {
		case msg, ok := <-p.send:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				p.hub.log.WithError(err).Warn("set write deadline")
			}
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.hub.log.WithError(err).Debug("write fog frame")
				return
			}
		case <-ticker.C:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				p.hub.log.WithError(err).Warn("set ping write deadline")
			}
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.hub.log.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}
