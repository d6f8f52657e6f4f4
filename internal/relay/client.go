package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Garsondee/Tactical-Map/internal/fogsync"
)

const (
	minBackoff = 250 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// Client is a fogsync.Repository backed by a relay server.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
	dialer     *websocket.Dialer
	log        logrus.FieldLogger

	minBackoff, maxBackoff time.Duration
}

// NewClient targets the relay at baseURL (http or https). userID is sent with
// every request and recorded on written rows.
func NewClient(baseURL, userID string, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:        log.WithField("component", "relay-client"),
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

func (c *Client) fogPath(key fogsync.MapKey) string {
	return fmt.Sprintf("/api/v1/sessions/%s/maps/%s/fog", url.PathEscape(key.SessionID), url.PathEscape(key.MapID))
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		req.Header.Set(UserHeader, c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode reply (status %d): %w", method, path, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != CodeSuccess {
		return fmt.Errorf("%s %s: relay error %d: %s", method, path, env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *Client) LoadAll(ctx context.Context, key fogsync.MapKey) ([]fogsync.Row, error) {
	var rows []fogsync.Row
	if err := c.do(ctx, http.MethodGet, c.fogPath(key), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertBatch posts rows grouped by map; one request per map key.
func (c *Client) UpsertBatch(ctx context.Context, rows []fogsync.Row) error {
	groups := make(map[fogsync.MapKey][]fogsync.Row)
	var order []fogsync.MapKey
	for _, r := range rows {
		k := r.Key()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}
	for _, k := range order {
		if err := c.do(ctx, http.MethodPost, c.fogPath(k), UpsertRequest{Rows: groups[k]}, nil); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe opens the map's event stream. If the stream drops, the client
// redials with capped exponential backoff and replays the full map state as
// UPDATE events so that nothing written while disconnected is missed.
func (c *Client) Subscribe(ctx context.Context, key fogsync.MapKey, fn func(fogsync.Event)) (fogsync.Subscription, error) {
	if !key.Valid() {
		return nil, errors.New("relay: subscribe needs session and map")
	}
	u, err := url.Parse(c.baseURL + c.fogPath(key) + "/stream")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		client: c,
		key:    key,
		url:    u.String(),
		fn:     fn,
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    c.log.WithField("topic", key.Topic()),
	}

	conn, err := sub.dial()
	if err != nil {
		sub.log.WithError(err).Warn("fog stream unavailable, retrying in background")
		conn = nil
	}
	go sub.watch()
	go sub.run(conn)
	return sub, nil
}

type subscription struct {
	client *Client
	key    fogsync.MapKey
	url    string
	fn     func(fogsync.Event)
	log    logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscription) dial() (*websocket.Conn, error) {
	h := http.Header{}
	if s.client.userID != "" {
		h.Set(UserHeader, s.client.userID)
	}
	conn, resp, err := s.client.dialer.DialContext(s.ctx, s.url, h)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (s *subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// watch unblocks the reader when the subscription ends.
func (s *subscription) watch() {
	<-s.ctx.Done()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
}

func (s *subscription) run(conn *websocket.Conn) {
	defer close(s.done)
	backoff := s.client.minBackoff
	reconnect := false
	for {
		if s.ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if conn == nil {
			var err error
			conn, err = s.dial()
			if err != nil {
				s.log.WithError(err).WithField("retry_in", backoff.String()).Debug("fog stream dial failed")
				if !s.sleep(backoff) {
					return
				}
				backoff = nextBackoff(backoff, s.client.maxBackoff)
				continue
			}
			backoff = s.client.minBackoff
		}

		s.setConn(conn)
		if s.ctx.Err() != nil {
			_ = conn.Close()
			return
		}
		if reconnect {
			s.log.Info("fog stream reconnected, resyncing")
			s.resync()
		}
		s.readLoop(conn)
		_ = conn.Close()
		s.setConn(nil)
		conn = nil
		reconnect = true

		if !s.sleep(backoff) {
			return
		}
	}
}

func (s *subscription) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.WithError(err).Warn("fog stream dropped")
			}
			return
		}
		events, err := fogsync.DecodeBatch(data)
		if err != nil {
			s.log.WithError(err).Warn("discarding fog events")
		}
		for _, ev := range events {
			if ev.Row.Key() == s.key {
				s.fn(ev)
			}
		}
	}
}

func (s *subscription) resync() {
	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()
	rows, err := s.client.LoadAll(ctx, s.key)
	if err != nil {
		s.log.WithError(err).Warn("fog resync failed")
		return
	}
	for _, r := range rows {
		s.fn(fogsync.Event{Type: fogsync.EventUpdate, Row: r})
	}
}

func (s *subscription) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Close ends the stream and waits for the reader to stop.
func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}
