// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package onebot implements the bridge's QQ client on top of a OneBot v11
// forward WebSocket, as served by NapCat, LLOneBot and similar.
package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.mau.fi/util/exsync"

	"github.com/aiku/q2tg/pkg/qq"
)

const (
	// Time allowed to write a frame.
	writeWait = 10 * time.Second
	// Time allowed for an action response.
	actionTimeout = 30 * time.Second
	// Delay between reconnect attempts.
	reconnectDelay = 5 * time.Second
	// Maximum frame size accepted from the server.
	maxMessageSize = 16 * 1024 * 1024
	// Delay before an unrecognized self-sent message is delivered, so that
	// the send_msg response carrying its id can arrive first.
	selfEchoGrace = time.Second
	// How long the id of a marked message is remembered while waiting for
	// its echo.
	sentTTL = 10 * time.Minute
)

var ErrNotConnected = errors.New("not connected to OneBot server")

// ActionError is returned when the OneBot server rejects an action.
type ActionError struct {
	Action  string
	RetCode int64
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("onebot action %s failed with retcode %d: %s", e.Action, e.RetCode, e.Message)
}

// Client is a OneBot v11 forward WebSocket client.
type Client struct {
	url         string
	accessToken string
	log         zerolog.Logger
	dialer      *websocket.Dialer

	selfID  atomic.Int64
	events  chan qq.Event
	pending *exsync.Map[string, chan gjson.Result]
	// sent holds the message ids of messages sent with a marker, so that
	// their echoes can be recognized.
	sent *sentIDs

	// Parsed events wait here for the consumer, so that a slow consumer
	// never holds up action responses on the read loop.
	queueMu sync.Mutex
	queue   []qq.Event
	queued  chan struct{}

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewClient creates a client for the given ws:// or wss:// URL. Call Run to
// connect.
func NewClient(url, accessToken string, log zerolog.Logger) *Client {
	return &Client{
		url:         url,
		accessToken: accessToken,
		log:         log.With().Str("component", "onebot").Str("url", url).Logger(),
		dialer:      websocket.DefaultDialer,
		events:      make(chan qq.Event, 256),
		pending:     exsync.NewMap[string, chan gjson.Result](),
		sent:        newSentIDs(sentTTL),
		queued:      make(chan struct{}, 1),
	}
}

func (c *Client) SelfID() int64 { return c.selfID.Load() }

// Events returns the channel inbound events are delivered on. It is never
// closed.
func (c *Client) Events() <-chan qq.Event { return c.events }

// Run keeps a connection open until ctx is done, reconnecting after
// failures.
func (c *Client) Run(ctx context.Context) error {
	go c.pump(ctx)
	for {
		err := c.connectAndListen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("OneBot connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) connectAndListen(ctx context.Context) error {
	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		_ = conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	c.log.Info().Msg("Connected to OneBot server")
	go c.fetchSelf(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}
		c.handleFrame(data)
	}
}

func (c *Client) fetchSelf(ctx context.Context) {
	info, err := c.call(ctx, "get_login_info", nil)
	if err != nil {
		c.log.Err(err).Msg("Failed to get login info")
		return
	}
	c.selfID.Store(info.Get("user_id").Int())
	c.log.Info().
		Int64("self_id", c.SelfID()).
		Str("nickname", info.Get("nickname").String()).
		Msg("Logged in to QQ")
}

func (c *Client) handleFrame(data []byte) {
	if !gjson.ValidBytes(data) {
		c.log.Warn().Int("length", len(data)).Msg("Ignoring invalid JSON frame")
		return
	}
	frame := gjson.ParseBytes(data)
	if echo := frame.Get("echo"); echo.Exists() {
		if ch, ok := c.pending.Get(echo.String()); ok {
			c.pending.Delete(echo.String())
			ch <- frame
		}
		return
	}
	if self := frame.Get("self_id").Int(); self != 0 && c.SelfID() == 0 {
		c.selfID.Store(self)
	}
	if frame.Get("post_type").String() == "message_sent" && !c.sent.Has(frame.Get("message_id").Int()) {
		time.AfterFunc(selfEchoGrace, func() {
			c.enqueue(c.parseEvent(frame))
		})
		return
	}
	c.enqueue(c.parseEvent(frame))
}

func (c *Client) enqueue(evt qq.Event) {
	if evt == nil {
		return
	}
	c.queueMu.Lock()
	c.queue = append(c.queue, evt)
	c.queueMu.Unlock()
	select {
	case c.queued <- struct{}{}:
	default:
	}
}

func (c *Client) dequeue() qq.Event {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	evt := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return evt
}

// pump moves queued events to the events channel until ctx is done.
func (c *Client) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.queued:
		}
		for evt := c.dequeue(); evt != nil; evt = c.dequeue() {
			select {
			case c.events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sentIDs is a set of message ids whose entries expire after a TTL.
type sentIDs struct {
	ttl       time.Duration
	now       func() time.Time
	ids       *exsync.Map[int64, time.Time]
	lastSweep atomic.Int64
}

func newSentIDs(ttl time.Duration) *sentIDs {
	return &sentIDs{
		ttl: ttl,
		now: time.Now,
		ids: exsync.NewMap[int64, time.Time](),
	}
}

// Add remembers id for one TTL. Expired ids are swept at most once per TTL.
func (s *sentIDs) Add(id int64) {
	now := s.now()
	last := s.lastSweep.Load()
	if now.UnixNano()-last > int64(s.ttl) && s.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		for key, expiry := range s.ids.CopyData() {
			if now.After(expiry) {
				s.ids.Delete(key)
			}
		}
	}
	s.ids.Set(id, now.Add(s.ttl))
}

// Pop reports whether id is remembered and forgets it.
func (s *sentIDs) Pop(id int64) bool {
	expiry, ok := s.ids.Pop(id)
	return ok && s.now().Before(expiry)
}

func (s *sentIDs) Has(id int64) bool {
	expiry, ok := s.ids.Get(id)
	return ok && s.now().Before(expiry)
}

type actionRequest struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

// call runs an action and returns its data field.
func (c *Client) call(ctx context.Context, action string, params any) (gjson.Result, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return gjson.Result{}, ErrNotConnected
	}
	payload, err := json.Marshal(actionRequest{Action: action, Params: params, Echo: uuid.NewString()})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to marshal %s request: %w", action, err)
	}
	echo := gjson.GetBytes(payload, "echo").String()
	ch := make(chan gjson.Result, 1)
	c.pending.Set(echo, ch)
	defer c.pending.Delete(echo)

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to send %s request: %w", action, err)
	}

	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return gjson.Result{}, fmt.Errorf("%s: %w", action, ctx.Err())
	case resp := <-ch:
		if resp.Get("status").String() == "failed" || resp.Get("retcode").Int() != 0 {
			msg := resp.Get("wording").String()
			if msg == "" {
				msg = resp.Get("message").String()
			}
			return gjson.Result{}, &ActionError{Action: action, RetCode: resp.Get("retcode").Int(), Message: msg}
		}
		return resp.Get("data"), nil
	}
}
