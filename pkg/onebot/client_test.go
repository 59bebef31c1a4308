// Copyright 2024-2026 Aiku AI

package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/aiku/q2tg/pkg/qq"
)

// fakeServer is a minimal OneBot forward WebSocket server. Each action is
// answered by the handler registered for it; after answering, the frames
// returned in push are written too.
type fakeServer struct {
	t       *testing.T
	token   string
	actions map[string]func(params gjson.Result) (data any, push []string)
	srv     *httptest.Server
}

func newFakeServer(t *testing.T, token string) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:     t,
		token: token,
		actions: map[string]func(gjson.Result) (any, []string){
			"get_login_info": func(gjson.Result) (any, []string) {
				return map[string]any{"user_id": 10001, "nickname": "bridge"}, nil
			},
		},
	}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+fs.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req := gjson.ParseBytes(data)
			resp := map[string]any{"echo": req.Get("echo").String(), "status": "ok", "retcode": 0}
			var push []string
			if handler, ok := fs.actions[req.Get("action").String()]; ok {
				resp["data"], push = handler(req.Get("params"))
			} else {
				resp["status"], resp["retcode"], resp["wording"] = "failed", 1404, "unknown action"
			}
			payload, _ := json.Marshal(resp)
			if conn.WriteMessage(websocket.TextMessage, payload) != nil {
				return
			}
			for _, frame := range push {
				if conn.WriteMessage(websocket.TextMessage, []byte(frame)) != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func startClient(t *testing.T, fs *fakeServer) *Client {
	t.Helper()
	c := NewClient(fs.url(), fs.token, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(5 * time.Second)
	for c.SelfID() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client did not connect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return c
}

func TestClientSelfID(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, "secret")
	c := startClient(t, fs)
	if c.SelfID() != 10001 {
		t.Errorf("SelfID() = %d, want 10001", c.SelfID())
	}
}

func TestClientSendMarksEcho(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, "secret")
	paramsCh := make(chan gjson.Result, 1)
	fs.actions["send_msg"] = func(params gjson.Result) (any, []string) {
		paramsCh <- params
		echo := `{"post_type":"message_sent","message_type":"group","group_id":777,"user_id":10001,` +
			`"message_id":42,"time":1700000000,"sender":{"nickname":"bridge"},` +
			`"message":[{"type":"text","data":{"text":"hello"}}]}`
		return map[string]any{"message_id": 42}, []string{echo}
	}
	c := startClient(t, fs)

	ref, err := c.SendMessage(context.Background(), qq.GroupRoom(777),
		[]qq.Element{qq.Text{Text: "hello"}, qq.Marker{Data: "q2tg"}}, &qq.ReplyRef{Seq: 7})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if ref.Seq != 42 || ref.Rand != 0 {
		t.Errorf("SendMessage() ref = %+v, want seq 42 rand 0", ref)
	}
	gotParams := <-paramsCh
	if gotParams.Get("group_id").Int() != 777 || gotParams.Get("message_type").String() != "group" {
		t.Errorf("send_msg params = %s", gotParams.Raw)
	}
	segs := gotParams.Get("message").Array()
	if len(segs) != 2 || segs[0].Get("type").String() != "reply" || segs[0].Get("data.id").String() != "7" {
		t.Errorf("send_msg segments = %s", gotParams.Get("message").Raw)
	}

	select {
	case evt := <-c.Events():
		msg, ok := evt.(*qq.Message)
		if !ok {
			t.Fatalf("event = %T, want *qq.Message", evt)
		}
		if !qq.HasMarker(msg.Elements) {
			t.Errorf("echo of sent message has no marker: %+v", msg.Elements)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("echo event not delivered")
	}
}

func TestClientActionError(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, "secret")
	c := startClient(t, fs)
	err := c.Recall(context.Background(), qq.GroupRoom(1), 5, 0)
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("Recall() error = %v, want ActionError", err)
	}
	if actionErr.RetCode != 1404 {
		t.Errorf("RetCode = %d, want 1404", actionErr.RetCode)
	}
}

func TestClientListGroups(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, "secret")
	fs.actions["get_group_list"] = func(gjson.Result) (any, []string) {
		return []map[string]any{{"group_id": 1}, {"group_id": 2}}, nil
	}
	c := startClient(t, fs)
	groups, err := c.ListGroups(context.Background())
	if err != nil {
		t.Fatalf("ListGroups() error = %v", err)
	}
	if len(groups) != 2 || groups[0] != 1 || groups[1] != 2 {
		t.Errorf("ListGroups() = %v, want [1 2]", groups)
	}
}

func TestClientNotConnected(t *testing.T) {
	t.Parallel()
	c := NewClient("ws://127.0.0.1:1", "", zerolog.Nop())
	_, err := c.SendMessage(context.Background(), qq.GroupRoom(1), []qq.Element{qq.Text{Text: "x"}}, nil)
	if err == nil || !strings.Contains(err.Error(), ErrNotConnected.Error()) {
		t.Errorf("SendMessage() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestSendMessageEmpty(t *testing.T) {
	t.Parallel()
	c := NewClient("ws://127.0.0.1:1", "", zerolog.Nop())
	_, err := c.SendMessage(context.Background(), qq.GroupRoom(1), []qq.Element{qq.Marker{Data: "q2tg"}}, nil)
	if !errors.Is(err, errEmptyMessage) {
		t.Errorf("SendMessage() error = %v, want %v", err, errEmptyMessage)
	}
}

func TestClientResponsesWhileEventsBacklogged(t *testing.T) {
	t.Parallel()
	const flood = 400
	fs := newFakeServer(t, "secret")
	fs.actions["get_group_list"] = func(gjson.Result) (any, []string) {
		push := make([]string, flood)
		for i := range push {
			push[i] = fmt.Sprintf(`{"post_type":"message","message_type":"group","group_id":777,"user_id":20002,`+
				`"message_id":%d,"time":1700000000,"sender":{"nickname":"alice"},`+
				`"message":[{"type":"text","data":{"text":"hi"}}]}`, i+1)
		}
		return []map[string]any{{"group_id": 777}}, push
	}
	c := startClient(t, fs)
	if _, err := c.ListGroups(context.Background()); err != nil {
		t.Fatalf("first ListGroups() error = %v", err)
	}

	// Nobody reads Events while the backlog exceeds its buffer.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.ListGroups(ctx); err != nil {
		t.Fatalf("ListGroups() with a full event buffer error = %v", err)
	}

	var seqs []int64
	timeout := time.After(5 * time.Second)
	for len(seqs) < 2*flood {
		select {
		case evt := <-c.Events():
			seqs = append(seqs, evt.(*qq.Message).Seq)
		case <-timeout:
			t.Fatalf("got %d events, want %d", len(seqs), 2*flood)
		}
	}
	for i, seq := range seqs {
		if want := int64(i%flood + 1); seq != want {
			t.Fatalf("event %d has seq %d, want %d", i, seq, want)
		}
	}
}

func TestSentIDsExpire(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	s := newSentIDs(time.Minute)
	s.now = func() time.Time { return now }

	s.Add(1)
	s.Add(2)
	if !s.Pop(1) {
		t.Error("Pop(1) = false, want true")
	}
	if s.Pop(1) {
		t.Error("Pop(1) twice = true, want false")
	}

	now = now.Add(2 * time.Minute)
	if s.Has(2) {
		t.Error("Has(2) after the TTL = true, want false")
	}
	s.Add(3)
	if got := s.ids.CopyData(); len(got) != 1 {
		t.Errorf("ids after sweep = %v, want only 3", got)
	}
	if !s.Has(3) {
		t.Error("Has(3) = false, want true")
	}
}
