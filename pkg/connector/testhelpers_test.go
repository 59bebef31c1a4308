// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/aiku/q2tg/pkg/database"
	"github.com/aiku/q2tg/pkg/qq"
)

const (
	testBotID   = 900
	testGroup   = 777
	testTGGroup = -1001234567890
)

// qqSendCall records one SendMessage call.
type qqSendCall struct {
	Room     qq.RoomID
	Elements []qq.Element
	Reply    *qq.ReplyRef
	Seq      int64
}

type recallCall struct {
	Room qq.RoomID
	Seq  int64
	Rand int64
	At   time.Time
}

// fakeQQ is an in-memory QQClient. Sent messages get increasing seqs
// starting at 5000.
type fakeQQ struct {
	self int64

	mu      sync.Mutex
	nextSeq int64
	sent    []qqSendCall
	recalls []recallCall
	groups  []int64
	names   map[int64]string
	history []*qq.Message
	forward []ForwardNode
	sendErr error
	events  chan qq.Event
}

func newFakeQQ(self int64) *fakeQQ {
	return &fakeQQ{
		self:    self,
		nextSeq: 5000,
		names:   make(map[int64]string),
		events:  make(chan qq.Event, 16),
	}
}

func (f *fakeQQ) SelfID() int64 { return f.self }

func (f *fakeQQ) SendMessage(_ context.Context, room qq.RoomID, elements []qq.Element, reply *qq.ReplyRef) (qq.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return qq.MessageRef{}, f.sendErr
	}
	f.nextSeq++
	f.sent = append(f.sent, qqSendCall{Room: room, Elements: elements, Reply: reply, Seq: f.nextSeq})
	return qq.MessageRef{Seq: f.nextSeq, Rand: 1, Time: time.Unix(1_700_000_000, 0)}, nil
}

func (f *fakeQQ) Recall(_ context.Context, room qq.RoomID, seq, rand int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recalls = append(f.recalls, recallCall{Room: room, Seq: seq, Rand: rand, At: time.Now()})
	return nil
}

func (f *fakeQQ) GetMemberName(_ context.Context, _ qq.RoomID, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.names[userID]; ok {
		return name, nil
	}
	return "", errors.New("unknown member")
}

func (f *fakeQQ) GetForwardMessage(context.Context, string) ([]ForwardNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forward, nil
}

func (f *fakeQQ) GetHistory(_ context.Context, room qq.RoomID, count int) ([]*qq.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*qq.Message
	for _, msg := range f.history {
		if msg.Room == room {
			out = append(out, msg)
		}
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

func (f *fakeQQ) ListGroups(context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.groups), nil
}

func (f *fakeQQ) Events() <-chan qq.Event { return f.events }

func (f *fakeQQ) Sent() []qqSendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func (f *fakeQQ) Recalls() []recallCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.recalls)
}

// tgSendCall records one Send call.
type tgSendCall struct {
	ChatID int64
	Msg    *OutboundMessage
	IDs    []int
}

type tgDeleteCall struct {
	ChatID int64
	IDs    []int
}

// fakeTG is an in-memory TelegramClient. Message ids start at 100.
type fakeTG struct {
	mu        sync.Mutex
	nextID    int
	sent      []tgSendCall
	deleted   []tgDeleteCall
	pinned    []int
	roles     map[int64]MemberRole
	rejectURL bool
	deleteErr error
}

func newFakeTG() *fakeTG {
	return &fakeTG{nextID: 100, roles: make(map[int64]MemberRole)}
}

func (f *fakeTG) BotID() int64 { return testBotID }

func (f *fakeTG) Send(_ context.Context, chatID int64, msg *OutboundMessage) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectURL && slices.ContainsFunc(msg.Media, func(m Media) bool { return m.Data == nil }) {
		return nil, errors.New("Bad Request: wrong file identifier/HTTP URL specified")
	}
	n := max(len(msg.Media), 1)
	if msg.Location != nil {
		n = 1
	}
	ids := make([]int, n)
	for i := range ids {
		f.nextID++
		ids[i] = f.nextID
	}
	f.sent = append(f.sent, tgSendCall{ChatID: chatID, Msg: msg, IDs: ids})
	return ids, nil
}

func (f *fakeTG) Delete(_ context.Context, chatID int64, msgIDs ...int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, tgDeleteCall{ChatID: chatID, IDs: slices.Clone(msgIDs)})
	return nil
}

func (f *fakeTG) Pin(_ context.Context, _ int64, msgID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = append(f.pinned, msgID)
	return nil
}

func (f *fakeTG) GetMemberRole(_ context.Context, _ int64, userID int64) (MemberRole, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if role, ok := f.roles[userID]; ok {
		return role, nil
	}
	return RoleMember, nil
}

func (f *fakeTG) FileURL(_ context.Context, fileID string) (string, error) {
	return "https://files.example/" + fileID, nil
}

func (f *fakeTG) Sent() []tgSendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func (f *fakeTG) Deleted() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int
	for _, call := range f.deleted {
		ids = append(ids, call.IDs...)
	}
	return ids
}

func (f *fakeTG) Pinned() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.pinned)
}

// fakeMedia serves every URL as a small GIF.
type fakeMedia struct{}

func (fakeMedia) Fetch(context.Context, string) ([]byte, string, error) {
	return []byte("GIF89a"), "image/gif", nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		DisplaynameTemplate:   "{{.Name}}",
		TGDisplaynameTemplate: "{{.FirstName}}",
		RecallInterval:        20 * time.Millisecond,
		RecallRetryAttempts:   2,
		RecallRetryDelay:      10 * time.Millisecond,
		NoticeTTL:             time.Millisecond,
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

// newTestBridge creates a bridge backed by a fresh SQLite file and a fake
// Telegram client.
func newTestBridge(t *testing.T) (*Bridge, *fakeTG) {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, filepath.Join(t.TempDir(), "q2tg.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	tg := newFakeTG()
	b := NewBridge(testConfig(t), db, tg, zerolog.Nop())
	t.Cleanup(func() {
		b.Recalls.Stop()
		b.Wait()
		_ = db.Close()
	})
	return b, tg
}

// addTestInstance adds an instance and marks it as set up so that the
// given owner and mode are kept.
func addTestInstance(t *testing.T, b *Bridge, id, owner, uin int64, mode Mode) (*Instance, *fakeQQ) {
	t.Helper()
	client := newFakeQQ(uin)
	inst, err := b.AddInstance(context.Background(), InstanceConfig{ID: id, Owner: owner, Mode: string(mode)}, client)
	if err != nil {
		t.Fatalf("AddInstance: %v", err)
	}
	inst.syncSelf(context.Background())
	return inst, client
}

func linkTestPair(t *testing.T, b *Bridge, inst *Instance, room qq.RoomID, chatID int64, flags Flags) *Pair {
	t.Helper()
	p, err := b.LinkPair(context.Background(), inst, room, chatID, flags)
	if err != nil {
		t.Fatalf("LinkPair: %v", err)
	}
	return p
}

func tgUser(id int64, name string) *telego.User {
	return &telego.User{ID: id, FirstName: name}
}

func tgMessage(chatID int64, msgID int, from *telego.User, text string) *telego.Message {
	chatType := telego.ChatTypeSupergroup
	if chatID > 0 {
		chatType = telego.ChatTypePrivate
	}
	return &telego.Message{
		MessageID: msgID,
		From:      from,
		Chat:      telego.Chat{ID: chatID, Type: chatType},
		Date:      1_700_000_000,
		Text:      text,
	}
}

func qqGroupMessage(senderID int64, name string, seq, rand int64, elements ...qq.Element) *qq.Message {
	return &qq.Message{
		Room:       qq.GroupRoom(testGroup),
		SenderID:   senderID,
		SenderName: name,
		Seq:        seq,
		Rand:       rand,
		PktNum:     1,
		Time:       time.Unix(1_700_000_000, 0),
		Elements:   elements,
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
