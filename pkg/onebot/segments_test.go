// Copyright 2024-2026 Aiku AI

package onebot

import (
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/aiku/q2tg/pkg/qq"
)

func TestParseSegment(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want qq.Element
	}{
		{"text", `{"type":"text","data":{"text":"hi"}}`, qq.Text{Text: "hi"}},
		{"empty text", `{"type":"text","data":{"text":""}}`, nil},
		{"at", `{"type":"at","data":{"qq":"123","name":"@bob"}}`, qq.Mention{UserID: 123, Name: "bob"}},
		{"at all", `{"type":"at","data":{"qq":"all"}}`, qq.Mention{Name: "all"}},
		{"face", `{"type":"face","data":{"id":"14","raw":{"faceText":"/smile"}}}`, qq.Face{ID: 14, Name: "smile"}},
		{"image", `{"type":"image","data":{"file":"a.jpg","url":"https://x/a.jpg","file_size":"10"}}`,
			qq.Image{URL: "https://x/a.jpg", Name: "a.jpg", Size: 10}},
		{"flash", `{"type":"image","data":{"file":"b.jpg","url":"https://x/b","type":"flash"}}`,
			qq.Image{URL: "https://x/b", Name: "b.jpg", Flash: true}},
		{"image sticker", `{"type":"image","data":{"url":"https://x/s","sub_type":1,"summary":"[lol]"}}`,
			qq.Sticker{URL: "https://x/s", Name: "[lol]"}},
		{"mface", `{"type":"mface","data":{"url":"https://x/m","summary":"[hi]"}}`, qq.Sticker{URL: "https://x/m", Name: "[hi]"}},
		{"record", `{"type":"record","data":{"file":"v.amr","url":"https://x/v"}}`, qq.Voice{URL: "https://x/v"}},
		{"file", `{"type":"file","data":{"file":"doc.pdf","url":"https://x/f","file_size":"2048"}}`,
			qq.File{URL: "https://x/f", Name: "doc.pdf", Size: 2048}},
		{"forward", `{"type":"forward","data":{"id":"res1"}}`, qq.ForwardBundle{ResID: "res1"}},
		{"location", `{"type":"location","data":{"lat":"1.5","lon":"2.5","title":"Home","content":"Street"}}`,
			qq.Location{Latitude: 1.5, Longitude: 2.5, Title: "Home", Address: "Street"}},
		{"dice", `{"type":"dice","data":{"result":"4"}}`, qq.SystemNotice{Kind: qq.NoticeDice, Value: 4}},
		{"contact", `{"type":"contact","data":{"type":"group","id":"55"}}`, qq.Contact{Group: true, ID: 55}},
		{"unknown", `{"type":"markdown","data":{}}`, qq.Unsupported{Kind: "markdown"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := parseSegment(gjson.Parse(tt.raw))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseSegment() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseJSONCard(t *testing.T) {
	t.Parallel()
	raw := `{"prompt":"[Share]","meta":{"news":{"title":"Article","jumpUrl":"https://example.com/a"}}}`
	card := parseJSONCard(raw)
	if card.Title != "Article" || card.URL != "https://example.com/a" || card.Format != "json" {
		t.Errorf("parseJSONCard() = %+v", card)
	}
	if bad := parseJSONCard("not json"); bad.Title != "" || bad.Data != "not json" {
		t.Errorf("parseJSONCard(invalid) = %+v", bad)
	}
}

func TestParseChainReply(t *testing.T) {
	t.Parallel()
	raw := `[{"type":"reply","data":{"id":"99"}},{"type":"at","data":{"qq":"5"}},{"type":"text","data":{"text":" ok"}}]`
	elements, reply := parseChain(gjson.Parse(raw))
	if reply == nil || reply.Seq != 99 {
		t.Fatalf("reply = %+v, want seq 99", reply)
	}
	if len(elements) != 2 {
		t.Errorf("elements = %+v, want 2 elements", elements)
	}

	elements, reply = parseChain(gjson.Parse(`"plain"`))
	if reply != nil || len(elements) != 1 || elements[0] != (qq.Text{Text: "plain"}) {
		t.Errorf("string message parsed as %+v, %+v", elements, reply)
	}
}

func TestEncodeChain(t *testing.T) {
	t.Parallel()
	segments, marked := encodeChain([]qq.Element{
		qq.Mention{UserID: 5},
		qq.Text{Text: "hi"},
		qq.Mention{},
		qq.Image{URL: "https://x/a", Flash: true},
		qq.Poll{Question: "Lunch?", Options: []string{"Rice", "Noodles"}},
		qq.SystemNotice{Kind: qq.NoticeSenderTag, Text: "tag"},
		qq.Marker{Data: "q2tg"},
	}, &qq.ReplyRef{Seq: 3})
	if !marked {
		t.Error("marker not reported")
	}
	want := []Segment{
		{Type: "reply", Data: map[string]any{"id": "3"}},
		{Type: "at", Data: map[string]any{"qq": "5"}},
		{Type: "text", Data: map[string]any{"text": "hi"}},
		{Type: "at", Data: map[string]any{"qq": "all"}},
		{Type: "image", Data: map[string]any{"file": "https://x/a", "type": "flash"}},
		{Type: "text", Data: map[string]any{"text": "[Poll] Lunch?\n1. Rice\n2. Noodles"}},
	}
	if !reflect.DeepEqual(segments, want) {
		t.Errorf("encodeChain() = %#v, want %#v", segments, want)
	}
}

func TestParseEvent(t *testing.T) {
	t.Parallel()
	c := NewClient("ws://unused", "", zerolog.Nop())
	c.selfID.Store(10001)

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, evt qq.Event)
	}{
		{
			name: "group message",
			raw: `{"post_type":"message","message_type":"group","group_id":777,"user_id":5,"message_id":100,"time":1700000000,` +
				`"sender":{"nickname":"Bob","card":"Bobby","title":"Elder"},"message":[{"type":"text","data":{"text":"hi"}}]}`,
			check: func(t *testing.T, evt qq.Event) {
				msg := evt.(*qq.Message)
				if msg.Room != qq.GroupRoom(777) || msg.Seq != 100 || msg.Rand != 0 || msg.SenderName != "Bobby" {
					t.Errorf("message = %+v", msg)
				}
				last := msg.Elements[len(msg.Elements)-1]
				if last != (qq.SystemNotice{Kind: qq.NoticeSenderTag, Text: "Elder"}) {
					t.Errorf("sender tag = %+v", last)
				}
			},
		},
		{
			name: "own private message",
			raw: `{"post_type":"message_sent","message_type":"private","user_id":10001,"target_id":8,"message_id":1,` +
				`"message":[{"type":"text","data":{"text":"x"}}]}`,
			check: func(t *testing.T, evt qq.Event) {
				if evt.RoomID() != qq.PrivateRoom(8) {
					t.Errorf("room = %v, want private:8", evt.RoomID())
				}
			},
		},
		{
			name: "group recall",
			raw:  `{"post_type":"notice","notice_type":"group_recall","group_id":777,"user_id":5,"operator_id":6,"message_id":100}`,
			check: func(t *testing.T, evt qq.Event) {
				recall := evt.(*qq.RecallEvent)
				if recall.Seq != 100 || recall.SenderID != 5 || recall.OperatorID != 6 {
					t.Errorf("recall = %+v", recall)
				}
			},
		},
		{
			name: "kicked",
			raw:  `{"post_type":"notice","notice_type":"group_decrease","sub_type":"kick_me","group_id":777,"user_id":10001}`,
			check: func(t *testing.T, evt qq.Event) {
				if left := evt.(*qq.RoomLeftEvent); left.Reason != qq.LeaveKicked {
					t.Errorf("reason = %v", left.Reason)
				}
			},
		},
		{
			name: "poke",
			raw: `{"post_type":"notice","notice_type":"notify","sub_type":"poke","group_id":777,"user_id":5,"target_id":6,` +
				`"raw_info":[{"type":"qq","uid":"a"},{"type":"nor","txt":"patted"},{"type":"qq","uid":"b"},{"type":"nor","txt":"'s head"}]}`,
			check: func(t *testing.T, evt qq.Event) {
				poke := evt.(*qq.PokeEvent)
				if poke.Action != "patted" || poke.Suffix != "'s head" || poke.TargetID != 6 {
					t.Errorf("poke = %+v", poke)
				}
			},
		},
		{
			name: "essence",
			raw:  `{"post_type":"notice","notice_type":"essence","sub_type":"add","group_id":777,"sender_id":5,"operator_id":6,"message_id":100}`,
			check: func(t *testing.T, evt qq.Event) {
				if e := evt.(*qq.EssenceEvent); !e.Added || e.Seq != 100 {
					t.Errorf("essence = %+v", e)
				}
			},
		},
		{
			name: "heartbeat",
			raw:  `{"post_type":"meta_event","meta_event_type":"heartbeat"}`,
			check: func(t *testing.T, evt qq.Event) {
				if evt != nil {
					t.Errorf("event = %+v, want nil", evt)
				}
			},
		},
		{
			name: "unknown message type",
			raw:  `{"post_type":"message","message_type":"guild","user_id":5,"message_id":1}`,
			check: func(t *testing.T, evt qq.Event) {
				if evt != nil {
					t.Errorf("event = %+v, want nil", evt)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, c.parseEvent(gjson.Parse(tt.raw)))
		})
	}
}
