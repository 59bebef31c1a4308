// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tgfmt

import (
	"testing"

	"github.com/mymmrac/telego"

	"github.com/aiku/q2tg/pkg/qq"
)

func TestParseEmpty(t *testing.T) {
	t.Parallel()
	if got := Parse("", nil, nil); got != nil {
		t.Errorf("empty text: got %v, want nil", got)
	}
}

func TestParsePlainText(t *testing.T) {
	t.Parallel()
	got := Parse("hello world", nil, nil)
	if len(got) != 1 || got[0] != (qq.Text{Text: "hello world"}) {
		t.Errorf("plain text: got %#v", got)
	}
}

func TestParseDropsFormatting(t *testing.T) {
	t.Parallel()
	got := Parse("bold text", []telego.MessageEntity{{Type: "bold", Offset: 0, Length: 4}}, nil)
	if len(got) != 1 || got[0] != (qq.Text{Text: "bold text"}) {
		t.Errorf("bold: got %#v", got)
	}
}

func TestParseTextLink(t *testing.T) {
	t.Parallel()
	got := PlainText("see docs now", []telego.MessageEntity{
		{Type: "text_link", Offset: 4, Length: 4, URL: "https://example.com"},
	})
	if got != "see docs (https://example.com) now" {
		t.Errorf("text link: got %q", got)
	}
}

func TestParseUTF16Offsets(t *testing.T) {
	t.Parallel()
	// The emoji takes two UTF-16 code units.
	text := "😀 hi link"
	got := PlainText(text, []telego.MessageEntity{
		{Type: "text_link", Offset: 6, Length: 4, URL: "https://x.test"},
	})
	if got != "😀 hi link (https://x.test)" {
		t.Errorf("utf16 offsets: got %q", got)
	}
}

func TestParseMentions(t *testing.T) {
	t.Parallel()
	opts := &Options{ResolveMention: func(user *telego.User, username string) (int64, bool) {
		if user != nil && user.ID == 7 {
			return 7007, true
		}
		if username == "owner" {
			return 8008, true
		}
		return 0, false
	}}
	text := "hi Bob and @owner and @nobody"
	got := Parse(text, []telego.MessageEntity{
		{Type: "text_mention", Offset: 3, Length: 3, User: &telego.User{ID: 7, FirstName: "Bob"}},
		{Type: "mention", Offset: 11, Length: 6},
		{Type: "mention", Offset: 22, Length: 7},
	}, opts)
	want := []qq.Element{
		qq.Text{Text: "hi "},
		qq.Mention{UserID: 7007, Name: "Bob"},
		qq.Text{Text: " and "},
		qq.Mention{UserID: 8008, Name: "owner"},
		qq.Text{Text: " and @nobody"},
	}
	if len(got) != len(want) {
		t.Fatalf("mentions: got %#v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: got %#v, want %#v", i, got[i], want[i])
		}
	}
}

func TestParseInvalidEntities(t *testing.T) {
	t.Parallel()
	got := PlainText("short", []telego.MessageEntity{
		{Type: "text_link", Offset: 3, Length: 50, URL: "https://x"},
		{Type: "text_link", Offset: -1, Length: 2, URL: "https://y"},
	})
	if got != "short" {
		t.Errorf("invalid entities should be ignored: got %q", got)
	}
}

func FuzzParse(f *testing.F) {
	f.Add("hello", 0, 5)
	f.Add("😀😀😀", 2, 2)
	f.Add("", 0, 0)
	f.Add("abc", 5, 1)
	f.Fuzz(func(t *testing.T, text string, offset, length int) {
		ents := []telego.MessageEntity{{Type: "text_link", Offset: offset, Length: length, URL: "https://z"}}
		// Must not panic on arbitrary offsets.
		_ = Parse(text, ents, nil)
	})
}
