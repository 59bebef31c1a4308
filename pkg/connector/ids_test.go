// Copyright 2024-2026 Aiku AI

package connector

import (
	"testing"
)

func TestMakeQQRoomID(t *testing.T) {
	t.Parallel()
	if got := MakeQQRoomID(123, true); got != -123 {
		t.Errorf("group room: got %d, want -123", got)
	}
	if got := MakeQQRoomID(456, false); got != 456 {
		t.Errorf("private room: got %d, want 456", got)
	}
}

func TestParseChatID(t *testing.T) {
	t.Parallel()
	got, err := ParseChatID(" -1001234567890 ")
	if err != nil {
		t.Fatalf("ParseChatID: %v", err)
	}
	if got != -1001234567890 {
		t.Errorf("ParseChatID: got %d", got)
	}
	if _, err = ParseChatID("abc"); err == nil {
		t.Error("ParseChatID should reject non-numeric input")
	}
}

func TestMakeMessageLink(t *testing.T) {
	t.Parallel()
	tests := []struct {
		chatID int64
		msgID  int
		want   string
	}{
		{-1001234567890, 42, "https://t.me/c/1234567890/42"},
		{-123456, 1, ""},
		{98765, 1, ""},
	}
	for _, tt := range tests {
		if got := MakeMessageLink(tt.chatID, tt.msgID); got != tt.want {
			t.Errorf("MakeMessageLink(%d, %d): got %q, want %q", tt.chatID, tt.msgID, got, tt.want)
		}
	}
}

func TestMakeUserLink(t *testing.T) {
	t.Parallel()
	if got := MakeUserLink(77); got != "tg://user?id=77" {
		t.Errorf("MakeUserLink: got %q", got)
	}
}

func TestNewEventIDUnique(t *testing.T) {
	t.Parallel()
	a, b := newEventID(), newEventID()
	if a == "" || a == b {
		t.Errorf("event ids should be unique: %q, %q", a, b)
	}
}
