// Copyright 2024-2026 Aiku AI

package connector

import "testing"

func TestFlagBitsAreStable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		flag Flags
		want int64
	}{
		{FlagDisableQ2TG, 1},
		{FlagDisableTG2Q, 2},
		{FlagDisableJoinNotice, 4},
		{FlagDisablePoke, 8},
		{FlagNoDeleteMessage, 16},
		{FlagNoAutoCreatePM, 32},
		{FlagColorEmojiPrefix, 64},
		{FlagRichHeader, 128},
		{FlagNoQuotePin, 256},
		{FlagNoForwardOtherBot, 512},
	}
	for _, tt := range tests {
		if int64(tt.flag) != tt.want {
			t.Errorf("%s: got %d, want %d", tt.flag, int64(tt.flag), tt.want)
		}
	}
}

func TestFlagsSetAndAccessors(t *testing.T) {
	t.Parallel()
	var f Flags
	f = f.Set(FlagDisableQ2TG, true).Set(FlagRichHeader, true)
	if !f.Q2TGDisabled() || !f.RichHeader() {
		t.Errorf("flags not set: %s", f)
	}
	if f.TG2QDisabled() {
		t.Error("tg2q should not be disabled")
	}
	f = f.Set(FlagDisableQ2TG, false)
	if f.Q2TGDisabled() {
		t.Error("q2tg should be re-enabled")
	}
	if f.String() != "rich_header" {
		t.Errorf("String: got %q", f.String())
	}
	if Flags(0).String() != "none" {
		t.Errorf("zero String: got %q", Flags(0).String())
	}
}

func TestParseFlag(t *testing.T) {
	t.Parallel()
	if flag, ok := ParseFlag("no-delete-message"); !ok || flag != FlagNoDeleteMessage {
		t.Errorf("ParseFlag dashed: got %v, %v", flag, ok)
	}
	if flag, ok := ParseFlag("RICH_HEADER"); !ok || flag != FlagRichHeader {
		t.Errorf("ParseFlag upper: got %v, %v", flag, ok)
	}
	if _, ok := ParseFlag("bogus"); ok {
		t.Error("unknown flag should not parse")
	}
	if len(FlagNames()) != 10 {
		t.Errorf("FlagNames: got %d names", len(FlagNames()))
	}
}
