// Copyright 2024-2026 Aiku AI

package connector

import (
	"sort"
	"strings"
)

// Flags is the per-pair (and per-instance) capability bitmask. The numeric
// values are stored in the database and must not change.
type Flags int64

const (
	FlagDisableQ2TG       Flags = 1 << 0
	FlagDisableTG2Q       Flags = 1 << 1
	FlagDisableJoinNotice Flags = 1 << 2
	FlagDisablePoke       Flags = 1 << 3
	FlagNoDeleteMessage   Flags = 1 << 4
	FlagNoAutoCreatePM    Flags = 1 << 5
	FlagColorEmojiPrefix  Flags = 1 << 6
	FlagRichHeader        Flags = 1 << 7
	FlagNoQuotePin        Flags = 1 << 8
	FlagNoForwardOtherBot Flags = 1 << 9
)

var flagNames = map[string]Flags{
	"disable_q2tg":         FlagDisableQ2TG,
	"disable_tg2q":         FlagDisableTG2Q,
	"disable_join_notice":  FlagDisableJoinNotice,
	"disable_poke":         FlagDisablePoke,
	"no_delete_message":    FlagNoDeleteMessage,
	"no_auto_create_pm":    FlagNoAutoCreatePM,
	"color_emoji_prefix":   FlagColorEmojiPrefix,
	"rich_header":          FlagRichHeader,
	"no_quote_pin":         FlagNoQuotePin,
	"no_forward_other_bot": FlagNoForwardOtherBot,
}

// ParseFlag returns the flag with the given name. Dashes and underscores are
// interchangeable.
func ParseFlag(name string) (Flags, bool) {
	flag, ok := flagNames[strings.ReplaceAll(strings.ToLower(name), "-", "_")]
	return flag, ok
}

func (f Flags) Has(flag Flags) bool { return f&flag == flag }

func (f Flags) With(flag Flags) Flags { return f | flag }

func (f Flags) Without(flag Flags) Flags { return f &^ flag }

// Set returns f with flag turned on or off.
func (f Flags) Set(flag Flags, on bool) Flags {
	if on {
		return f.With(flag)
	}
	return f.Without(flag)
}

func (f Flags) Q2TGDisabled() bool       { return f.Has(FlagDisableQ2TG) }
func (f Flags) TG2QDisabled() bool       { return f.Has(FlagDisableTG2Q) }
func (f Flags) JoinNoticeDisabled() bool { return f.Has(FlagDisableJoinNotice) }
func (f Flags) PokeDisabled() bool       { return f.Has(FlagDisablePoke) }
func (f Flags) NoDeleteMessage() bool    { return f.Has(FlagNoDeleteMessage) }
func (f Flags) NoAutoCreatePM() bool     { return f.Has(FlagNoAutoCreatePM) }
func (f Flags) ColorEmojiPrefix() bool   { return f.Has(FlagColorEmojiPrefix) }
func (f Flags) RichHeader() bool         { return f.Has(FlagRichHeader) }
func (f Flags) NoQuotePin() bool         { return f.Has(FlagNoQuotePin) }
func (f Flags) NoForwardOtherBot() bool  { return f.Has(FlagNoForwardOtherBot) }

// String lists the names of the set flags, e.g. "disable_q2tg|rich_header".
func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for name, flag := range flagNames {
		if f.Has(flag) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

// FlagNames returns every known flag name in sorted order.
func FlagNames() []string {
	names := make([]string, 0, len(flagNames))
	for name := range flagNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
