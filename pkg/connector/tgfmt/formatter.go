// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package tgfmt converts Telegram text and entities to QQ message chains.
package tgfmt

import (
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/mymmrac/telego"

	"github.com/aiku/q2tg/pkg/qq"
)

// Options customizes conversion. A nil *Options is valid.
type Options struct {
	// ResolveMention maps a mentioned Telegram user to a QQ uin. user is nil
	// for plain @username mentions.
	ResolveMention func(user *telego.User, username string) (uin int64, ok bool)
}

// Parse converts Telegram text with its entities to QQ elements. Formatting
// entities are dropped, text links keep their URL in parentheses and
// resolvable mentions become QQ mentions. Adjacent text is merged.
func Parse(text string, entities []telego.MessageEntity, opts *Options) []qq.Element {
	if text == "" {
		return nil
	}
	units := utf16.Encode([]rune(text))
	sorted := make([]telego.MessageEntity, 0, len(entities))
	for _, ent := range entities {
		if ent.Offset < 0 || ent.Length <= 0 || ent.Offset > len(units) || ent.Length > len(units)-ent.Offset {
			continue
		}
		switch ent.Type {
		case "text_link", "text_mention", "mention":
			sorted = append(sorted, ent)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var b chainBuilder
	pos := 0
	for _, ent := range sorted {
		// Overlapping entities cannot be expressed in QQ text.
		if ent.Offset < pos {
			continue
		}
		b.text(decode(units[pos:ent.Offset]))
		segment := decode(units[ent.Offset : ent.Offset+ent.Length])
		pos = ent.Offset + ent.Length

		switch ent.Type {
		case "text_link":
			b.text(segment)
			if ent.URL != "" && ent.URL != segment {
				b.text(" (" + ent.URL + ")")
			}
		case "text_mention":
			if uin, ok := resolve(opts, ent.User, ""); ok {
				b.mention(uin, segment)
			} else {
				b.text(segment)
			}
		case "mention":
			if uin, ok := resolve(opts, nil, strings.TrimPrefix(segment, "@")); ok {
				b.mention(uin, segment)
			} else {
				b.text(segment)
			}
		}
	}
	b.text(decode(units[pos:]))
	return b.elements
}

// PlainText returns text with text-link URLs appended, without resolving
// mentions.
func PlainText(text string, entities []telego.MessageEntity) string {
	var sb strings.Builder
	for _, el := range Parse(text, entities, nil) {
		if t, ok := el.(qq.Text); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func resolve(opts *Options, user *telego.User, username string) (int64, bool) {
	if opts == nil || opts.ResolveMention == nil {
		return 0, false
	}
	if user == nil && username == "" {
		return 0, false
	}
	return opts.ResolveMention(user, username)
}

func decode(units []uint16) string {
	return string(utf16.Decode(units))
}

type chainBuilder struct {
	elements []qq.Element
}

func (b *chainBuilder) text(s string) {
	if s == "" {
		return
	}
	if n := len(b.elements); n > 0 {
		if last, ok := b.elements[n-1].(qq.Text); ok {
			b.elements[n-1] = qq.Text{Text: last.Text + s}
			return
		}
	}
	b.elements = append(b.elements, qq.Text{Text: s})
}

func (b *chainBuilder) mention(uin int64, name string) {
	b.elements = append(b.elements, qq.Mention{UserID: uin, Name: strings.TrimPrefix(name, "@")})
}
