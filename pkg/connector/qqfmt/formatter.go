// Copyright 2024-2026 Aiku AI

// Package qqfmt converts QQ message chains to Telegram HTML.
package qqfmt

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/aiku/q2tg/pkg/qq"
)

// ParsedMessage holds the result of rendering the text parts of a chain.
type ParsedMessage struct {
	// Body is the plain text rendering.
	Body string
	// HTML is the Telegram HTML rendering.
	HTML string
}

// Options customizes rendering. A nil *Options is valid.
type Options struct {
	// MentionUser returns the Telegram user id behind a QQ uin, if any.
	MentionUser func(uin int64) (int64, bool)
}

var (
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
	safeSchemeRe = regexp.MustCompile(`(?i)^(https?|mailto|tg):`)
)

var rpsNames = map[int]string{1: "rock", 2: "scissors", 3: "paper"}

// Parse renders the text-like elements of a chain. Media elements are
// skipped; the caller sends them separately.
func Parse(elements []qq.Element, opts *Options) *ParsedMessage {
	var body, formatted strings.Builder
	for _, el := range elements {
		plain, rendered := renderElement(el, opts)
		body.WriteString(plain)
		formatted.WriteString(rendered)
	}
	return &ParsedMessage{
		Body: strings.TrimSpace(blankLinesRe.ReplaceAllString(body.String(), "\n\n")),
		HTML: strings.TrimSpace(blankLinesRe.ReplaceAllString(formatted.String(), "\n\n")),
	}
}

// IsTextual reports whether Parse renders el as text.
func IsTextual(el qq.Element) bool {
	switch e := el.(type) {
	case qq.Text, qq.Mention, qq.Face, qq.Poll, qq.Contact, qq.Unsupported:
		return true
	case qq.Sticker:
		return e.URL == ""
	case qq.File:
		return e.URL == ""
	case qq.SystemNotice:
		return e.Kind == qq.NoticeDice || e.Kind == qq.NoticeRPS
	default:
		return false
	}
}

func renderElement(el qq.Element, opts *Options) (plain, rendered string) {
	if !IsTextual(el) {
		return "", ""
	}
	switch e := el.(type) {
	case qq.Text:
		return e.Text, html.EscapeString(e.Text)
	case qq.Mention:
		return renderMention(e, opts)
	case qq.Face:
		plain = "[Face]"
		if e.Name != "" {
			plain = "[Face: " + e.Name + "]"
		}
		return plain, html.EscapeString(plain)
	case qq.Sticker:
		plain = "[Sticker]"
		if e.Name != "" {
			plain = "[Sticker: " + e.Name + "]"
		}
		return plain, html.EscapeString(plain)
	case qq.File:
		plain = fmt.Sprintf("[File] %s (%s)\n", e.Name, humanize.Bytes(uint64(max(e.Size, 0))))
		return plain, html.EscapeString(plain)
	case qq.Poll:
		var sb strings.Builder
		sb.WriteString("[Poll] " + e.Question)
		for i, opt := range e.Options {
			sb.WriteString("\n" + strconv.Itoa(i+1) + ". " + opt)
		}
		plain = sb.String() + "\n"
		return plain, html.EscapeString(plain)
	case qq.Contact:
		if e.Group {
			plain = fmt.Sprintf("[Group] %s (%d)", e.Name, e.ID)
		} else {
			plain = fmt.Sprintf("[Contact] %s (QQ %d)", e.Name, e.ID)
		}
		return plain, html.EscapeString(plain)
	case qq.SystemNotice:
		if e.Kind == qq.NoticeRPS {
			name, ok := rpsNames[e.Value]
			if !ok {
				name = strconv.Itoa(e.Value)
			}
			plain = "[Rock-paper-scissors: " + name + "]"
		} else {
			plain = "[Dice: " + strconv.Itoa(e.Value) + "]"
		}
		return plain, html.EscapeString(plain)
	case qq.Unsupported:
		plain = "[Unsupported: " + e.Kind + "]"
		return plain, html.EscapeString(plain)
	default:
		return "", ""
	}
}

func renderMention(m qq.Mention, opts *Options) (plain, rendered string) {
	if m.IsAll() {
		return "@all", "@all"
	}
	name := m.Name
	if name == "" {
		name = strconv.FormatInt(m.UserID, 10)
	}
	plain = "@" + name
	if opts != nil && opts.MentionUser != nil {
		if tgID, ok := opts.MentionUser(m.UserID); ok {
			return plain, `<a href="tg://user?id=` + strconv.FormatInt(tgID, 10) + `">` + html.EscapeString(plain) + `</a>`
		}
	}
	return plain, html.EscapeString(plain)
}

// Header renders the sender line put in front of forwarded group messages.
// link is only used when it has a safe scheme.
func Header(name, emoji, link string) string {
	var sb strings.Builder
	sb.WriteString(emoji)
	if link != "" && safeSchemeRe.MatchString(link) {
		sb.WriteString(`<a href="` + html.EscapeString(link) + `"><b>` + html.EscapeString(name) + `</b></a>`)
	} else {
		sb.WriteString("<b>" + html.EscapeString(name) + "</b>")
	}
	sb.WriteString(":")
	return sb.String()
}

// ForwardPreview renders a merged-forward bundle as a short preview. At most
// three lines are shown. A total of 0 omits the message count.
func ForwardPreview(title string, lines []string, total int, link string) string {
	var sb strings.Builder
	sb.WriteString("<b>" + html.EscapeString(title) + "</b>")
	for i, line := range lines {
		if i == 3 {
			break
		}
		sb.WriteString("\n" + html.EscapeString(line))
	}
	if total > 3 {
		sb.WriteString("\n…")
	}
	if total > 0 {
		sb.WriteString(fmt.Sprintf("\n<i>%d messages</i>", total))
	}
	if link != "" && safeSchemeRe.MatchString(link) {
		sb.WriteString("\n" + `<a href="` + html.EscapeString(link) + `">View all</a>`)
	}
	return sb.String()
}

// Card renders a rich card as its title and, when it has a safe scheme,
// its link.
func Card(title, link string) string {
	if title == "" {
		title = "Card"
	}
	out := "[Card] " + html.EscapeString(title)
	if link != "" && safeSchemeRe.MatchString(link) {
		out += "\n" + html.EscapeString(link)
	}
	return out
}

// Join concatenates non-empty HTML fragments with a newline.
func Join(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}
