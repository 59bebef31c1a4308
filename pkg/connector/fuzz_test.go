// Copyright 2024-2026 Aiku AI

package connector

import (
	"html"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"
)

func FuzzSplitText(f *testing.F) {
	f.Add("hello\nworld", 5)
	f.Add("aaaa\nbbbb\ncccc", 10)
	f.Add("ééééé\n\n\nééééé", 3)
	f.Add("a & b < c", 4)
	f.Add("", 1)
	f.Fuzz(func(t *testing.T, text string, limit int) {
		if !utf8.ValidString(text) {
			return
		}
		limit = 1 + abs(limit)%64
		// Markup is covered by FuzzSplitTextHTML.
		text = strings.Map(func(r rune) rune {
			if strings.ContainsRune("<>&", r) {
				return -1
			}
			return r
		}, text)
		parts := splitText(text, limit)
		for _, p := range parts {
			if n := utf8.RuneCountInString(p); n > limit {
				t.Fatalf("part of %d runes exceeds limit %d", n, limit)
			}
		}
		stripped := strings.ReplaceAll(text, "\n", "")
		if joined := strings.ReplaceAll(strings.Join(parts, ""), "\n", ""); joined != stripped {
			t.Fatalf("content changed: %q -> %q", stripped, joined)
		}
	})
}

var (
	tagRe    = regexp.MustCompile(`<(/?)([a-z]+)[^>]*>`)
	entityRe = regexp.MustCompile(`&[#a-zA-Z0-9]+;`)
)

// checkBalanced fails unless every tag and character reference of part is
// whole and every element opened in part is closed in it.
func checkBalanced(t *testing.T, part string) {
	t.Helper()
	tags := tagRe.FindAllStringSubmatch(part, -1)
	if n := strings.Count(part, "<"); n != len(tags) {
		t.Fatalf("part %q has %d '<' but %d whole tags", part, n, len(tags))
	}
	if n := strings.Count(part, "&"); n != len(entityRe.FindAllString(part, -1)) {
		t.Fatalf("part %q has a cut character reference", part)
	}
	var open []string
	for _, tag := range tags {
		if tag[1] == "" {
			open = append(open, tag[2])
			continue
		}
		if len(open) == 0 || open[len(open)-1] != tag[2] {
			t.Fatalf("part %q closes </%s> without opening it", part, tag[2])
		}
		open = open[:len(open)-1]
	}
	if len(open) > 0 {
		t.Fatalf("part %q leaves %v open", part, open)
	}
}

func FuzzSplitTextHTML(f *testing.F) {
	f.Add("Alice", "hello & goodbye", "@Bob", 0)
	f.Add(strings.Repeat("x", 90), "<not a tag>", "\"quoted\"", 17)
	f.Add("line\nline\nline", strings.Repeat("é", 120), "", 199)
	f.Fuzz(func(t *testing.T, a, b, c string, limit int) {
		if !utf8.ValidString(a) || !utf8.ValidString(b) || !utf8.ValidString(c) {
			return
		}
		limit = 40 + abs(limit)%200
		a, b, c = html.EscapeString(a), html.EscapeString(b), html.EscapeString(c)
		text := a + "\n<b>" + b + "</b> <a href=\"https://e.x/?a&amp;b\">" + c + "</a>\n" +
			"<blockquote>" + a + "<i>" + b + "</i></blockquote>"
		parts := splitText(text, limit)
		var joined strings.Builder
		for _, p := range parts {
			if n := utf8.RuneCountInString(p); n > limit {
				t.Fatalf("part of %d runes exceeds limit %d", n, limit)
			}
			checkBalanced(t, p)
			joined.WriteString(p)
		}
		plain := func(s string) string {
			return strings.ReplaceAll(tagRe.ReplaceAllString(s, ""), "\n", "")
		}
		if got, want := plain(joined.String()), plain(text); got != want {
			t.Fatalf("content changed: %q -> %q", want, got)
		}
	})
}

func FuzzParseCommand(f *testing.F) {
	f.Add("/link group 123")
	f.Add("/RM@bot")
	f.Add("plain text")
	f.Fuzz(func(t *testing.T, text string) {
		name, args := parseCommand(text)
		if strings.Contains(name, "@") || strings.ContainsAny(name, " \t\n") {
			t.Fatalf("name %q not normalized", name)
		}
		for _, arg := range args {
			if arg == "" || strings.ContainsAny(arg, " \t\n") {
				t.Fatalf("bad argument %q", arg)
			}
		}
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
