// Copyright 2024-2026 Aiku AI

package connector

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// maxEntityLen bounds the length of a character reference such as &amp;.
const maxEntityLen = 32

type htmlTokenKind int

const (
	tokenText htmlTokenKind = iota
	tokenNewline
	tokenOpen
	tokenClose
)

// htmlToken is an atom of Telegram HTML: a rune, a character reference or
// a tag. A split never falls inside a token.
type htmlToken struct {
	kind  htmlTokenKind
	raw   string
	name  string
	width int
}

func tokenizeHTML(text string) []htmlToken {
	var tokens []htmlToken
	for i := 0; i < len(text); {
		tok, ok := htmlToken{}, false
		switch text[i] {
		case '\n':
			tok, ok = htmlToken{kind: tokenNewline, raw: "\n"}, true
		case '<':
			tok, ok = parseTag(text[i:])
		case '&':
			tok, ok = parseEntity(text[i:])
		}
		if !ok {
			_, size := utf8.DecodeRuneInString(text[i:])
			tok = htmlToken{kind: tokenText, raw: text[i : i+size]}
		}
		tok.width = utf8.RuneCountInString(tok.raw)
		tokens = append(tokens, tok)
		i += len(tok.raw)
	}
	return tokens
}

func parseTag(text string) (htmlToken, bool) {
	end := strings.IndexByte(text, '>')
	if end < 2 {
		return htmlToken{}, false
	}
	raw := text[:end+1]
	inner := raw[1:end]
	kind := tokenOpen
	switch {
	case strings.HasPrefix(inner, "/"):
		kind = tokenClose
		inner = inner[1:]
	case strings.HasSuffix(inner, "/"):
		kind = tokenText
		inner = strings.TrimSuffix(inner, "/")
	}
	name, _, _ := strings.Cut(strings.TrimSpace(inner), " ")
	if !isTagName(name) {
		return htmlToken{}, false
	}
	return htmlToken{kind: kind, raw: raw, name: name}, true
}

func isTagName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}

func parseEntity(text string) (htmlToken, bool) {
	end := strings.IndexByte(text[:min(len(text), maxEntityLen)], ';')
	if end < 2 {
		return htmlToken{}, false
	}
	for _, c := range text[1:end] {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '#' {
			return htmlToken{}, false
		}
	}
	return htmlToken{kind: tokenText, raw: text[:end+1]}, true
}

// applyTag returns the open element stack after tok.
func applyTag(open []htmlToken, tok htmlToken) []htmlToken {
	switch tok.kind {
	case tokenOpen:
		return append(open, tok)
	case tokenClose:
		for i := len(open) - 1; i >= 0; i-- {
			if open[i].name == tok.name {
				return open[:i]
			}
		}
	}
	return open
}

func closeWidth(open []htmlToken) int {
	n := 0
	for _, tok := range open {
		n += utf8.RuneCountInString(tok.name) + len("</>")
	}
	return n
}

// htmlSplitter packs tokens into parts of at most limit runes. Elements
// still open at a cut are closed at the end of the part and reopened at the
// start of the next one.
type htmlSplitter struct {
	limit  int
	parts  []string
	cur    strings.Builder
	prefix string
	width  int
	open   []htmlToken
	fresh  bool
}

// fits reports whether line can be appended to the current part as a whole.
func (s *htmlSplitter) fits(line []htmlToken) bool {
	width := s.width
	open := slices.Clone(s.open)
	for _, tok := range line {
		width += tok.width
		open = applyTag(open, tok)
		if width+closeWidth(open) > s.limit {
			return false
		}
	}
	return true
}

func (s *htmlSplitter) add(tok htmlToken) {
	if tok.kind == tokenNewline && s.fresh {
		return
	}
	need := s.width + tok.width + closeWidth(applyTag(slices.Clone(s.open), tok))
	if tok.kind == tokenOpen {
		// Leave room for at least one rune of content.
		need++
	}
	if need > s.limit && !s.fresh {
		s.flush()
		if tok.kind == tokenNewline {
			return
		}
	}
	s.cur.WriteString(tok.raw)
	s.width += tok.width
	s.open = applyTag(s.open, tok)
	s.fresh = false
}

func (s *htmlSplitter) flush() {
	if s.fresh {
		return
	}
	part := strings.TrimRight(s.cur.String(), "\n")
	if part != s.prefix {
		for i := len(s.open) - 1; i >= 0; i-- {
			part += "</" + s.open[i].name + ">"
		}
		s.parts = append(s.parts, part)
	}
	s.cur.Reset()
	s.width = 0
	for _, tok := range s.open {
		s.cur.WriteString(tok.raw)
		s.width += tok.width
	}
	s.prefix = s.cur.String()
	s.fresh = true
}

// splitText cuts HTML into parts of at most limit runes. Whole lines are
// kept together where they fit. Tags and character references are never
// cut, and every part is balanced on its own.
func splitText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	s := &htmlSplitter{limit: limit, fresh: true}
	var line []htmlToken
	addLine := func() {
		if !s.fresh && !s.fits(line) {
			s.flush()
		}
		for _, tok := range line {
			s.add(tok)
		}
		line = line[:0]
	}
	for _, tok := range tokenizeHTML(text) {
		line = append(line, tok)
		if tok.kind == tokenNewline {
			addLine()
		}
	}
	addLine()
	s.flush()
	return s.parts
}
