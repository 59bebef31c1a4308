// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"

	"github.com/aiku/q2tg/pkg/qq"
)

// MediaKind selects the Telegram send method for a media item.
type MediaKind int

const (
	MediaPhoto MediaKind = iota + 1
	MediaAnimation
	MediaVideo
	MediaVoice
	MediaDocument
	MediaSticker
)

func (k MediaKind) String() string {
	switch k {
	case MediaPhoto:
		return "photo"
	case MediaAnimation:
		return "animation"
	case MediaVideo:
		return "video"
	case MediaVoice:
		return "voice"
	case MediaDocument:
		return "document"
	case MediaSticker:
		return "sticker"
	default:
		return "unknown"
	}
}

// Media is one attachment of an outbound Telegram message. Either URL or
// Data is set; Data wins when both are.
type Media struct {
	Kind     MediaKind
	URL      string
	Data     []byte
	FileName string
	Spoiler  bool
}

// OutboundMessage is one Telegram send produced by the translator.
//
// With no media it is a text message, with one media item a captioned
// media message and with several an album whose first item carries the
// caption. Location sends ignore Media.
type OutboundMessage struct {
	HTML     string
	Media    []Media
	Location *qq.Location
	ReplyTo  int
}

// captionLimit is Telegram's maximum caption length in characters.
const captionLimit = 1024

// textLimit is Telegram's maximum message length in characters.
const textLimit = 4096

// IsText reports whether m is a plain text message.
func (m *OutboundMessage) IsText() bool {
	return len(m.Media) == 0 && m.Location == nil
}

// renderedHTML joins the text of sends as it was posted on Telegram.
func renderedHTML(sends []*OutboundMessage) string {
	parts := make([]string, 0, len(sends))
	for _, s := range sends {
		if s.HTML != "" {
			parts = append(parts, s.HTML)
		}
	}
	return strings.Join(parts, "\n")
}
