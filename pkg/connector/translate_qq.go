// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"html"
	"path"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aiku/q2tg/pkg/connector/qqfmt"
	"github.com/aiku/q2tg/pkg/qq"
)

// albumLimit is the largest number of items in one Telegram media group.
const albumLimit = 10

// qqChunk is a run of elements that is sent as one group of Telegram
// messages. A non-chainable element is always a chunk of its own.
type qqChunk struct {
	elements []qq.Element
	alone    bool
}

// splitChain groups consecutive chainable elements and isolates the rest,
// preserving order. Markers are dropped.
func splitChain(elements []qq.Element) []qqChunk {
	var chunks []qqChunk
	var run []qq.Element
	flush := func() {
		if len(run) > 0 {
			chunks = append(chunks, qqChunk{elements: run})
			run = nil
		}
	}
	for _, el := range elements {
		if _, ok := el.(qq.Marker); ok {
			continue
		}
		if qq.Chainable(el) {
			run = append(run, el)
			continue
		}
		flush()
		chunks = append(chunks, qqChunk{elements: []qq.Element{el}, alone: true})
	}
	flush()
	return chunks
}

// hasContent reports whether a chain carries anything worth forwarding.
// Chains made of sender tags and whitespace carry nothing.
func hasContent(elements []qq.Element) bool {
	for _, el := range elements {
		switch e := el.(type) {
		case qq.Marker:
		case qq.Text:
			if strings.TrimSpace(e.Text) != "" {
				return true
			}
		case qq.SystemNotice:
			if e.Kind != qq.NoticeSenderTag {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// TranslateQQ converts a QQ message into the Telegram sends that mirror it,
// in order. It returns nil when nothing should be sent.
func (in *Instance) TranslateQQ(ctx context.Context, msg *qq.Message, flags Flags) []*OutboundMessage {
	elements := msg.Elements
	if !hasContent(elements) {
		return nil
	}
	replyTo := 0
	if msg.Reply != nil {
		replyTo = in.resolveQQReply(ctx, msg)
		elements = dropQuotedMention(elements, msg.Reply.SenderID)
	}
	header := in.qqHeader(msg, flags)
	opts := &qqfmt.Options{MentionUser: in.bridge.tgUserForQQ}

	var out []*OutboundMessage
	for _, chunk := range splitChain(elements) {
		if chunk.alone {
			out = append(out, in.translateSingle(ctx, chunk.elements[0], header, flags)...)
		} else {
			out = append(out, translateRun(chunk.elements, header, opts)...)
		}
	}
	if len(out) > 0 {
		out[0].ReplyTo = replyTo
	}
	return out
}

// resolveQQReply returns the Telegram message id of the quoted message, or
// 0 when the quote is unknown. Unknown quotes are dropped silently.
func (in *Instance) resolveQQReply(ctx context.Context, msg *qq.Message) int {
	r := msg.Reply
	rec, err := in.bridge.DB.Message.FindByQQ(ctx, in.ID, int64(msg.Room), r.SenderID, r.Seq, r.Rand)
	if err != nil {
		in.log.Warn().Err(err).Int64("reply_seq", r.Seq).Msg("Failed to look up quoted message")
		return 0
	}
	if rec == nil {
		in.log.Debug().Int64("reply_seq", r.Seq).Msg("Quoted message not found, dropping quote")
		return 0
	}
	return rec.TGMsgID
}

// dropQuotedMention removes the mention of the quoted sender that QQ clients
// put in front of a reply.
func dropQuotedMention(elements []qq.Element, senderID int64) []qq.Element {
	if senderID == 0 {
		return elements
	}
	for i, el := range elements {
		switch e := el.(type) {
		case qq.Marker, qq.SystemNotice:
			continue
		case qq.Text:
			if strings.TrimSpace(e.Text) != "" {
				return elements
			}
		case qq.Mention:
			if e.UserID != senderID {
				return elements
			}
			out := slices.Delete(slices.Clone(elements), i, i+1)
			if i < len(out) {
				if t, ok := out[i].(qq.Text); ok {
					t.Text = strings.TrimLeft(t.Text, " ")
					out[i] = t
				}
			}
			return out
		default:
			return elements
		}
	}
	return elements
}

// qqHeader renders the sender line of a group message. Private chats have no
// header.
func (in *Instance) qqHeader(msg *qq.Message, flags Flags) string {
	if !msg.Room.IsGroup() {
		return ""
	}
	cfg := in.bridge.Config
	name := msg.SenderName
	if name == "" {
		name = strconv.FormatInt(msg.SenderID, 10)
	}
	name = cfg.FormatDisplayname(QQDisplaynameParams{ID: msg.SenderID, Name: name})
	for _, el := range msg.Elements {
		if tag, ok := el.(qq.SystemNotice); ok && tag.Kind == qq.NoticeSenderTag && tag.Text != "" {
			name += " [" + tag.Text + "]"
			break
		}
	}
	var emoji, link string
	if flags.ColorEmojiPrefix() {
		emoji = colorEmoji(msg.SenderID)
	}
	if flags.RichHeader() {
		link = cfg.FormatRichHeaderURL(RichHeaderParams{ID: msg.SenderID, RoomID: msg.Room.PeerID()})
	}
	return qqfmt.Header(name, emoji, link)
}

// translateRun converts a run of chainable elements. Text goes into the
// caption of the first media send, photos are grouped into albums and every
// other media item is sent on its own.
func translateRun(elements []qq.Element, header string, opts *qqfmt.Options) []*OutboundMessage {
	parsed := qqfmt.Parse(elements, opts)
	text := qqfmt.Join(header, parsed.HTML)
	var photos, others []Media
	for _, el := range elements {
		m, ok := chainMedia(el)
		if !ok {
			continue
		}
		if m.Kind == MediaPhoto {
			photos = append(photos, m)
		} else {
			others = append(others, m)
		}
	}
	if len(photos) == 0 && len(others) == 0 {
		if parsed.HTML == "" {
			return nil
		}
		return textMessages(text)
	}

	var out, trailing []*OutboundMessage
	caption := text
	if utf8.RuneCountInString(caption) > captionLimit {
		trailing = textMessages(text)
		caption = header
	}
	for album := range slices.Chunk(photos, albumLimit) {
		out = append(out, &OutboundMessage{HTML: caption, Media: album})
		caption = ""
	}
	for _, m := range others {
		out = append(out, &OutboundMessage{HTML: caption, Media: []Media{m}})
		caption = ""
	}
	return append(out, trailing...)
}

// chainMedia returns the Telegram media item of a chainable element.
func chainMedia(el qq.Element) (Media, bool) {
	switch e := el.(type) {
	case qq.Image:
		if e.URL == "" || e.Flash {
			return Media{}, false
		}
		return Media{Kind: imageKind(e.Name, e.URL), URL: e.URL, FileName: e.Name}, true
	case qq.Sticker:
		if e.URL == "" {
			return Media{}, false
		}
		return Media{Kind: imageKind(e.Name, e.URL), URL: e.URL}, true
	case qq.File:
		if e.URL == "" {
			return Media{}, false
		}
		return Media{Kind: MediaDocument, URL: e.URL, FileName: e.Name}, true
	default:
		return Media{}, false
	}
}

// imageKind sends GIFs as animations so that they keep moving.
func imageKind(name, url string) MediaKind {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	if strings.EqualFold(path.Ext(name), ".gif") || strings.EqualFold(path.Ext(url), ".gif") {
		return MediaAnimation
	}
	return MediaPhoto
}

// translateSingle converts an element that travels alone.
func (in *Instance) translateSingle(ctx context.Context, el qq.Element, header string, flags Flags) []*OutboundMessage {
	switch e := el.(type) {
	case qq.Image:
		return []*OutboundMessage{{
			HTML:  header,
			Media: []Media{{Kind: MediaPhoto, URL: e.URL, FileName: e.Name, Spoiler: e.Flash}},
		}}
	case qq.Voice:
		return []*OutboundMessage{{HTML: header, Media: []Media{{Kind: MediaVoice, URL: e.URL}}}}
	case qq.Video:
		return []*OutboundMessage{{HTML: header, Media: []Media{{Kind: MediaVideo, URL: e.URL, FileName: e.Name}}}}
	case qq.Location:
		loc := e
		var out []*OutboundMessage
		if header != "" {
			out = append(out, &OutboundMessage{HTML: header})
		}
		return append(out, &OutboundMessage{Location: &loc})
	case qq.ForwardBundle:
		return textMessages(qqfmt.Join(header, in.forwardPreview(ctx, e.ResID)))
	case qq.Card:
		return textMessages(qqfmt.Join(header, qqfmt.Card(e.Title, e.URL)))
	case qq.SystemNotice:
		if e.Kind != qq.NoticePoke || flags.PokeDisabled() {
			return nil
		}
		text := "[Poke]"
		if e.Text != "" {
			text += " " + e.Text
		}
		return textMessages(qqfmt.Join(header, html.EscapeString(text)))
	default:
		in.log.Debug().Str("element_type", el.Type()).Msg("Dropping element without Telegram counterpart")
		return nil
	}
}

// forwardPreview fetches a merged-forward bundle and renders its preview.
func (in *Instance) forwardPreview(ctx context.Context, resID string) string {
	link := in.bridge.Config.FormatForwardViewerURL(resID)
	nodes, err := in.QQ.GetForwardMessage(ctx, resID)
	if err != nil {
		in.log.Warn().Err(err).Str("res_id", resID).Msg("Failed to fetch forwarded messages")
		return qqfmt.ForwardPreview("Forwarded messages", nil, 0, link)
	}
	lines := make([]string, 0, min(len(nodes), 3))
	for _, node := range nodes[:min(len(nodes), 3)] {
		lines = append(lines, node.SenderName+": "+qq.Brief(node.Elements))
	}
	return qqfmt.ForwardPreview("Forwarded messages", lines, len(nodes), link)
}

// textMessages splits HTML into Telegram-sized text messages, preferring
// line boundaries.
func textMessages(text string) []*OutboundMessage {
	if text == "" {
		return nil
	}
	var out []*OutboundMessage
	for _, part := range splitText(text, textLimit) {
		out = append(out, &OutboundMessage{HTML: part})
	}
	return out
}
