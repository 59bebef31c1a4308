// Copyright 2024-2026 Aiku AI

package onebot

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/aiku/q2tg/pkg/qq"
)

// Segment is one OneBot message segment as sent on the wire.
type Segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// parseChain decodes a message array. The reply segment is returned
// separately.
func parseChain(message gjson.Result) (elements []qq.Element, reply *qq.ReplyRef) {
	if message.Type == gjson.String {
		if text := message.String(); text != "" {
			return []qq.Element{qq.Text{Text: text}}, nil
		}
		return nil, nil
	}
	message.ForEach(func(_, seg gjson.Result) bool {
		if seg.Get("type").String() == "reply" {
			if id := seg.Get("data.id").Int(); id != 0 {
				reply = &qq.ReplyRef{Seq: id}
			}
			return true
		}
		if el := parseSegment(seg); el != nil {
			elements = append(elements, el)
		}
		return true
	})
	return elements, reply
}

// parseSegment decodes one segment. Unknown types become qq.Unsupported.
func parseSegment(seg gjson.Result) qq.Element {
	data := seg.Get("data")
	switch kind := seg.Get("type").String(); kind {
	case "text":
		text := data.Get("text").String()
		if text == "" {
			return nil
		}
		return qq.Text{Text: text}
	case "at":
		target := data.Get("qq").String()
		if target == "all" {
			return qq.Mention{Name: "all"}
		}
		uin, _ := strconv.ParseInt(target, 10, 64)
		return qq.Mention{UserID: uin, Name: strings.TrimPrefix(data.Get("name").String(), "@")}
	case "face":
		return qq.Face{
			ID:   int(data.Get("id").Int()),
			Name: strings.TrimPrefix(data.Get("raw.faceText").String(), "/"),
		}
	case "image":
		url := firstNonEmpty(data.Get("url").String(), data.Get("file").String())
		if data.Get("sub_type").Int() == 1 {
			return qq.Sticker{URL: url, Name: data.Get("summary").String()}
		}
		return qq.Image{
			URL:   url,
			Name:  data.Get("file").String(),
			Size:  data.Get("file_size").Int(),
			Flash: data.Get("type").String() == "flash",
		}
	case "mface":
		return qq.Sticker{URL: data.Get("url").String(), Name: data.Get("summary").String()}
	case "record":
		return qq.Voice{URL: firstNonEmpty(data.Get("url").String(), data.Get("file").String())}
	case "video":
		return qq.Video{
			URL:  firstNonEmpty(data.Get("url").String(), data.Get("file").String()),
			Name: data.Get("file").String(),
		}
	case "file":
		return qq.File{
			URL:  data.Get("url").String(),
			Name: firstNonEmpty(data.Get("name").String(), data.Get("file").String()),
			Size: data.Get("file_size").Int(),
		}
	case "forward":
		return qq.ForwardBundle{ResID: data.Get("id").String()}
	case "json":
		return parseJSONCard(data.Get("data").String())
	case "xml":
		return qq.Card{Format: "xml", Data: data.Get("data").String()}
	case "location":
		return qq.Location{
			Latitude:  data.Get("lat").Float(),
			Longitude: data.Get("lon").Float(),
			Title:     data.Get("title").String(),
			Address:   data.Get("content").String(),
		}
	case "dice":
		return qq.SystemNotice{Kind: qq.NoticeDice, Value: int(data.Get("result").Int())}
	case "rps":
		return qq.SystemNotice{Kind: qq.NoticeRPS, Value: int(data.Get("result").Int())}
	case "poke":
		return qq.SystemNotice{Kind: qq.NoticePoke, Text: data.Get("name").String()}
	case "contact":
		return qq.Contact{
			Group: data.Get("type").String() == "group",
			ID:    data.Get("id").Int(),
		}
	default:
		return qq.Unsupported{Kind: kind}
	}
}

// parseJSONCard extracts the title and link of an app share.
func parseJSONCard(raw string) qq.Card {
	card := qq.Card{Format: "json", Data: raw}
	if !gjson.Valid(raw) {
		return card
	}
	parsed := gjson.Parse(raw)
	card.Title = firstNonEmpty(
		parsed.Get("meta.*.title").String(),
		parsed.Get("meta.*.desc").String(),
		parsed.Get("prompt").String(),
	)
	card.URL = firstNonEmpty(
		parsed.Get("meta.*.qqdocurl").String(),
		parsed.Get("meta.*.jumpUrl").String(),
		parsed.Get("meta.*.url").String(),
	)
	return card
}

// encodeChain converts elements to wire segments. Markers are dropped since
// the server would reject them; echoes are recognized by message id.
func encodeChain(elements []qq.Element, reply *qq.ReplyRef) (segments []Segment, marked bool) {
	if reply != nil {
		segments = append(segments, Segment{Type: "reply", Data: map[string]any{"id": strconv.FormatInt(reply.Seq, 10)}})
	}
	for _, el := range elements {
		if _, ok := el.(qq.Marker); ok {
			marked = true
			continue
		}
		if seg, ok := encodeElement(el); ok {
			segments = append(segments, seg)
		}
	}
	return segments, marked
}

func textSegment(text string) Segment {
	return Segment{Type: "text", Data: map[string]any{"text": text}}
}

func encodeElement(el qq.Element) (Segment, bool) {
	switch e := el.(type) {
	case qq.Text:
		return textSegment(e.Text), e.Text != ""
	case qq.Mention:
		target := strconv.FormatInt(e.UserID, 10)
		if e.IsAll() {
			target = "all"
		}
		return Segment{Type: "at", Data: map[string]any{"qq": target}}, true
	case qq.Face:
		return Segment{Type: "face", Data: map[string]any{"id": strconv.Itoa(e.ID)}}, true
	case qq.Image:
		data := map[string]any{"file": e.URL}
		if e.Flash {
			data["type"] = "flash"
		}
		return Segment{Type: "image", Data: data}, true
	case qq.Sticker:
		return Segment{Type: "image", Data: map[string]any{"file": e.URL, "sub_type": 1}}, true
	case qq.Voice:
		return Segment{Type: "record", Data: map[string]any{"file": e.URL}}, true
	case qq.Video:
		return Segment{Type: "video", Data: map[string]any{"file": e.URL}}, true
	case qq.File:
		return Segment{Type: "file", Data: map[string]any{"file": e.URL, "name": e.Name}}, e.URL != ""
	case qq.Poll:
		var sb strings.Builder
		sb.WriteString("[Poll] " + e.Question)
		for i, opt := range e.Options {
			sb.WriteString("\n" + strconv.Itoa(i+1) + ". " + opt)
		}
		return textSegment(sb.String()), true
	case qq.Contact:
		kind := "qq"
		if e.Group {
			kind = "group"
		}
		return Segment{Type: "contact", Data: map[string]any{"type": kind, "id": strconv.FormatInt(e.ID, 10)}}, true
	case qq.Location:
		return Segment{Type: "location", Data: map[string]any{
			"lat":     strconv.FormatFloat(e.Latitude, 'f', -1, 64),
			"lon":     strconv.FormatFloat(e.Longitude, 'f', -1, 64),
			"title":   e.Title,
			"content": e.Address,
		}}, true
	case qq.Card:
		if e.Format != "json" && e.Format != "xml" {
			return Segment{}, false
		}
		return Segment{Type: e.Format, Data: map[string]any{"data": e.Data}}, true
	case qq.ForwardBundle:
		return Segment{Type: "forward", Data: map[string]any{"id": e.ResID}}, true
	case qq.SystemNotice:
		switch e.Kind {
		case qq.NoticeDice:
			return Segment{Type: "dice", Data: map[string]any{}}, true
		case qq.NoticeRPS:
			return Segment{Type: "rps", Data: map[string]any{}}, true
		default:
			return Segment{}, false
		}
	case qq.Unsupported:
		return textSegment("[" + e.Kind + "]"), true
	default:
		return Segment{}, false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
