// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mymmrac/telego"

	"github.com/aiku/q2tg/pkg/connector/tgfmt"
	"github.com/aiku/q2tg/pkg/qq"
)

// bridgeMarker is attached to every QQ message the bridge sends.
const bridgeMarker = "q2tg"

// qqSend is one QQ message produced from a Telegram message.
type qqSend struct {
	elements []qq.Element
	reply    *qq.ReplyRef
}

// translateTelegram converts a Telegram message into the QQ messages that
// mirror it, in order. Voice, video and locations travel alone; everything
// else shares the first message. attributed messages carry no name header.
func (in *Instance) translateTelegram(ctx context.Context, msg *telego.Message, room qq.RoomID, attributed bool) []qqSend {
	var chain []qq.Element
	if room.IsGroup() && !attributed {
		chain = append(chain, qq.Text{Text: in.bridge.tgDisplayname(msg.From) + ":\n"})
	}
	headerLen := len(chain)

	var alone []qq.Element
	switch {
	case len(msg.Photo) > 0:
		chain = append(chain, in.tgImage(ctx, msg.Photo[len(msg.Photo)-1].FileID, "", "[Image]"))
	case msg.Animation != nil:
		chain = append(chain, in.tgImage(ctx, msg.Animation.FileID, msg.Animation.FileName, "[GIF]"))
	case msg.Sticker != nil:
		if msg.Sticker.IsAnimated || msg.Sticker.IsVideo {
			chain = append(chain, qq.Text{Text: "[Sticker " + msg.Sticker.Emoji + "]"})
		} else {
			chain = append(chain, in.tgImage(ctx, msg.Sticker.FileID, "", "[Sticker "+msg.Sticker.Emoji+"]"))
		}
	case msg.Document != nil:
		chain = append(chain, qq.Text{Text: fmt.Sprintf("[File] %s (%s)\n",
			msg.Document.FileName, humanize.Bytes(uint64(max(msg.Document.FileSize, 0))))})
	case msg.Voice != nil:
		alone = append(alone, in.tgMedia(ctx, msg.Voice.FileID, func(url string) qq.Element {
			return qq.Voice{URL: url, Duration: msg.Voice.Duration}
		}, "[Voice]"))
	case msg.Audio != nil:
		alone = append(alone, in.tgMedia(ctx, msg.Audio.FileID, func(url string) qq.Element {
			return qq.Voice{URL: url, Duration: msg.Audio.Duration}
		}, "[Audio]"))
	case msg.Video != nil:
		alone = append(alone, in.tgMedia(ctx, msg.Video.FileID, func(url string) qq.Element {
			return qq.Video{URL: url, Name: msg.Video.FileName}
		}, "[Video]"))
	case msg.VideoNote != nil:
		alone = append(alone, in.tgMedia(ctx, msg.VideoNote.FileID, func(url string) qq.Element {
			return qq.Video{URL: url}
		}, "[Video]"))
	case msg.Venue != nil:
		alone = append(alone, qq.Location{
			Latitude:  msg.Venue.Location.Latitude,
			Longitude: msg.Venue.Location.Longitude,
			Title:     msg.Venue.Title,
			Address:   msg.Venue.Address,
		})
	case msg.Location != nil:
		alone = append(alone, qq.Location{Latitude: msg.Location.Latitude, Longitude: msg.Location.Longitude})
	case msg.Dice != nil:
		chain = append(chain, qq.Text{Text: "[Dice " + msg.Dice.Emoji + " " + strconv.Itoa(msg.Dice.Value) + "]"})
	case msg.Poll != nil:
		chain = append(chain, qq.Poll{Question: msg.Poll.Question, Options: pollOptions(msg.Poll)})
	case msg.Contact != nil:
		name := strings.TrimSpace(msg.Contact.FirstName + " " + msg.Contact.LastName)
		chain = append(chain, qq.Text{Text: "[Contact] " + name + " " + msg.Contact.PhoneNumber})
	}

	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}
	if text != "" {
		if len(chain) > headerLen {
			chain = append(chain, qq.Text{Text: "\n"})
		}
		chain = append(chain, tgfmt.Parse(text, entities, &tgfmt.Options{ResolveMention: in.bridge.qqForTGUser})...)
	}

	var sends []qqSend
	if len(chain) > headerLen || (headerLen > 0 && len(alone) > 0) {
		sends = append(sends, qqSend{elements: chain})
	}
	for _, el := range alone {
		sends = append(sends, qqSend{elements: []qq.Element{el}})
	}
	for i := range sends {
		sends[i].elements = append(sends[i].elements, qq.Marker{Data: bridgeMarker})
	}
	if len(sends) > 0 && msg.ReplyToMessage != nil {
		sends[0].reply = in.resolveTGReply(ctx, msg.Chat.ID, msg.ReplyToMessage.MessageID)
	}
	return sends
}

func pollOptions(poll *telego.Poll) []string {
	options := make([]string, len(poll.Options))
	for i, opt := range poll.Options {
		options[i] = opt.Text
	}
	return options
}

// tgImage returns an image element for a Telegram file, or a text
// placeholder when the file cannot be resolved.
func (in *Instance) tgImage(ctx context.Context, fileID, name, placeholder string) qq.Element {
	return in.tgMedia(ctx, fileID, func(url string) qq.Element {
		return qq.Image{URL: url, Name: name}
	}, placeholder)
}

func (in *Instance) tgMedia(ctx context.Context, fileID string, build func(url string) qq.Element, placeholder string) qq.Element {
	url, err := in.bridge.TG.FileURL(ctx, fileID)
	if err != nil {
		in.log.Warn().Err(err).Str("file_id", fileID).Msg("Failed to get Telegram file URL")
		return qq.Text{Text: placeholder}
	}
	return build(url)
}

// resolveTGReply returns the QQ quote for a replied-to Telegram message, or
// nil when it was never bridged.
func (in *Instance) resolveTGReply(ctx context.Context, chatID int64, msgID int) *qq.ReplyRef {
	rec, err := in.bridge.DB.Message.FindByTG(ctx, in.ID, chatID, msgID)
	if err != nil {
		in.log.Warn().Err(err).Int("reply_to", msgID).Msg("Failed to look up replied message")
		return nil
	}
	if rec == nil {
		return nil
	}
	return &qq.ReplyRef{Seq: rec.Seq, Rand: rec.Rand, SenderID: rec.QQSenderID, Time: rec.Time}
}
