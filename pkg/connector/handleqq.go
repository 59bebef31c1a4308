// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/q2tg/pkg/database"
	"github.com/aiku/q2tg/pkg/qq"
)

// errNoFallback is returned by sendToTelegram when a send failed and there
// is nothing to re-upload.
var errNoFallback = errors.New("no media to re-upload")

// HandleQQMessage forwards one inbound QQ message to Telegram and records
// the correlation. Redelivered messages are ignored.
func (in *Instance) HandleQQMessage(ctx context.Context, msg *qq.Message) {
	in.forwardQQ(ctx, msg)
}

// forwardQQ does the work of HandleQQMessage and reports whether a new
// record was stored.
func (in *Instance) forwardQQ(ctx context.Context, msg *qq.Message) bool {
	log := in.log.With().
		Str("event_id", newEventID()).
		Int64("qq_room_id", int64(msg.Room)).
		Int64("sender_id", msg.SenderID).
		Int64("seq", msg.Seq).
		Logger()
	ctx = log.WithContext(ctx)

	defer in.lockRoom(msg.Room)()
	p := in.parseQQMessage(ctx, msg)
	if p == nil {
		return false
	}
	existing, err := in.bridge.DB.Message.FindByQQ(ctx, in.ID, int64(msg.Room), msg.SenderID, msg.Seq, msg.Rand)
	if err != nil {
		log.Err(err).Msg("Failed to check for existing record")
		return false
	}
	if existing != nil {
		log.Debug().Int("tg_msg_id", existing.TGMsgID).Msg("Message already forwarded, skipping")
		return false
	}

	flags := in.EffectiveFlags(p)
	sends := in.TranslateQQ(ctx, msg, flags)
	if len(sends) == 0 {
		log.Debug().Msg("Message produced nothing to send")
		return false
	}
	ids := in.bridge.sendAll(ctx, p.TGChat(), sends)
	if len(ids) == 0 {
		log.Warn().Msg("Failed to forward message to Telegram")
		return false
	}

	rec := in.bridge.DB.Message.New()
	rec.InstanceID = in.ID
	rec.QQRoomID = int64(msg.Room)
	rec.QQSenderID = msg.SenderID
	rec.Seq = msg.Seq
	rec.Rand = msg.Rand
	rec.PktNum = max(msg.PktNum, 1)
	rec.Time = msg.Time
	rec.TGChatID = p.TGChat()
	rec.TGMsgID = ids[0]
	rec.ExtraTGMsgIDs = ids[1:]
	rec.Nick = msg.SenderName
	rec.Brief = qq.Brief(msg.Elements)
	rec.RichHeader = flags.RichHeader() && in.bridge.Config.RichHeaderURL != ""
	rec.RenderedText = renderedHTML(sends)
	if err = rec.Insert(ctx); err != nil {
		log.Err(err).Msg("Failed to save message record")
		return false
	}
	log.Debug().Ints("tg_msg_ids", ids).Msg("Forwarded QQ message")
	return true
}

// parseQQMessage applies the echo and routing rules to an inbound message
// and returns the pair it should be forwarded to, or nil to skip it.
func (in *Instance) parseQQMessage(ctx context.Context, msg *qq.Message) *Pair {
	log := zerolog.Ctx(ctx)
	if qq.HasMarker(msg.Elements) {
		log.Trace().Msg("Skipping message sent by the bridge")
		return nil
	}
	if in.bridge.sent.has(msg.Room, msg.Seq) {
		log.Trace().Msg("Skipping echo of a bridged message")
		return nil
	}
	if msg.SenderID != in.QQUin() && in.bridge.instanceByQQUin(msg.SenderID) != nil {
		log.Trace().Int64("sender_id", msg.SenderID).Msg("Skipping message of another federation account")
		return nil
	}
	p := in.Pairs.Find(msg.Room)
	if p == nil {
		p = in.autoCreatePrivateChat(ctx, msg)
	}
	if p == nil {
		log.Trace().Msg("Room is not linked")
		return nil
	}
	if in.EffectiveFlags(p).Q2TGDisabled() {
		log.Debug().Msg("QQ to Telegram forwarding disabled for pair")
		return nil
	}
	return p
}

// autoCreatePrivateChat creates and links a Telegram chat for a QQ private
// chat of a personal-mode instance.
func (in *Instance) autoCreatePrivateChat(ctx context.Context, msg *qq.Message) *Pair {
	if msg.Room.IsGroup() || in.Mode() != ModePersonal || in.Flags().NoAutoCreatePM() || in.bridge.ChatCreator == nil {
		return nil
	}
	log := zerolog.Ctx(ctx)
	title := msg.SenderName
	if title == "" {
		title = strconv.FormatInt(msg.Room.PeerID(), 10)
	}
	chatID, err := in.bridge.ChatCreator.CreatePrivateChat(ctx, title)
	if err != nil {
		log.Err(err).Msg("Failed to create Telegram chat for QQ private chat")
		return nil
	}
	p, err := in.bridge.LinkPair(ctx, in, msg.Room, chatID, 0)
	if err != nil {
		log.Err(err).Int64("tg_chat_id", chatID).Msg("Failed to link new private chat")
		return nil
	}
	log.Info().Int64("tg_chat_id", chatID).Msg("Created Telegram chat for QQ private chat")
	return p
}

// sendAll delivers sends in order and returns the ids of every created
// Telegram message. Failed sends are logged and skipped.
func (b *Bridge) sendAll(ctx context.Context, chatID int64, sends []*OutboundMessage) []int {
	var ids []int
	for i, out := range sends {
		got, err := b.sendToTelegram(ctx, chatID, out)
		if err != nil {
			zerolog.Ctx(ctx).Err(err).Int("part", i).Msg("Failed to send message part to Telegram")
			continue
		}
		ids = append(ids, got...)
	}
	return ids
}

// sendToTelegram sends one message. Media is first handed to Telegram by
// URL; if that fails it is downloaded and uploaded instead.
func (b *Bridge) sendToTelegram(ctx context.Context, chatID int64, out *OutboundMessage) ([]int, error) {
	ids, err := b.TG.Send(ctx, chatID, out)
	if err == nil {
		return ids, nil
	}
	retry, fetchErr := b.fetchMedia(ctx, out)
	if fetchErr != nil {
		if errors.Is(fetchErr, errNoFallback) {
			return nil, err
		}
		return nil, fmt.Errorf("%w (re-upload failed: %w)", err, fetchErr)
	}
	zerolog.Ctx(ctx).Debug().Err(err).Msg("Telegram refused media URL, re-uploading")
	return b.TG.Send(ctx, chatID, retry)
}

// fetchMedia returns a copy of out with every URL-only media item
// downloaded.
func (b *Bridge) fetchMedia(ctx context.Context, out *OutboundMessage) (*OutboundMessage, error) {
	if b.Media == nil || !slices.ContainsFunc(out.Media, func(m Media) bool { return m.Data == nil && m.URL != "" }) {
		return nil, errNoFallback
	}
	retry := *out
	retry.Media = slices.Clone(out.Media)
	for i := range retry.Media {
		m := &retry.Media[i]
		if m.Data != nil || m.URL == "" {
			continue
		}
		data, mimeType, err := b.Media.Fetch(ctx, m.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", m.URL, err)
		}
		m.Data = data
		if m.Kind == MediaPhoto && mimeType == "image/gif" {
			m.Kind = MediaAnimation
		}
		if m.FileName == "" {
			m.FileName = m.Kind.String() + extensionFor(mimeType)
		}
	}
	return &retry, nil
}

// HandleQQRecall deletes the Telegram mirror of a recalled QQ message. The
// lookup is retried a few times since the recall can overtake the forward.
func (in *Instance) HandleQQRecall(ctx context.Context, evt *qq.RecallEvent) {
	log := in.log.With().
		Str("event_id", newEventID()).
		Int64("qq_room_id", int64(evt.Room)).
		Int64("seq", evt.Seq).
		Logger()
	ctx = log.WithContext(ctx)

	rec, err := in.findForRecall(ctx, evt)
	if err != nil {
		log.Err(err).Msg("Failed to look up recalled message")
		return
	}
	if rec == nil {
		log.Debug().Msg("Recalled message was never forwarded")
		return
	}
	p := in.Pairs.Find(evt.Room)
	if in.EffectiveFlags(p).NoDeleteMessage() {
		log.Debug().Msg("Keeping Telegram messages of recalled message")
		return
	}
	if err = in.bridge.TG.Delete(ctx, rec.TGChatID, rec.AllTGMsgIDs()...); err != nil {
		log.Warn().Err(err).Msg("Failed to delete Telegram messages of recalled message")
	}
	if err = rec.Delete(ctx); err != nil {
		log.Err(err).Msg("Failed to delete message record")
		return
	}
	log.Debug().Ints("tg_msg_ids", rec.AllTGMsgIDs()).Msg("Mirrored QQ recall")
}

func (in *Instance) findForRecall(ctx context.Context, evt *qq.RecallEvent) (*database.Message, error) {
	cfg := in.bridge.Config
	for attempt := 1; ; attempt++ {
		rec, err := in.bridge.DB.Message.FindByQQ(ctx, in.ID, int64(evt.Room), evt.SenderID, evt.Seq, evt.Rand)
		if err != nil || rec != nil || attempt >= cfg.RecallRetryAttempts {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RecallRetryDelay):
		}
	}
}
