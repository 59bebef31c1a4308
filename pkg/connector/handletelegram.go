// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/aiku/q2tg/pkg/database"
	"github.com/aiku/q2tg/pkg/qq"
)

func (b *Bridge) handleTelegramMessage(ctx context.Context, msg *telego.Message) {
	log := b.log.With().
		Str("event_id", newEventID()).
		Int64("tg_chat_id", msg.Chat.ID).
		Int("tg_msg_id", msg.MessageID).
		Logger()
	ctx = log.WithContext(ctx)

	switch {
	case msg.MigrateToChatID != 0:
		b.handleMigration(ctx, msg.Chat.ID, msg.MigrateToChatID)
		return
	case msg.LeftChatMember != nil && msg.LeftChatMember.ID == b.TG.BotID():
		b.handleBotRemoved(ctx, msg.Chat.ID)
		return
	}

	inst, p := b.pairForChat(msg.Chat.ID)
	if isCommand(msg) && b.handleCommand(ctx, inst, p, msg) {
		return
	}
	if p == nil {
		log.Trace().Msg("Chat is not linked")
		return
	}
	inst.HandleTelegramMessage(ctx, p, msg)
}

// HandleTelegramMessage forwards a Telegram message of a linked chat to QQ.
// Redelivered messages are ignored.
func (in *Instance) HandleTelegramMessage(ctx context.Context, p *Pair, msg *telego.Message) {
	log := zerolog.Ctx(ctx)
	if !in.shouldForwardTelegram(ctx, p, msg) {
		return
	}
	existing, err := in.bridge.DB.Message.FindByTG(ctx, in.ID, msg.Chat.ID, msg.MessageID)
	if err != nil {
		log.Err(err).Msg("Failed to check for existing record")
		return
	}
	if existing != nil {
		log.Debug().Int64("seq", existing.Seq).Msg("Message already forwarded, skipping")
		return
	}
	in.forwardTelegram(ctx, p, msg)
}

// shouldForwardTelegram applies the echo rules to a Telegram message.
func (in *Instance) shouldForwardTelegram(ctx context.Context, p *Pair, msg *telego.Message) bool {
	log := zerolog.Ctx(ctx)
	flags := in.EffectiveFlags(p)
	switch {
	case msg.From == nil:
		log.Trace().Msg("Skipping message without sender")
	case msg.From.ID == in.bridge.TG.BotID():
		log.Trace().Msg("Skipping message sent by the bridge")
	case isServiceMessage(msg):
		log.Trace().Msg("Skipping service message")
	case flags.TG2QDisabled():
		log.Debug().Msg("Telegram to QQ forwarding disabled for pair")
	case msg.From.IsBot && flags.NoForwardOtherBot():
		log.Debug().Str("bot", msg.From.Username).Msg("Skipping message from other bot")
	default:
		return true
	}
	return false
}

func isServiceMessage(msg *telego.Message) bool {
	return len(msg.NewChatMembers) > 0 ||
		msg.LeftChatMember != nil ||
		msg.NewChatTitle != "" ||
		len(msg.NewChatPhoto) > 0 ||
		msg.DeleteChatPhoto ||
		msg.GroupChatCreated ||
		msg.SupergroupChatCreated ||
		msg.PinnedMessage != nil ||
		msg.MigrateFromChatID != 0 ||
		msg.MigrateToChatID != 0
}

// forwardTelegram sends a Telegram message to QQ and records the
// correlation.
func (in *Instance) forwardTelegram(ctx context.Context, p *Pair, msg *telego.Message) {
	log := zerolog.Ctx(ctx)
	sender, attributed := in.bridge.ResolveSender(ctx, in, p, msg.From.ID)
	room := p.QQRoom()
	sends := in.translateTelegram(ctx, msg, room, attributed)
	if len(sends) == 0 {
		log.Debug().Msg("Message produced nothing to send")
		return
	}

	var refs []qq.MessageRef
	var sent []qq.Element
	var rendered []string
	for i, s := range sends {
		ref, err := sender.QQ.SendMessage(ctx, room, s.elements, s.reply)
		if err != nil {
			log.Err(err).Int("part", i).Int64("sender_instance", sender.ID).Msg("Failed to send message part to QQ")
			continue
		}
		in.bridge.sent.add(room, ref.Seq)
		refs = append(refs, ref)
		sent = append(sent, s.elements...)
		rendered = append(rendered, qq.Brief(s.elements))
	}
	if len(refs) == 0 {
		log.Warn().Msg("Failed to forward message to QQ")
		return
	}

	rec := in.bridge.DB.Message.New()
	rec.InstanceID = in.ID
	rec.QQRoomID = int64(room)
	rec.QQSenderID = sender.QQUin()
	rec.Seq = refs[0].Seq
	rec.Rand = refs[0].Rand
	rec.PktNum = 1
	rec.Time = refs[0].Time
	if rec.Time.IsZero() {
		rec.Time = time.Unix(msg.Date, 0)
	}
	rec.TGChatID = msg.Chat.ID
	rec.TGMsgID = msg.MessageID
	rec.TGSenderID = msg.From.ID
	rec.Nick = in.bridge.tgDisplayname(msg.From)
	rec.Brief = qq.Brief(sent)
	rec.RenderedText = strings.Join(rendered, "\n")
	for _, ref := range refs[1:] {
		rec.ExtraQQ = append(rec.ExtraQQ, database.QQRef{Seq: ref.Seq, Rand: ref.Rand})
	}
	if err := rec.Insert(ctx); err != nil {
		log.Err(err).Msg("Failed to save message record")
		return
	}
	log.Debug().
		Int64("seq", rec.Seq).
		Bool("attributed", attributed).
		Int64("sender_instance", sender.ID).
		Msg("Forwarded Telegram message")
}

// isValidEdit reports whether an edited message changed user content.
// Telegram also reports pins, reactions and similar updates as edits.
func isValidEdit(msg *telego.Message) bool {
	if msg.EditDate == 0 || isServiceMessage(msg) {
		return false
	}
	return msg.Text != "" || msg.Caption != "" || len(msg.Photo) > 0 ||
		msg.Animation != nil || msg.Document != nil || msg.Video != nil
}

// handleTelegramEdit replaces the QQ mirror of an edited message: the old
// QQ messages are recalled and the new content is forwarded.
func (b *Bridge) handleTelegramEdit(ctx context.Context, msg *telego.Message) {
	log := b.log.With().
		Str("event_id", newEventID()).
		Int64("tg_chat_id", msg.Chat.ID).
		Int("tg_msg_id", msg.MessageID).
		Logger()
	ctx = log.WithContext(ctx)
	if msg.From != nil && msg.From.ID == b.TG.BotID() {
		return
	}
	if !isValidEdit(msg) {
		log.Trace().Msg("Ignoring edit without content change")
		return
	}
	inst, p := b.pairForChat(msg.Chat.ID)
	if p == nil || !inst.shouldForwardTelegram(ctx, p, msg) {
		return
	}
	rec, err := b.DB.Message.FindByTG(ctx, inst.ID, msg.Chat.ID, msg.MessageID)
	if err != nil {
		log.Err(err).Msg("Failed to look up edited message")
		return
	}
	if rec == nil {
		log.Debug().Msg("Edited message was never forwarded")
		return
	}
	inst.recallRecord(rec)
	if err = rec.Delete(ctx); err != nil {
		log.Err(err).Msg("Failed to delete record of edited message")
		return
	}
	inst.forwardTelegram(ctx, p, msg)
}

// HandleTelegramDelete recalls the QQ mirrors of deleted Telegram messages.
// The Bot API does not report deletions, so this is called by deployments
// that learn about them elsewhere, and by /rm.
func (b *Bridge) HandleTelegramDelete(ctx context.Context, chatID int64, msgIDs ...int) {
	inst, p := b.pairForChat(chatID)
	if p == nil {
		return
	}
	for _, msgID := range msgIDs {
		rec, err := b.DB.Message.FindByTG(ctx, inst.ID, chatID, msgID)
		if err != nil {
			inst.log.Warn().Err(err).Int("tg_msg_id", msgID).Msg("Failed to look up deleted message")
			continue
		}
		if rec == nil {
			continue
		}
		inst.recallRecord(rec)
		if err = rec.Delete(ctx); err != nil {
			inst.log.Warn().Err(err).Int("tg_msg_id", msgID).Msg("Failed to delete message record")
		}
	}
}

// recallRecord queues the recall of every QQ message of a record. Messages
// are recalled by the account that sent them when it belongs to the
// federation.
func (in *Instance) recallRecord(rec *database.Message) {
	client := in.QQ
	if sender := in.bridge.instanceByQQUin(rec.QQSenderID); sender != nil {
		client = sender.QQ
	}
	for _, ref := range rec.AllQQ() {
		in.bridge.Recalls.Enqueue(client, qq.RoomID(rec.QQRoomID), ref.Seq, ref.Rand)
	}
}

func (b *Bridge) handleMigration(ctx context.Context, oldChatID, newChatID int64) {
	log := zerolog.Ctx(ctx)
	for _, inst := range b.Instances() {
		p, err := inst.Pairs.MigrateTG(ctx, oldChatID, newChatID)
		if errors.Is(err, ErrNotLinked) {
			continue
		} else if err != nil {
			log.Err(err).Int64("instance_id", inst.ID).Msg("Failed to migrate pair")
			continue
		}
		log.Info().Str("pair", p.String()).Msg("Pair follows supergroup migration")
	}
}

func (b *Bridge) handleMyChatMember(ctx context.Context, upd *telego.ChatMemberUpdated) {
	if upd.NewChatMember == nil {
		return
	}
	switch upd.NewChatMember.MemberStatus() {
	case "left", "kicked":
		b.handleBotRemoved(ctx, upd.Chat.ID)
	}
}

// handleBotRemoved unlinks the pair of a chat the bot can no longer post
// to.
func (b *Bridge) handleBotRemoved(ctx context.Context, chatID int64) {
	inst, p := b.pairForChat(chatID)
	if p == nil {
		return
	}
	if err := inst.Pairs.Remove(ctx, p); err != nil {
		inst.log.Err(err).Str("pair", p.String()).Msg("Failed to unlink pair after bot removal")
		return
	}
	inst.log.Info().Str("pair", p.String()).Msg("Bot was removed from Telegram chat, pair unlinked")
}
