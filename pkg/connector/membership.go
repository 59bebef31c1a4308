// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"html"
	"strconv"

	"github.com/aiku/q2tg/pkg/qq"
)

// memberName returns a display name for a QQ user, falling back to the uin.
func (in *Instance) memberName(ctx context.Context, room qq.RoomID, userID int64, known string) string {
	if known != "" {
		return known
	}
	name, err := in.QQ.GetMemberName(ctx, room, userID)
	if err != nil || name == "" {
		if err != nil {
			in.log.Debug().Err(err).Int64("user_id", userID).Msg("Failed to get member name")
		}
		return strconv.FormatInt(userID, 10)
	}
	return name
}

// sendNotice posts a system line to the Telegram side of a pair without
// recording it.
func (in *Instance) sendNotice(ctx context.Context, p *Pair, text string) {
	if _, err := in.bridge.sendToTelegram(ctx, p.TGChat(), &OutboundMessage{HTML: text}); err != nil {
		in.log.Warn().Err(err).Int64("tg_chat_id", p.TGChat()).Msg("Failed to send notice")
	}
}

func (in *Instance) handleMemberJoin(ctx context.Context, evt *qq.MemberJoinEvent) {
	p := in.Pairs.Find(evt.Room)
	if p == nil || in.EffectiveFlags(p).JoinNoticeDisabled() || in.EffectiveFlags(p).Q2TGDisabled() {
		return
	}
	name := in.memberName(ctx, evt.Room, evt.UserID, evt.Name)
	in.sendNotice(ctx, p, "<b>"+html.EscapeString(name)+"</b> joined the group")
}

func (in *Instance) handlePoke(ctx context.Context, evt *qq.PokeEvent) {
	p := in.Pairs.Find(evt.Room)
	if p == nil || in.EffectiveFlags(p).PokeDisabled() || in.EffectiveFlags(p).Q2TGDisabled() {
		return
	}
	operator := in.memberName(ctx, evt.Room, evt.OperatorID, evt.OperatorName)
	target := in.memberName(ctx, evt.Room, evt.TargetID, evt.TargetName)
	action := evt.Action
	if action == "" {
		action = "poked"
	}
	text := operator + " " + action + " " + target
	if evt.Suffix != "" {
		text += " " + evt.Suffix
	}
	in.sendNotice(ctx, p, html.EscapeString(text))
}

// handleRoomLeft unlinks a pair whose QQ room is gone.
func (in *Instance) handleRoomLeft(ctx context.Context, evt *qq.RoomLeftEvent) {
	p := in.Pairs.Find(evt.Room)
	if p == nil {
		return
	}
	var reason string
	switch evt.Reason {
	case qq.LeaveKicked:
		reason = "The QQ account was removed from the group."
	case qq.LeaveDismissed:
		reason = "The QQ group was dismissed."
	case qq.LeaveFriendDeleted:
		reason = "The QQ friend was deleted."
	default:
		reason = "The QQ chat is no longer available."
	}
	in.sendNotice(ctx, p, html.EscapeString(reason+" This chat is no longer linked."))
	if err := in.Pairs.Remove(ctx, p); err != nil {
		in.log.Err(err).Str("pair", p.String()).Msg("Failed to unlink pair after leaving QQ room")
	}
}

// handleEssence pins the Telegram mirror of a message that became a QQ
// essence message.
func (in *Instance) handleEssence(ctx context.Context, evt *qq.EssenceEvent) {
	if !evt.Added {
		return
	}
	p := in.Pairs.Find(evt.Room)
	if p == nil || in.EffectiveFlags(p).NoQuotePin() {
		return
	}
	rec, err := in.bridge.DB.Message.FindByQQ(ctx, in.ID, int64(evt.Room), evt.SenderID, evt.Seq, evt.Rand)
	if err != nil || rec == nil {
		if err != nil {
			in.log.Warn().Err(err).Msg("Failed to look up essence message")
		}
		return
	}
	in.bridge.detach(ctx, "pin essence", func(ctx context.Context) error {
		return in.bridge.TG.Pin(ctx, rec.TGChatID, rec.TGMsgID)
	})
}
