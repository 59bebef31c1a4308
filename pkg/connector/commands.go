// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/aiku/q2tg/pkg/database"
	"github.com/aiku/q2tg/pkg/qq"
)

const defaultRecoverCount = 20

func isCommand(msg *telego.Message) bool {
	return msg.From != nil && strings.HasPrefix(msg.Text, "/")
}

// parseCommand splits a command message into its lowercased name, without
// the bot username suffix, and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name, _, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	return strings.ToLower(name), fields[1:]
}

// commandContext carries what a command handler needs about its message.
type commandContext struct {
	inst *Instance
	pair *Pair
	msg  *telego.Message
	args []string
}

func (cc *commandContext) chatID() int64 { return cc.msg.Chat.ID }
func (cc *commandContext) userID() int64 { return cc.msg.From.ID }

type commandHandler func(ctx context.Context, cc *commandContext)

// handleCommand runs a bot command. It returns false for commands the bridge
// does not know, which are then forwarded like normal messages. inst and p
// are nil in chats that are not linked; there, commands reach the instance
// owned by the sender.
func (b *Bridge) handleCommand(ctx context.Context, inst *Instance, p *Pair, msg *telego.Message) bool {
	name, args := parseCommand(msg.Text)
	handler, ok := b.commands()[name]
	if !ok {
		return false
	}
	if inst == nil {
		inst = b.instanceByOwner(msg.From.ID)
	}
	if inst == nil {
		zerolog.Ctx(ctx).Debug().Str("command", name).Msg("Ignoring command from unknown user in unlinked chat")
		return true
	}
	zerolog.Ctx(ctx).Debug().Str("command", name).Int64("user_id", msg.From.ID).Msg("Handling command")
	handler(ctx, &commandContext{inst: inst, pair: p, msg: msg, args: args})
	return true
}

func (b *Bridge) commands() map[string]commandHandler {
	return map[string]commandHandler{
		"link":    b.cmdLink,
		"unlink":  b.cmdUnlink,
		"enable":  b.cmdEnable,
		"disable": b.cmdDisable,
		"info":    b.cmdInfo,
		"rm":      b.cmdRemove,
		"recover": b.cmdRecover,
		"search":  b.cmdSearch,
		"mode":    b.cmdMode,
		"flags":   b.cmdFlags,
	}
}

// reply posts a permanent answer to a command.
func (b *Bridge) reply(ctx context.Context, cc *commandContext, text string) {
	out := &OutboundMessage{HTML: text, ReplyTo: cc.msg.MessageID}
	if _, err := b.sendToTelegram(ctx, cc.chatID(), out); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to send command reply")
	}
}

// notice posts a transient message that is removed after the notice TTL.
func (b *Bridge) notice(ctx context.Context, chatID int64, replyTo int, text string) {
	ids, err := b.sendToTelegram(ctx, chatID, &OutboundMessage{HTML: text, ReplyTo: replyTo})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to send notice")
		return
	}
	ttl := b.Config.NoticeTTL
	b.detach(ctx, "remove notice", func(ctx context.Context) error {
		time.Sleep(ttl)
		return b.TG.Delete(ctx, chatID, ids...)
	})
}

func (b *Bridge) isOwner(cc *commandContext) bool {
	return cc.inst.Owner() != 0 && cc.inst.Owner() == cc.userID()
}

// isAdmin reports whether the sender may change the settings of the chat.
func (b *Bridge) isAdmin(ctx context.Context, cc *commandContext) bool {
	if b.isOwner(cc) {
		return true
	}
	if cc.msg.Chat.Type == telego.ChatTypePrivate {
		return false
	}
	role, err := b.TG.GetMemberRole(ctx, cc.chatID(), cc.userID())
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to get member role")
		return false
	}
	return role.CanDelete()
}

// requirePair answers in unlinked chats and reports whether cc has a pair.
func (b *Bridge) requirePair(ctx context.Context, cc *commandContext) bool {
	if cc.pair == nil {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "This chat is not linked to a QQ chat.")
		return false
	}
	return true
}

// cmdLink links the current chat: /link group <id> or /link private <uin>.
func (b *Bridge) cmdLink(ctx context.Context, cc *commandContext) {
	if !b.isOwner(cc) {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Only the owner of the QQ account can link chats.")
		return
	}
	if cc.pair != nil {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "This chat is already linked to "+html.EscapeString(cc.pair.QQRoom().String())+".")
		return
	}
	if len(cc.args) != 2 || (cc.args[0] != "group" && cc.args[0] != "private") {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Usage: /link group|private &lt;QQ number&gt;")
		return
	}
	peerID, err := ParseChatID(cc.args[1])
	if err != nil || peerID <= 0 {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Invalid QQ number.")
		return
	}
	room := MakeQQRoomID(peerID, cc.args[0] == "group")
	p, err := b.LinkPair(ctx, cc.inst, room, cc.chatID(), 0)
	if errors.Is(err, ErrPairExists) {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "That QQ chat or this Telegram chat is already linked.")
		return
	} else if err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("Failed to link chat")
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Failed to link chat.")
		return
	}
	b.reply(ctx, cc, "Linked with "+html.EscapeString(p.QQRoom().String())+".")
}

func (b *Bridge) cmdUnlink(ctx context.Context, cc *commandContext) {
	if !b.requirePair(ctx, cc) {
		return
	}
	if !b.isOwner(cc) {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Only the owner of the QQ account can unlink chats.")
		return
	}
	if err := cc.inst.Pairs.Remove(ctx, cc.pair); err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("Failed to unlink chat")
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Failed to unlink chat.")
		return
	}
	b.reply(ctx, cc, "Unlinked from "+html.EscapeString(cc.pair.QQRoom().String())+".")
}

// directionFlags maps the optional direction argument of /enable and
// /disable to flags.
func directionFlags(args []string) (Flags, bool) {
	if len(args) == 0 {
		return FlagDisableQ2TG | FlagDisableTG2Q, true
	}
	switch strings.ToLower(args[0]) {
	case "q2tg":
		return FlagDisableQ2TG, true
	case "tg2q":
		return FlagDisableTG2Q, true
	default:
		return 0, false
	}
}

func (b *Bridge) cmdEnable(ctx context.Context, cc *commandContext) {
	b.setDirection(ctx, cc, true)
}

func (b *Bridge) cmdDisable(ctx context.Context, cc *commandContext) {
	b.setDirection(ctx, cc, false)
}

func (b *Bridge) setDirection(ctx context.Context, cc *commandContext, enable bool) {
	if !b.requirePair(ctx, cc) {
		return
	}
	if !b.isAdmin(ctx, cc) {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Only administrators can change forwarding.")
		return
	}
	flags, ok := directionFlags(cc.args)
	if !ok {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Usage: /enable|/disable [q2tg|tg2q]")
		return
	}
	newFlags := cc.pair.Flags()
	if enable {
		newFlags = newFlags.Without(flags)
	} else {
		newFlags = newFlags.With(flags)
	}
	if err := cc.inst.Pairs.SetFlags(ctx, cc.pair, newFlags); err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("Failed to update pair flags")
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Failed to save settings.")
		return
	}
	state := "enabled"
	if !enable {
		state = "disabled"
	}
	b.reply(ctx, cc, fmt.Sprintf("Forwarding %s. Flags: %s", state, html.EscapeString(newFlags.String())))
}

// cmdInfo shows the correlation of the replied-to message, or the pair
// settings without a reply.
func (b *Bridge) cmdInfo(ctx context.Context, cc *commandContext) {
	if !b.requirePair(ctx, cc) {
		return
	}
	if cc.msg.ReplyToMessage == nil {
		count, err := b.DB.Message.CountByRoom(ctx, cc.inst.ID, int64(cc.pair.QQRoom()))
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to count messages")
		}
		b.reply(ctx, cc, fmt.Sprintf("<b>QQ chat:</b> %s\n<b>Mode:</b> %s\n<b>Pair flags:</b> %s\n<b>Instance flags:</b> %s\n<b>Bridged messages:</b> %s",
			html.EscapeString(cc.pair.QQRoom().String()),
			cc.inst.Mode(),
			html.EscapeString(cc.pair.Flags().String()),
			html.EscapeString(cc.inst.Flags().String()),
			humanize.Comma(int64(count))))
		return
	}
	rec, err := b.DB.Message.FindByTG(ctx, cc.inst.ID, cc.chatID(), cc.msg.ReplyToMessage.MessageID)
	if err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("Failed to look up message")
	}
	if rec == nil {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "No QQ message is known for that message.")
		return
	}
	b.reply(ctx, cc, formatRecordInfo(rec))
}

func formatRecordInfo(rec *database.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>QQ chat:</b> %s\n", html.EscapeString(qq.RoomID(rec.QQRoomID).String()))
	fmt.Fprintf(&sb, "<b>Sender:</b> %s (%d)\n", html.EscapeString(rec.Nick), rec.QQSenderID)
	if rec.TGSenderID != 0 {
		fmt.Fprintf(&sb, "<b>Telegram sender:</b> <a href=\"%s\">%d</a>\n", MakeUserLink(rec.TGSenderID), rec.TGSenderID)
	}
	fmt.Fprintf(&sb, "<b>Seq:</b> %d, <b>rand:</b> %d\n", rec.Seq, rec.Rand)
	fmt.Fprintf(&sb, "<b>Sent:</b> %s (%s)\n", rec.Time.Format(time.DateTime), humanize.Time(rec.Time))
	ids := make([]string, 0, len(rec.ExtraTGMsgIDs)+1)
	for _, id := range rec.AllTGMsgIDs() {
		ids = append(ids, strconv.Itoa(id))
	}
	fmt.Fprintf(&sb, "<b>Telegram messages:</b> %s", strings.Join(ids, ", "))
	if len(rec.ExtraQQ) > 0 {
		fmt.Fprintf(&sb, "\n<b>QQ parts:</b> %d", len(rec.AllQQ()))
	}
	if rec.RenderedText != "" {
		fmt.Fprintf(&sb, "\n<b>Posted:</b>\n<pre>%s</pre>", html.EscapeString(rec.RenderedText))
	}
	return sb.String()
}

// cmdRemove deletes the replied-to message on both sides.
func (b *Bridge) cmdRemove(ctx context.Context, cc *commandContext) {
	if !b.requirePair(ctx, cc) {
		return
	}
	target := cc.msg.ReplyToMessage
	if target == nil {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Reply to the message you want to remove.")
		return
	}
	log := zerolog.Ctx(ctx)
	rec, err := b.DB.Message.FindByTG(ctx, cc.inst.ID, cc.chatID(), target.MessageID)
	if err != nil {
		log.Err(err).Msg("Failed to look up message to remove")
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Failed to look up that message, try again later.")
		return
	}
	if !b.canRemove(ctx, cc, target, rec) {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "You can only remove your own messages.")
		return
	}

	tgIDs := []int{target.MessageID}
	if rec != nil {
		cc.inst.recallRecord(rec)
		tgIDs = rec.AllTGMsgIDs()
		if err = rec.Delete(ctx); err != nil {
			log.Err(err).Msg("Failed to delete message record")
		}
	}
	if err = b.TG.Delete(ctx, cc.chatID(), tgIDs...); err != nil {
		log.Warn().Err(err).Msg("Failed to delete Telegram messages")
	}
	if err = b.TG.Delete(ctx, cc.chatID(), cc.msg.MessageID); err != nil {
		log.Debug().Err(err).Msg("Failed to delete /rm command")
		b.notice(ctx, cc.chatID(), 0, "Message removed.")
	}
}

// canRemove applies the /rm permission rules: senders may remove what they
// sent, the owner of a personal-mode instance may remove what their QQ
// account sent, and in group mode chat administrators may remove anything.
func (b *Bridge) canRemove(ctx context.Context, cc *commandContext, target *telego.Message, rec *database.Message) bool {
	if rec != nil && rec.TGSenderID != 0 && rec.TGSenderID == cc.userID() {
		return true
	}
	if rec == nil && target.From != nil && target.From.ID == cc.userID() {
		return true
	}
	switch cc.inst.Mode() {
	case ModePersonal:
		return rec != nil && b.isOwner(cc) && rec.QQSenderID == cc.inst.QQUin()
	default:
		return b.isAdmin(ctx, cc)
	}
}

func (b *Bridge) cmdRecover(ctx context.Context, cc *commandContext) {
	if !b.requirePair(ctx, cc) {
		return
	}
	if !b.isAdmin(ctx, cc) {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Only administrators can recover messages.")
		return
	}
	count := defaultRecoverCount
	if len(cc.args) > 0 {
		n, err := strconv.Atoi(cc.args[0])
		if err != nil || n <= 0 {
			b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Usage: /recover [count]")
			return
		}
		count = n
	}
	inst, p := cc.inst, cc.pair
	b.detach(ctx, "recover", func(ctx context.Context) error {
		n, err := inst.Recover(ctx, p, count)
		if err != nil {
			b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Failed to fetch QQ history.")
			return err
		}
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, fmt.Sprintf("Recovered %d messages.", n))
		return nil
	})
}

func (b *Bridge) cmdSearch(ctx context.Context, cc *commandContext) {
	if !b.requirePair(ctx, cc) {
		return
	}
	keyword := strings.Join(cc.args, " ")
	if keyword == "" {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Usage: /search &lt;keywords&gt;")
		return
	}
	results, err := b.DB.Message.Search(ctx, cc.inst.ID, int64(cc.pair.QQRoom()), keyword, b.Config.SearchLimit)
	if err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("Failed to search messages")
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Search failed.")
		return
	}
	if len(results) == 0 {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "No messages found.")
		return
	}
	var sb strings.Builder
	for i, rec := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		line := html.EscapeString(rec.Nick + ": " + rec.Brief)
		if link := MakeMessageLink(rec.TGChatID, rec.TGMsgID); link != "" {
			line = `<a href="` + link + `">` + line + `</a>`
		}
		sb.WriteString(line)
	}
	b.reply(ctx, cc, sb.String())
}

func (b *Bridge) cmdMode(ctx context.Context, cc *commandContext) {
	if !b.isOwner(cc) {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Only the owner of the QQ account can change the mode.")
		return
	}
	if len(cc.args) == 0 {
		b.reply(ctx, cc, "Mode: "+string(cc.inst.Mode()))
		return
	}
	mode := Mode(strings.ToLower(cc.args[0]))
	if err := cc.inst.SetMode(ctx, mode); err != nil {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Usage: /mode group|personal")
		return
	}
	b.reply(ctx, cc, "Mode set to "+string(mode)+".")
}

// cmdFlags lists or changes flags. In a linked chat the pair flags are
// changed; in an unlinked chat the owner changes the instance flags.
func (b *Bridge) cmdFlags(ctx context.Context, cc *commandContext) {
	if len(cc.args) == 0 {
		var sb strings.Builder
		if cc.pair != nil {
			sb.WriteString("<b>Pair:</b> " + html.EscapeString(cc.pair.Flags().String()) + "\n")
		}
		sb.WriteString("<b>Instance:</b> " + html.EscapeString(cc.inst.Flags().String()) + "\n")
		sb.WriteString("<b>Available:</b> " + strings.Join(FlagNames(), ", "))
		b.reply(ctx, cc, sb.String())
		return
	}
	flag, ok := ParseFlag(cc.args[0])
	if !ok || len(cc.args) != 2 || (cc.args[1] != "on" && cc.args[1] != "off") {
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Usage: /flags &lt;name&gt; on|off")
		return
	}
	on := cc.args[1] == "on"
	var flags Flags
	var err error
	switch {
	case cc.pair != nil:
		if !b.isAdmin(ctx, cc) {
			b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Only administrators can change flags.")
			return
		}
		flags, err = cc.inst.Pairs.ToggleFlag(ctx, cc.pair, flag, on)
	case b.isOwner(cc):
		flags, err = cc.inst.SetFlag(ctx, flag, on)
	default:
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Only the owner of the QQ account can change flags.")
		return
	}
	if err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("Failed to save flags")
		b.notice(ctx, cc.chatID(), cc.msg.MessageID, "Failed to save flags.")
		return
	}
	b.reply(ctx, cc, "Flags: "+html.EscapeString(flags.String()))
}
