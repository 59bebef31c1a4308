// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/gabriel-vasile/mimetype"
	"github.com/mymmrac/telego"
)

var senderEmojis = []string{"🔴", "🟠", "🟡", "🟢", "🔵", "🟣", "🟤", "⚫", "⚪", "🔶", "🔷", "💠"}

// colorEmoji returns a stable emoji for a QQ sender so that senders can be
// told apart at a glance.
func colorEmoji(senderID int64) string {
	if senderID < 0 {
		senderID = -senderID
	}
	return senderEmojis[senderID%int64(len(senderEmojis))]
}

// tgDisplayname renders the name of a Telegram user with the configured
// template.
func (b *Bridge) tgDisplayname(user *telego.User) string {
	if user == nil {
		return ""
	}
	return b.Config.FormatTGDisplayname(DisplaynameParams{
		ID:        user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
}

// tgUserForQQ maps the QQ account of a federation member to its Telegram
// owner, so that mentions of that account link to the owner.
func (b *Bridge) tgUserForQQ(uin int64) (int64, bool) {
	inst := b.instanceByQQUin(uin)
	if inst == nil || inst.Owner() == 0 {
		return 0, false
	}
	return inst.Owner(), true
}

// qqForTGUser maps a Telegram federation owner to their QQ account.
func (b *Bridge) qqForTGUser(user *telego.User, _ string) (int64, bool) {
	if user == nil {
		return 0, false
	}
	inst := b.instanceByOwner(user.ID)
	if inst == nil || inst.QQUin() == 0 {
		return 0, false
	}
	return inst.QQUin(), true
}

// extensionFor returns the file extension of a MIME type, including the
// dot, or "" if it is unknown.
func extensionFor(mimeType string) string {
	if m := mimetype.Lookup(mimeType); m != nil {
		return m.Extension()
	}
	return ""
}
