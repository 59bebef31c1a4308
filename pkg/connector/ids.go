// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/aiku/q2tg/pkg/qq"
)

// TGChatID is a Telegram chat id. It exists so that registry lookups can
// tell it apart from a QQ room id.
type TGChatID int64

// supergroupPrefix is the offset Telegram adds to supergroup and channel ids
// in the Bot API.
const supergroupPrefix = -1000000000000

// MakeQQRoomID creates a room id for a QQ group or private chat.
func MakeQQRoomID(peerID int64, group bool) qq.RoomID {
	if group {
		return qq.GroupRoom(peerID)
	}
	return qq.PrivateRoom(peerID)
}

// ParseChatID parses a decimal chat or room id as typed by a user.
func ParseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", s, err)
	}
	return id, nil
}

// MakeMessageLink returns a t.me link to a message in a supergroup, or ""
// for chats that have no public message links.
func MakeMessageLink(chatID int64, msgID int) string {
	if chatID > supergroupPrefix {
		return ""
	}
	return fmt.Sprintf("https://t.me/c/%d/%d", supergroupPrefix-chatID, msgID)
}

// MakeUserLink returns a tg:// link that opens a user's profile.
func MakeUserLink(userID int64) string {
	return "tg://user?id=" + strconv.FormatInt(userID, 10)
}

// newEventID returns a fresh id used to correlate log lines of one event.
func newEventID() string {
	return uuid.NewString()
}
