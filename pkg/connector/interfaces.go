// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"time"

	"github.com/mymmrac/telego"

	"github.com/aiku/q2tg/pkg/qq"
)

// MemberRole is the role of a chat member on either platform.
type MemberRole int

const (
	RoleUnknown MemberRole = iota
	RoleMember
	// RoleAdmin is an administrator. On Telegram it is only reported when
	// the administrator may delete messages.
	RoleAdmin
	RoleOwner
)

func (r MemberRole) CanDelete() bool { return r == RoleAdmin || r == RoleOwner }

// ForwardNode is one message inside a merged-forward bundle.
type ForwardNode struct {
	SenderName string
	Time       time.Time
	Elements   []qq.Element
}

// QQClient is the bridge's view of one logged-in QQ account.
type QQClient interface {
	SelfID() int64
	SendMessage(ctx context.Context, room qq.RoomID, elements []qq.Element, reply *qq.ReplyRef) (qq.MessageRef, error)
	Recall(ctx context.Context, room qq.RoomID, seq, rand int64) error
	GetMemberName(ctx context.Context, room qq.RoomID, userID int64) (string, error)
	GetForwardMessage(ctx context.Context, resID string) ([]ForwardNode, error)
	GetHistory(ctx context.Context, room qq.RoomID, count int) ([]*qq.Message, error)
	ListGroups(ctx context.Context) ([]int64, error)
	Events() <-chan qq.Event
}

// TelegramClient is the bridge's view of the Telegram bot.
type TelegramClient interface {
	BotID() int64
	// Send delivers msg and returns the ids of the created messages, in
	// order. Albums produce several ids.
	Send(ctx context.Context, chatID int64, msg *OutboundMessage) ([]int, error)
	Delete(ctx context.Context, chatID int64, msgIDs ...int) error
	Pin(ctx context.Context, chatID int64, msgID int) error
	GetMemberRole(ctx context.Context, chatID, userID int64) (MemberRole, error)
	// FileURL returns a download URL for a Telegram file id.
	FileURL(ctx context.Context, fileID string) (string, error)
}

// TelegramUpdateSource delivers inbound Telegram updates.
type TelegramUpdateSource interface {
	Updates(ctx context.Context) (<-chan telego.Update, error)
}

// MediaFetcher downloads media so that it can be re-uploaded when a
// platform refuses a URL.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, mimeType string, err error)
}

// ChatCreator creates Telegram chats for QQ private chats that are not
// linked yet. It is optional.
type ChatCreator interface {
	CreatePrivateChat(ctx context.Context, title string) (chatID int64, err error)
}

// runner is implemented by clients that own a connection loop.
type runner interface {
	Run(ctx context.Context) error
}
