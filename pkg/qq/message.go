// Copyright 2024-2026 Aiku AI

package qq

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// RoomID identifies a QQ conversation. Groups are stored as the negated
// group number, private chats as the friend's uin.
type RoomID int64

// GroupRoom returns the room id of a group.
func GroupRoom(groupID int64) RoomID { return RoomID(-groupID) }

// PrivateRoom returns the room id of a private chat.
func PrivateRoom(uin int64) RoomID { return RoomID(uin) }

func (r RoomID) IsGroup() bool { return r < 0 }

// QQRoomID returns the raw room id.
func (r RoomID) QQRoomID() int64 { return int64(r) }

// PeerID returns the group number or friend uin.
func (r RoomID) PeerID() int64 {
	if r < 0 {
		return int64(-r)
	}
	return int64(r)
}

func (r RoomID) String() string {
	if r.IsGroup() {
		return fmt.Sprintf("group:%d", r.PeerID())
	}
	return fmt.Sprintf("private:%d", r.PeerID())
}

// MessageRef is the platform identity of a QQ message.
type MessageRef struct {
	Seq  int64
	Rand int64
	Time time.Time
}

// ReplyRef points at the quoted message of a reply.
type ReplyRef struct {
	Seq      int64
	Rand     int64
	SenderID int64
	Time     time.Time
}

// Message is an inbound QQ message.
type Message struct {
	Room       RoomID
	SenderID   int64
	SenderName string
	Seq        int64
	Rand       int64
	PktNum     int
	Time       time.Time
	Elements   []Element
	Reply      *ReplyRef
}

// Ref returns the identity of m.
func (m *Message) Ref() MessageRef {
	return MessageRef{Seq: m.Seq, Rand: m.Rand, Time: m.Time}
}

// Brief returns a one-line plain text summary of the chain, used for
// search and logging.
func Brief(elements []Element) string {
	var sb strings.Builder
	for _, el := range elements {
		switch e := el.(type) {
		case Text:
			sb.WriteString(e.Text)
		case Mention:
			if e.IsAll() {
				sb.WriteString("@all")
			} else {
				sb.WriteString("@" + e.Name)
			}
		case Face:
			fmt.Fprintf(&sb, "[Face: %s]", e.Name)
		case Image:
			if e.Flash {
				sb.WriteString("[Flash image]")
			} else {
				sb.WriteString("[Image]")
			}
		case Sticker:
			sb.WriteString("[Sticker]")
		case Voice:
			sb.WriteString("[Voice]")
		case Video:
			sb.WriteString("[Video]")
		case File:
			fmt.Fprintf(&sb, "[File] %s (%s)", e.Name, humanize.Bytes(uint64(max(e.Size, 0))))
		case Poll:
			sb.WriteString("[Poll] " + e.Question)
		case Contact:
			sb.WriteString("[Contact] " + e.Name)
		case Location:
			sb.WriteString("[Location] " + e.Title)
		case ForwardBundle:
			sb.WriteString("[Forwarded messages]")
		case Card:
			sb.WriteString("[Card] " + e.Title)
		case SystemNotice:
			if e.Kind != NoticeSenderTag {
				fmt.Fprintf(&sb, "[%s]", e.Kind)
			}
		case Marker:
		default:
			fmt.Fprintf(&sb, "[%s]", el.Type())
		}
	}
	return strings.TrimSpace(sb.String())
}
