// Copyright 2024-2026 Aiku AI

package qq

import "time"

// Event is anything a QQ account reports to the bridge.
type Event interface {
	RoomID() RoomID
	isEvent()
}

// RecallEvent reports that a message was withdrawn.
type RecallEvent struct {
	Room       RoomID
	OperatorID int64
	SenderID   int64
	Seq        int64
	Rand       int64
	Time       time.Time
}

// MemberJoinEvent reports a new group member.
type MemberJoinEvent struct {
	Room   RoomID
	UserID int64
	Name   string
}

// PokeEvent reports a "poke" nudge between two members.
type PokeEvent struct {
	Room         RoomID
	OperatorID   int64
	OperatorName string
	TargetID     int64
	TargetName   string
	Action       string
	Suffix       string
}

// LeaveReason says why the account lost access to a room.
type LeaveReason int

const (
	LeaveKicked LeaveReason = iota + 1
	LeaveDismissed
	LeaveFriendDeleted
)

func (r LeaveReason) String() string {
	switch r {
	case LeaveKicked:
		return "kicked"
	case LeaveDismissed:
		return "dismissed"
	case LeaveFriendDeleted:
		return "friend_deleted"
	default:
		return "unknown"
	}
}

// RoomLeftEvent reports that the account can no longer use a room.
type RoomLeftEvent struct {
	Room   RoomID
	Reason LeaveReason
}

// EssenceEvent reports that a message was added to or removed from the
// group's essence list.
type EssenceEvent struct {
	Room       RoomID
	SenderID   int64
	OperatorID int64
	Seq        int64
	Rand       int64
	Added      bool
}

func (m *Message) RoomID() RoomID         { return m.Room }
func (e *RecallEvent) RoomID() RoomID     { return e.Room }
func (e *MemberJoinEvent) RoomID() RoomID { return e.Room }
func (e *PokeEvent) RoomID() RoomID       { return e.Room }
func (e *RoomLeftEvent) RoomID() RoomID   { return e.Room }
func (e *EssenceEvent) RoomID() RoomID    { return e.Room }

func (*Message) isEvent()         {}
func (*RecallEvent) isEvent()     {}
func (*MemberJoinEvent) isEvent() {}
func (*PokeEvent) isEvent()       {}
func (*RoomLeftEvent) isEvent()   {}
func (*EssenceEvent) isEvent()    {}
