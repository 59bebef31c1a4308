// Copyright 2024-2026 Aiku AI

package onebot

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/aiku/q2tg/pkg/qq"
)

// parseEvent converts a pushed event to a qq.Event. Events the bridge has
// no use for return nil.
func (c *Client) parseEvent(frame gjson.Result) qq.Event {
	switch frame.Get("post_type").String() {
	case "message", "message_sent":
		if msg := c.parseMessage(frame); msg != nil {
			return msg
		}
		return nil
	case "notice":
		return c.parseNotice(frame)
	case "meta_event":
		return nil
	default:
		c.log.Trace().Str("post_type", frame.Get("post_type").String()).Msg("Ignoring unknown event")
		return nil
	}
}

func (c *Client) parseMessage(frame gjson.Result) *qq.Message {
	msg := &qq.Message{
		SenderID: frame.Get("user_id").Int(),
		Seq:      frame.Get("message_id").Int(),
		PktNum:   1,
		Time:     unixTime(frame.Get("time")),
	}
	sender := frame.Get("sender")
	msg.SenderName = firstNonEmpty(sender.Get("card").String(), sender.Get("nickname").String())
	switch frame.Get("message_type").String() {
	case "group":
		msg.Room = qq.GroupRoom(frame.Get("group_id").Int())
	case "private":
		peer := msg.SenderID
		if msg.SenderID == c.SelfID() {
			peer = frame.Get("target_id").Int()
		}
		if peer == 0 {
			return nil
		}
		msg.Room = qq.PrivateRoom(peer)
	default:
		return nil
	}
	msg.Elements, msg.Reply = parseChain(frame.Get("message"))
	if title := sender.Get("title").String(); title != "" {
		msg.Elements = append(msg.Elements, qq.SystemNotice{Kind: qq.NoticeSenderTag, Text: title})
	}
	if c.sent.Pop(msg.Seq) {
		msg.Elements = append(msg.Elements, qq.Marker{Data: "onebot"})
	}
	return msg
}

func (c *Client) parseNotice(frame gjson.Result) qq.Event {
	groupID := frame.Get("group_id").Int()
	userID := frame.Get("user_id").Int()
	switch frame.Get("notice_type").String() {
	case "group_recall":
		return &qq.RecallEvent{
			Room:       qq.GroupRoom(groupID),
			OperatorID: frame.Get("operator_id").Int(),
			SenderID:   userID,
			Seq:        frame.Get("message_id").Int(),
			Time:       unixTime(frame.Get("time")),
		}
	case "friend_recall":
		return &qq.RecallEvent{
			Room:       qq.PrivateRoom(userID),
			OperatorID: userID,
			SenderID:   userID,
			Seq:        frame.Get("message_id").Int(),
			Time:       unixTime(frame.Get("time")),
		}
	case "group_increase":
		if userID == c.SelfID() {
			return nil
		}
		return &qq.MemberJoinEvent{Room: qq.GroupRoom(groupID), UserID: userID}
	case "group_decrease":
		switch frame.Get("sub_type").String() {
		case "kick_me":
			return &qq.RoomLeftEvent{Room: qq.GroupRoom(groupID), Reason: qq.LeaveKicked}
		case "disband", "dismiss":
			return &qq.RoomLeftEvent{Room: qq.GroupRoom(groupID), Reason: qq.LeaveDismissed}
		}
		return nil
	case "friend_decrease":
		return &qq.RoomLeftEvent{Room: qq.PrivateRoom(userID), Reason: qq.LeaveFriendDeleted}
	case "essence":
		return &qq.EssenceEvent{
			Room:       qq.GroupRoom(groupID),
			SenderID:   frame.Get("sender_id").Int(),
			OperatorID: frame.Get("operator_id").Int(),
			Seq:        frame.Get("message_id").Int(),
			Added:      frame.Get("sub_type").String() == "add",
		}
	case "notify":
		if frame.Get("sub_type").String() == "poke" {
			return c.parsePoke(frame)
		}
	}
	return nil
}

func (c *Client) parsePoke(frame gjson.Result) *qq.PokeEvent {
	evt := &qq.PokeEvent{
		OperatorID: frame.Get("user_id").Int(),
		TargetID:   frame.Get("target_id").Int(),
		Action:     "poked",
	}
	if groupID := frame.Get("group_id").Int(); groupID != 0 {
		evt.Room = qq.GroupRoom(groupID)
	} else if evt.OperatorID == c.SelfID() {
		evt.Room = qq.PrivateRoom(evt.TargetID)
	} else {
		evt.Room = qq.PrivateRoom(evt.OperatorID)
	}
	// raw_info interleaves user references with the action and suffix texts.
	var texts []string
	frame.Get("raw_info").ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() == "nor" {
			if txt := item.Get("txt").String(); txt != "" {
				texts = append(texts, txt)
			}
		}
		return true
	})
	if len(texts) > 0 {
		evt.Action = texts[0]
	}
	if len(texts) > 1 {
		evt.Suffix = texts[1]
	}
	return evt
}

func unixTime(ts gjson.Result) time.Time {
	if !ts.Exists() || ts.Int() == 0 {
		return time.Now()
	}
	return time.Unix(ts.Int(), 0)
}
