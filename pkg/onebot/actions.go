// Copyright 2024-2026 Aiku AI

package onebot

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/aiku/q2tg/pkg/connector"
	"github.com/aiku/q2tg/pkg/qq"
)

var _ connector.QQClient = (*Client)(nil)

var errEmptyMessage = errors.New("message has no sendable segments")

// SendMessage sends a chain to a room. OneBot identifies messages by a
// single id, which is returned as the seq with a zero rand.
func (c *Client) SendMessage(ctx context.Context, room qq.RoomID, elements []qq.Element, reply *qq.ReplyRef) (qq.MessageRef, error) {
	segments, marked := encodeChain(elements, reply)
	if len(segments) == 0 || (reply != nil && len(segments) == 1) {
		return qq.MessageRef{}, errEmptyMessage
	}
	params := map[string]any{"message": segments}
	if room.IsGroup() {
		params["message_type"] = "group"
		params["group_id"] = room.PeerID()
	} else {
		params["message_type"] = "private"
		params["user_id"] = room.PeerID()
	}
	data, err := c.call(ctx, "send_msg", params)
	if err != nil {
		return qq.MessageRef{}, fmt.Errorf("failed to send message to %s: %w", room, err)
	}
	id := data.Get("message_id").Int()
	if marked {
		c.sent.Add(id)
	}
	return qq.MessageRef{Seq: id, Time: unixTime(data.Get("time"))}, nil
}

// Recall withdraws a message. rand is unused by OneBot.
func (c *Client) Recall(ctx context.Context, room qq.RoomID, seq, _ int64) error {
	if _, err := c.call(ctx, "delete_msg", map[string]any{"message_id": seq}); err != nil {
		return fmt.Errorf("failed to recall message %d in %s: %w", seq, room, err)
	}
	return nil
}

// GetMemberName returns the group card or nickname of a user.
func (c *Client) GetMemberName(ctx context.Context, room qq.RoomID, userID int64) (string, error) {
	var data gjson.Result
	var err error
	if room.IsGroup() {
		data, err = c.call(ctx, "get_group_member_info", map[string]any{
			"group_id": room.PeerID(),
			"user_id":  userID,
		})
	} else {
		data, err = c.call(ctx, "get_stranger_info", map[string]any{"user_id": userID})
	}
	if err != nil {
		return "", fmt.Errorf("failed to get name of %d: %w", userID, err)
	}
	return firstNonEmpty(data.Get("card").String(), data.Get("nickname").String()), nil
}

// GetForwardMessage fetches the nodes of a merged-forward bundle.
func (c *Client) GetForwardMessage(ctx context.Context, resID string) ([]connector.ForwardNode, error) {
	data, err := c.call(ctx, "get_forward_msg", map[string]any{"id": resID, "message_id": resID})
	if err != nil {
		return nil, fmt.Errorf("failed to get forward message %s: %w", resID, err)
	}
	messages := data.Get("messages")
	if !messages.Exists() {
		messages = data.Get("message")
	}
	var nodes []connector.ForwardNode
	messages.ForEach(func(_, node gjson.Result) bool {
		content := node.Get("content")
		if !content.Exists() {
			content = node.Get("message")
		}
		if !content.Exists() {
			content = node.Get("data.content")
		}
		elements, _ := parseChain(content)
		sender := node.Get("sender")
		nodes = append(nodes, connector.ForwardNode{
			SenderName: firstNonEmpty(sender.Get("card").String(), sender.Get("nickname").String(), node.Get("data.nickname").String()),
			Time:       unixTime(node.Get("time")),
			Elements:   elements,
		})
		return true
	})
	return nodes, nil
}

// GetHistory returns up to count recent messages of a room.
func (c *Client) GetHistory(ctx context.Context, room qq.RoomID, count int) ([]*qq.Message, error) {
	action, params := "get_friend_msg_history", map[string]any{"user_id": room.PeerID(), "count": count}
	if room.IsGroup() {
		action, params = "get_group_msg_history", map[string]any{"group_id": room.PeerID(), "count": count}
	}
	data, err := c.call(ctx, action, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get history of %s: %w", room, err)
	}
	var history []*qq.Message
	data.Get("messages").ForEach(func(_, frame gjson.Result) bool {
		if msg := c.parseMessage(frame); msg != nil {
			history = append(history, msg)
		}
		return true
	})
	return history, nil
}

// ListGroups returns the numbers of the groups the account is in.
func (c *Client) ListGroups(ctx context.Context) ([]int64, error) {
	data, err := c.call(ctx, "get_group_list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return lo.Map(data.Array(), func(group gjson.Result, _ int) int64 {
		return group.Get("group_id").Int()
	}), nil
}
