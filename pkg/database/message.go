// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.mau.fi/util/dbutil"
)

// QQRef is the identity of an additional QQ message produced by splitting
// one Telegram message.
type QQRef struct {
	Seq  int64 `json:"seq"`
	Rand int64 `json:"rand"`
}

// Message correlates one QQ message with its Telegram mirror. Every Telegram
// part of a split message is indexed in message_tg_part, so FindByTG resolves
// any of them. ExtraQQ holds the additional QQ sends and is only used when
// recalling.
type Message struct {
	qh *dbutil.QueryHelper[*Message]

	RowID      int64
	InstanceID int64
	QQRoomID   int64
	QQSenderID int64
	Seq        int64
	Rand       int64
	PktNum     int
	Time       time.Time
	TGChatID   int64
	TGMsgID    int
	TGSenderID int64
	Nick       string
	Brief      string
	RichHeader bool
	// RenderedText is the text that was actually posted on the destination,
	// HTML for Telegram and plain text for QQ.
	RenderedText string

	ExtraTGMsgIDs []int
	ExtraQQ       []QQRef
}

type MessageQuery struct {
	*dbutil.QueryHelper[*Message]
}

const (
	getMessageBaseQuery = `
		SELECT id, instance_id, qq_room_id, qq_sender_id, seq, rand, pktnum, time,
		       tg_chat_id, tg_msg_id, tg_sender_id, nick, brief, rich_header, extra_tg, extra_qq,
		       rendered_text
		FROM message
	`
	getMessageByQQQuery = getMessageBaseQuery + `
		WHERE instance_id=$1 AND qq_room_id=$2 AND seq=$3 AND ($4=0 OR rand=$4) AND ($5=0 OR qq_sender_id=$5)
		ORDER BY id LIMIT 1
	`
	getMessageByTGQuery = getMessageBaseQuery + `
		WHERE id=(
			SELECT message_id FROM message_tg_part WHERE instance_id=$1 AND tg_chat_id=$2 AND tg_msg_id=$3
		)
	`
	searchMessagesQuery = getMessageBaseQuery + `
		WHERE instance_id=$1 AND qq_room_id=$2 AND brief LIKE $3 ESCAPE '\'
		ORDER BY time DESC LIMIT $4
	`
	insertMessageQuery = `
		INSERT INTO message (
			instance_id, qq_room_id, qq_sender_id, seq, rand, pktnum, time,
			tg_chat_id, tg_msg_id, tg_sender_id, nick, brief, rich_header, extra_tg, extra_qq,
			rendered_text
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT DO NOTHING
		RETURNING id
	`
	insertMessagePartQuery = `
		INSERT INTO message_tg_part (instance_id, tg_chat_id, tg_msg_id, message_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`
	deleteMessagePartsQuery  = `DELETE FROM message_tg_part WHERE message_id=$1`
	deleteMessageQuery       = `DELETE FROM message WHERE id=$1`
	migrateTGChatQuery       = `UPDATE message SET tg_chat_id=$3 WHERE instance_id=$1 AND tg_chat_id=$2`
	migrateTGChatPartsQuery  = `UPDATE message_tg_part SET tg_chat_id=$3 WHERE instance_id=$1 AND tg_chat_id=$2`
	countMessagesByRoomQuery = `SELECT COUNT(*) FROM message WHERE instance_id=$1 AND qq_room_id=$2`
)

// FindByQQ looks up a record by its QQ identity. A zero rand or senderID
// matches any value. A miss returns nil without error.
func (mq *MessageQuery) FindByQQ(ctx context.Context, instanceID, roomID, senderID, seq, rand int64) (*Message, error) {
	return mq.QueryOne(ctx, getMessageByQQQuery, instanceID, roomID, seq, rand, senderID)
}

// FindByTG looks up a record by the identity of any of its Telegram parts.
func (mq *MessageQuery) FindByTG(ctx context.Context, instanceID, chatID int64, msgID int) (*Message, error) {
	return mq.QueryOne(ctx, getMessageByTGQuery, instanceID, chatID, msgID)
}

// Search returns the newest records of a room whose brief contains keyword.
func (mq *MessageQuery) Search(ctx context.Context, instanceID, roomID int64, keyword string, limit int) ([]*Message, error) {
	pattern := "%" + escapeLike(keyword) + "%"
	return mq.QueryMany(ctx, searchMessagesQuery, instanceID, roomID, pattern, limit)
}

// MigrateTGChat moves every record of a Telegram chat to its new id.
func (mq *MessageQuery) MigrateTGChat(ctx context.Context, instanceID, oldChatID, newChatID int64) error {
	return mq.GetDB().DoTxn(ctx, nil, func(ctx context.Context) error {
		if err := mq.Exec(ctx, migrateTGChatQuery, instanceID, oldChatID, newChatID); err != nil {
			return err
		}
		return mq.Exec(ctx, migrateTGChatPartsQuery, instanceID, oldChatID, newChatID)
	})
}

// CountByRoom returns the number of records of a QQ room.
func (mq *MessageQuery) CountByRoom(ctx context.Context, instanceID, roomID int64) (count int, err error) {
	err = mq.GetDB().QueryRow(ctx, countMessagesByRoomQuery, instanceID, roomID).Scan(&count)
	return
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (m *Message) Scan(row dbutil.Scannable) (*Message, error) {
	var timeMS int64
	err := row.Scan(
		&m.RowID, &m.InstanceID, &m.QQRoomID, &m.QQSenderID, &m.Seq, &m.Rand, &m.PktNum, &timeMS,
		&m.TGChatID, &m.TGMsgID, &m.TGSenderID, &m.Nick, &m.Brief, &m.RichHeader,
		dbutil.JSON{Data: &m.ExtraTGMsgIDs}, dbutil.JSON{Data: &m.ExtraQQ}, &m.RenderedText,
	)
	if err != nil {
		return nil, err
	}
	m.Time = time.UnixMilli(timeMS)
	return m, nil
}

func (m *Message) sqlVariables() []any {
	extraTG := m.ExtraTGMsgIDs
	if extraTG == nil {
		extraTG = []int{}
	}
	extraQQ := m.ExtraQQ
	if extraQQ == nil {
		extraQQ = []QQRef{}
	}
	return []any{
		m.InstanceID, m.QQRoomID, m.QQSenderID, m.Seq, m.Rand, m.PktNum, m.Time.UnixMilli(),
		m.TGChatID, m.TGMsgID, m.TGSenderID, m.Nick, m.Brief, m.RichHeader,
		dbutil.JSON{Data: extraTG}, dbutil.JSON{Data: extraQQ}, m.RenderedText,
	}
}

// Insert stores m. Inserting a second record for an already known QQ or
// Telegram identity is a no-op.
func (m *Message) Insert(ctx context.Context) error {
	return m.qh.GetDB().DoTxn(ctx, nil, func(ctx context.Context) error {
		err := m.qh.GetDB().QueryRow(ctx, insertMessageQuery, m.sqlVariables()...).Scan(&m.RowID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		} else if err != nil {
			return err
		}
		for _, msgID := range m.AllTGMsgIDs() {
			if err = m.qh.Exec(ctx, insertMessagePartQuery, m.InstanceID, m.TGChatID, msgID, m.RowID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Message) Delete(ctx context.Context) error {
	return m.qh.GetDB().DoTxn(ctx, nil, func(ctx context.Context) error {
		if err := m.qh.Exec(ctx, deleteMessagePartsQuery, m.RowID); err != nil {
			return err
		}
		return m.qh.Exec(ctx, deleteMessageQuery, m.RowID)
	})
}

// AllTGMsgIDs returns the primary and additional Telegram message ids.
func (m *Message) AllTGMsgIDs() []int {
	return append([]int{m.TGMsgID}, m.ExtraTGMsgIDs...)
}

// AllQQ returns the primary and additional QQ identities.
func (m *Message) AllQQ() []QQRef {
	return append([]QQRef{{Seq: m.Seq, Rand: m.Rand}}, m.ExtraQQ...)
}
