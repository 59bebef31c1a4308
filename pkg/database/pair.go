// Copyright 2024-2026 Aiku AI

package database

import (
	"context"

	"go.mau.fi/util/dbutil"
)

// Pair is a persisted link between a QQ room and a Telegram chat.
type Pair struct {
	qh *dbutil.QueryHelper[*Pair]

	ID         int64
	InstanceID int64
	QQRoomID   int64
	TGChatID   int64
	Flags      int64
	APIKey     string
}

type PairQuery struct {
	*dbutil.QueryHelper[*Pair]
}

const (
	getPairBaseQuery        = `SELECT id, instance_id, qq_room_id, tg_chat_id, flags, api_key FROM forward_pair`
	getPairsByInstanceQuery = getPairBaseQuery + ` WHERE instance_id=$1 ORDER BY id`
	insertPairQuery         = `
		INSERT INTO forward_pair (instance_id, qq_room_id, tg_chat_id, flags, api_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	updatePairQuery = `
		UPDATE forward_pair SET qq_room_id=$2, tg_chat_id=$3, flags=$4, api_key=$5 WHERE id=$1
	`
	deletePairQuery = `DELETE FROM forward_pair WHERE id=$1`
)

func (pq *PairQuery) GetByInstance(ctx context.Context, instanceID int64) ([]*Pair, error) {
	return pq.QueryMany(ctx, getPairsByInstanceQuery, instanceID)
}

func (p *Pair) Scan(row dbutil.Scannable) (*Pair, error) {
	err := row.Scan(&p.ID, &p.InstanceID, &p.QQRoomID, &p.TGChatID, &p.Flags, &p.APIKey)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Insert stores p and fills in its ID.
func (p *Pair) Insert(ctx context.Context) error {
	return p.qh.GetDB().QueryRow(ctx, insertPairQuery,
		p.InstanceID, p.QQRoomID, p.TGChatID, p.Flags, p.APIKey,
	).Scan(&p.ID)
}

func (p *Pair) Update(ctx context.Context) error {
	return p.qh.Exec(ctx, updatePairQuery, p.ID, p.QQRoomID, p.TGChatID, p.Flags, p.APIKey)
}

func (p *Pair) Delete(ctx context.Context) error {
	return p.qh.Exec(ctx, deletePairQuery, p.ID)
}
