// Copyright 2024-2026 Aiku AI

package database

import (
	"context"

	"go.mau.fi/util/dbutil"
)

// Mode is the federation mode of an instance.
type Mode string

const (
	// ModeGroup forwards every Telegram user through the service account
	// with a name header.
	ModeGroup Mode = "group"
	// ModePersonal sends the owner's Telegram messages as the owner's own
	// QQ account.
	ModePersonal Mode = "personal"
)

// Instance is one federation member: a QQ account paired with a Telegram
// owner.
type Instance struct {
	qh *dbutil.QueryHelper[*Instance]

	ID      int64
	Owner   int64
	QQUin   int64
	Mode    Mode
	Flags   int64
	IsSetup bool
}

type InstanceQuery struct {
	*dbutil.QueryHelper[*Instance]
}

const (
	getInstanceBaseQuery = `SELECT id, owner, qq_uin, mode, flags, is_setup FROM instance`
	getInstanceByIDQuery = getInstanceBaseQuery + ` WHERE id=$1`
	getAllInstanceQuery  = getInstanceBaseQuery + ` ORDER BY id`
	insertInstanceQuery  = `
		INSERT INTO instance (id, owner, qq_uin, mode, flags, is_setup)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	updateInstanceQuery = `
		UPDATE instance SET owner=$2, qq_uin=$3, mode=$4, flags=$5, is_setup=$6 WHERE id=$1
	`
)

func (iq *InstanceQuery) GetByID(ctx context.Context, id int64) (*Instance, error) {
	return iq.QueryOne(ctx, getInstanceByIDQuery, id)
}

func (iq *InstanceQuery) GetAll(ctx context.Context) ([]*Instance, error) {
	return iq.QueryMany(ctx, getAllInstanceQuery)
}

// Ensure returns the instance with the given id, creating an empty one if
// it does not exist yet.
func (iq *InstanceQuery) Ensure(ctx context.Context, id int64) (*Instance, error) {
	inst := iq.New()
	inst.ID = id
	inst.Mode = ModeGroup
	if err := iq.Exec(ctx, insertInstanceQuery, inst.sqlVariables()...); err != nil {
		return nil, err
	}
	return iq.GetByID(ctx, id)
}

func (i *Instance) Scan(row dbutil.Scannable) (*Instance, error) {
	err := row.Scan(&i.ID, &i.Owner, &i.QQUin, &i.Mode, &i.Flags, &i.IsSetup)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Instance) sqlVariables() []any {
	return []any{i.ID, i.Owner, i.QQUin, i.Mode, i.Flags, i.IsSetup}
}

func (i *Instance) Update(ctx context.Context) error {
	return i.qh.Exec(ctx, updateInstanceQuery, i.sqlVariables()...)
}
