// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/q2tg/pkg/database"
	"github.com/aiku/q2tg/pkg/qq"
)

type Mode = database.Mode

const (
	ModeGroup    = database.ModeGroup
	ModePersonal = database.ModePersonal
)

// Instance is one federation member: a QQ account, the Telegram user that
// owns it and the forward pairs it serves.
type Instance struct {
	ID     int64
	QQ     QQClient
	Pairs  *Registry
	bridge *Bridge
	log    zerolog.Logger

	mu     sync.RWMutex
	record *database.Instance

	// roomLocks serializes forwarding per QQ room, so that live delivery and
	// history recovery never send the same message twice.
	roomLocks *exsync.Map[qq.RoomID, *sync.Mutex]
}

func newInstance(b *Bridge, record *database.Instance, client QQClient) *Instance {
	log := b.log.With().Str("component", "instance").Int64("instance_id", record.ID).Logger()
	return &Instance{
		ID:     record.ID,
		QQ:     client,
		Pairs:  NewRegistry(b.DB, record.ID, log),
		bridge: b,
		log:    log,
		record: record,

		roomLocks: exsync.NewMap[qq.RoomID, *sync.Mutex](),
	}
}

func (in *Instance) lockRoom(room qq.RoomID) func() {
	lock, _ := in.roomLocks.GetOrSet(room, &sync.Mutex{})
	lock.Lock()
	return lock.Unlock
}

func (in *Instance) Mode() Mode {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.record.Mode
}

// Owner returns the Telegram user id of the instance owner, or 0.
func (in *Instance) Owner() int64 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.record.Owner
}

// QQUin returns the uin of the instance's QQ account.
func (in *Instance) QQUin() int64 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.record.QQUin == 0 && in.QQ != nil {
		return in.QQ.SelfID()
	}
	return in.record.QQUin
}

// Flags returns the instance-level flags.
func (in *Instance) Flags() Flags {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return Flags(in.record.Flags)
}

// EffectiveFlags combines the flags of a pair with the instance flags.
func (in *Instance) EffectiveFlags(p *Pair) Flags {
	if p == nil {
		return in.Flags()
	}
	return p.Flags() | in.Flags()
}

// update applies fn to the instance config and persists it. The in-memory
// config is rolled back if the write fails.
func (in *Instance) update(ctx context.Context, fn func(rec *database.Instance)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	backup := *in.record
	fn(in.record)
	if err := in.record.Update(ctx); err != nil {
		*in.record = backup
		return fmt.Errorf("failed to save instance config: %w", err)
	}
	return nil
}

func (in *Instance) SetMode(ctx context.Context, mode Mode) error {
	if mode != ModeGroup && mode != ModePersonal {
		return fmt.Errorf("unknown mode %q", mode)
	}
	return in.update(ctx, func(rec *database.Instance) { rec.Mode = mode })
}

func (in *Instance) SetOwner(ctx context.Context, owner int64) error {
	return in.update(ctx, func(rec *database.Instance) { rec.Owner = owner })
}

func (in *Instance) SetFlag(ctx context.Context, flag Flags, on bool) (Flags, error) {
	var flags Flags
	err := in.update(ctx, func(rec *database.Instance) {
		flags = Flags(rec.Flags).Set(flag, on)
		rec.Flags = int64(flags)
	})
	return flags, err
}

// syncSelf records the QQ account uin once the client knows it.
func (in *Instance) syncSelf(ctx context.Context) {
	if in.QQ == nil {
		return
	}
	self := in.QQ.SelfID()
	in.mu.RLock()
	synced := in.record.IsSetup && in.record.QQUin == self
	in.mu.RUnlock()
	if self == 0 || synced {
		return
	}
	err := in.update(ctx, func(rec *database.Instance) {
		rec.QQUin = self
		rec.IsSetup = true
	})
	if err != nil {
		in.log.Warn().Err(err).Msg("Failed to save QQ account id")
	}
}

// Run consumes QQ events until ctx is done or the event channel closes.
// Events are handled one at a time in arrival order.
func (in *Instance) Run(ctx context.Context) error {
	in.log.Info().Int64("qq_uin", in.QQUin()).Msg("Listening for QQ events")
	events := in.QQ.Events()
	for {
		select {
		case <-ctx.Done():
			in.log.Info().Msg("QQ event loop stopped")
			return nil
		case evt, ok := <-events:
			if !ok {
				in.log.Warn().Msg("QQ event channel closed")
				return nil
			}
			in.syncSelf(ctx)
			in.handleQQEvent(ctx, evt)
		}
	}
}

// handleQQEvent dispatches a QQ event to the appropriate handler.
func (in *Instance) handleQQEvent(ctx context.Context, evt qq.Event) {
	defer in.bridge.recoverPanic("qq event")
	switch e := evt.(type) {
	case *qq.Message:
		in.HandleQQMessage(ctx, e)
	case *qq.RecallEvent:
		// Recall lookups may wait for an in-flight forward, so they must not
		// hold up the event loop.
		in.bridge.detach(ctx, "qq recall", func(ctx context.Context) error {
			in.HandleQQRecall(ctx, e)
			return nil
		})
	case *qq.MemberJoinEvent:
		in.handleMemberJoin(ctx, e)
	case *qq.PokeEvent:
		in.handlePoke(ctx, e)
	case *qq.RoomLeftEvent:
		in.handleRoomLeft(ctx, e)
	case *qq.EssenceEvent:
		in.handleEssence(ctx, e)
	default:
		in.log.Trace().Str("event_type", fmt.Sprintf("%T", evt)).Msg("Unhandled QQ event")
	}
}
