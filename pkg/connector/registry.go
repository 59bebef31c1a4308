// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/aiku/q2tg/pkg/database"
	"github.com/aiku/q2tg/pkg/qq"
)

var (
	ErrPairExists = errors.New("room is already linked")
	ErrNotLinked  = errors.New("room is not linked")
)

// Pair is a live forward pair. Its identity may change at runtime when a
// Telegram group is migrated to a supergroup.
type Pair struct {
	mu     sync.RWMutex
	record *database.Pair

	attribution *attributionCache
}

func newPair(record *database.Pair) *Pair {
	return &Pair{record: record, attribution: newAttributionCache()}
}

func (p *Pair) ID() int64 { return p.record.ID }

func (p *Pair) QQRoom() qq.RoomID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return qq.RoomID(p.record.QQRoomID)
}

func (p *Pair) TGChat() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.record.TGChatID
}

// Flags returns the pair's own flags, without the instance flags.
func (p *Pair) Flags() Flags {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Flags(p.record.Flags)
}

func (p *Pair) APIKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.record.APIKey
}

func (p *Pair) String() string {
	return fmt.Sprintf("%s<->%d", p.QQRoom(), p.TGChat())
}

// Registry holds the forward pairs of one instance. Lookups are served from
// memory; every mutation is persisted before it becomes visible.
type Registry struct {
	db         *database.Database
	instanceID int64
	log        zerolog.Logger

	mu    sync.RWMutex
	pairs []*Pair
	byQQ  map[qq.RoomID]*Pair
	byTG  map[int64]*Pair
}

// NewRegistry creates an empty registry. Call Load to fill it.
func NewRegistry(db *database.Database, instanceID int64, log zerolog.Logger) *Registry {
	return &Registry{
		db:         db,
		instanceID: instanceID,
		log:        log.With().Str("component", "registry").Logger(),
		byQQ:       make(map[qq.RoomID]*Pair),
		byTG:       make(map[int64]*Pair),
	}
}

// Load replaces the in-memory state with the persisted pairs.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.db.Pair.GetByInstance(ctx, r.instanceID)
	if err != nil {
		return fmt.Errorf("failed to load pairs: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = make([]*Pair, 0, len(records))
	r.byQQ = make(map[qq.RoomID]*Pair, len(records))
	r.byTG = make(map[int64]*Pair, len(records))
	for _, rec := range records {
		p := newPair(rec)
		r.pairs = append(r.pairs, p)
		r.byQQ[qq.RoomID(rec.QQRoomID)] = p
		r.byTG[rec.TGChatID] = p
	}
	r.log.Debug().Int("count", len(records)).Msg("Loaded forward pairs")
	return nil
}

// Find returns the pair matching key, or nil. Accepted keys are qq.RoomID,
// TGChatID, *telego.Chat, telego.Chat, anything with a QQRoomID() int64
// method, decimal strings and raw integers.
//
// Raw integers and strings are ambiguous: a negated QQ group number can
// equal the id of a basic Telegram group. They are tried as a QQ room first,
// then as a Telegram chat, so a colliding Telegram chat is only reachable
// through TGChatID or telego.Chat. Code paths that know which side an id
// belongs to pass the typed key.
func (r *Registry) Find(key any) *Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch k := key.(type) {
	case qq.RoomID:
		return r.byQQ[k]
	case TGChatID:
		return r.byTG[int64(k)]
	case *telego.Chat:
		if k == nil {
			return nil
		}
		return r.byTG[k.ID]
	case telego.Chat:
		return r.byTG[k.ID]
	case interface{ QQRoomID() int64 }:
		return r.byQQ[qq.RoomID(k.QQRoomID())]
	case int64:
		return r.findRawLocked(k)
	case int:
		return r.findRawLocked(int64(k))
	case string:
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil
		}
		return r.findRawLocked(id)
	default:
		return nil
	}
}

func (r *Registry) findRawLocked(id int64) *Pair {
	if p, ok := r.byQQ[qq.RoomID(id)]; ok {
		return p
	}
	return r.byTG[id]
}

// All returns a snapshot of every pair.
func (r *Registry) All() []*Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pair, len(r.pairs))
	copy(out, r.pairs)
	return out
}

// Add links a QQ room with a Telegram chat.
func (r *Registry) Add(ctx context.Context, room qq.RoomID, tgChatID int64, flags Flags) (*Pair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byQQ[room]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPairExists, room)
	}
	if _, ok := r.byTG[tgChatID]; ok {
		return nil, fmt.Errorf("%w: telegram chat %d", ErrPairExists, tgChatID)
	}
	rec := r.db.Pair.New()
	rec.InstanceID = r.instanceID
	rec.QQRoomID = int64(room)
	rec.TGChatID = tgChatID
	rec.Flags = int64(flags)
	if err := rec.Insert(ctx); err != nil {
		return nil, fmt.Errorf("failed to insert pair: %w", err)
	}
	p := newPair(rec)
	r.pairs = append(r.pairs, p)
	r.byQQ[room] = p
	r.byTG[tgChatID] = p
	r.log.Info().
		Int64("pair_id", rec.ID).
		Int64("qq_room_id", rec.QQRoomID).
		Int64("tg_chat_id", tgChatID).
		Msg("Linked rooms")
	return p, nil
}

// Remove unlinks a pair. Correlation records are kept.
func (r *Registry) Remove(ctx context.Context, p *Pair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := p.record.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete pair: %w", err)
	}
	delete(r.byQQ, p.QQRoom())
	delete(r.byTG, p.TGChat())
	for i, existing := range r.pairs {
		if existing == p {
			r.pairs = append(r.pairs[:i], r.pairs[i+1:]...)
			break
		}
	}
	r.log.Info().Int64("pair_id", p.ID()).Msg("Unlinked rooms")
	return nil
}

// SetFlags replaces the flags of a pair.
func (r *Registry) SetFlags(ctx context.Context, p *Pair, flags Flags) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.record.Flags
	p.record.Flags = int64(flags)
	if err := p.record.Update(ctx); err != nil {
		p.record.Flags = old
		return fmt.Errorf("failed to update pair flags: %w", err)
	}
	return nil
}

// ToggleFlag turns a single flag on or off and returns the new flags.
func (r *Registry) ToggleFlag(ctx context.Context, p *Pair, flag Flags, on bool) (Flags, error) {
	flags := p.Flags().Set(flag, on)
	return flags, r.SetFlags(ctx, p, flags)
}

// MigrateTG moves the pair of a Telegram group to its new supergroup id,
// together with every correlation record of that chat.
func (r *Registry) MigrateTG(ctx context.Context, oldChatID, newChatID int64) (*Pair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byTG[oldChatID]
	if !ok {
		return nil, ErrNotLinked
	}
	p.mu.Lock()
	p.record.TGChatID = newChatID
	err := p.record.Update(ctx)
	if err != nil {
		p.record.TGChatID = oldChatID
	}
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to migrate pair: %w", err)
	}
	delete(r.byTG, oldChatID)
	r.byTG[newChatID] = p
	if err = r.db.Message.MigrateTGChat(ctx, r.instanceID, oldChatID, newChatID); err != nil {
		r.log.Warn().Err(err).
			Int64("old_chat_id", oldChatID).
			Int64("new_chat_id", newChatID).
			Msg("Failed to migrate message records")
	}
	r.log.Info().
		Int64("old_chat_id", oldChatID).
		Int64("new_chat_id", newChatID).
		Msg("Migrated Telegram chat")
	return p, nil
}
