// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/mymmrac/telego"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/q2tg/pkg/database"
	"github.com/aiku/q2tg/pkg/qq"
)

// Bridge connects the QQ accounts of a federation with one Telegram bot.
type Bridge struct {
	Config  *Config
	DB      *database.Database
	TG      TelegramClient
	Updates TelegramUpdateSource
	// Media is used to re-upload media when Telegram refuses a URL. It may
	// be nil.
	Media MediaFetcher
	// ChatCreator creates Telegram chats for new QQ private chats. It may
	// be nil.
	ChatCreator ChatCreator
	Recalls     *RecallQueue

	log   zerolog.Logger
	sent  *sentCache
	tasks sync.WaitGroup

	instMu    sync.RWMutex
	instances []*Instance
	byID      map[int64]*Instance
}

// NewBridge creates a bridge without instances. cfg must have been
// post-processed.
func NewBridge(cfg *Config, db *database.Database, tg TelegramClient, log zerolog.Logger) *Bridge {
	log = log.With().Str("component", "bridge").Logger()
	return &Bridge{
		Config:  cfg,
		DB:      db,
		TG:      tg,
		Recalls: NewRecallQueue(cfg.RecallInterval, log),
		log:     log,
		sent:    newSentCache(sentCacheTTL),
		byID:    make(map[int64]*Instance),
	}
}

// AddInstance loads or creates the stored state of a federation member and
// attaches its QQ client.
func (b *Bridge) AddInstance(ctx context.Context, cfg InstanceConfig, client QQClient) (*Instance, error) {
	rec, err := b.DB.Instance.Ensure(ctx, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %d: %w", cfg.ID, err)
	}
	if !rec.IsSetup {
		if cfg.Owner != 0 {
			rec.Owner = cfg.Owner
		}
		if cfg.Mode != "" {
			rec.Mode = Mode(cfg.Mode)
		}
		if err = rec.Update(ctx); err != nil {
			return nil, fmt.Errorf("failed to seed instance %d: %w", cfg.ID, err)
		}
	}
	inst := newInstance(b, rec, client)
	if err = inst.Pairs.Load(ctx); err != nil {
		return nil, err
	}
	b.instMu.Lock()
	defer b.instMu.Unlock()
	if _, ok := b.byID[inst.ID]; ok {
		return nil, fmt.Errorf("duplicate instance id %d", inst.ID)
	}
	b.instances = append(b.instances, inst)
	b.byID[inst.ID] = inst
	inst.log.Info().
		Str("mode", string(rec.Mode)).
		Int("pairs", len(inst.Pairs.All())).
		Msg("Instance loaded")
	return inst, nil
}

// Instance returns the instance with the given id, or nil.
func (b *Bridge) Instance(id int64) *Instance {
	b.instMu.RLock()
	defer b.instMu.RUnlock()
	return b.byID[id]
}

// Instances returns every instance in the order they were added.
func (b *Bridge) Instances() []*Instance {
	b.instMu.RLock()
	defer b.instMu.RUnlock()
	out := make([]*Instance, len(b.instances))
	copy(out, b.instances)
	return out
}

// instanceByQQUin returns the instance logged in as uin, or nil.
func (b *Bridge) instanceByQQUin(uin int64) *Instance {
	if uin == 0 {
		return nil
	}
	for _, inst := range b.Instances() {
		if inst.QQUin() == uin {
			return inst
		}
	}
	return nil
}

// instanceByOwner returns the instance owned by a Telegram user, or nil.
func (b *Bridge) instanceByOwner(tgUserID int64) *Instance {
	if tgUserID == 0 {
		return nil
	}
	for _, inst := range b.Instances() {
		if inst.Owner() == tgUserID {
			return inst
		}
	}
	return nil
}

// pairForChat returns the instance and pair serving a Telegram chat.
func (b *Bridge) pairForChat(chatID int64) (*Instance, *Pair) {
	for _, inst := range b.Instances() {
		if p := inst.Pairs.Find(TGChatID(chatID)); p != nil {
			return inst, p
		}
	}
	return nil, nil
}

// LinkPair links a QQ room of inst with a Telegram chat. A Telegram chat can
// only be served by one instance.
func (b *Bridge) LinkPair(ctx context.Context, inst *Instance, room qq.RoomID, tgChatID int64, flags Flags) (*Pair, error) {
	if other, _ := b.pairForChat(tgChatID); other != nil {
		return nil, fmt.Errorf("%w: telegram chat %d is served by instance %d", ErrPairExists, tgChatID, other.ID)
	}
	return inst.Pairs.Add(ctx, room, tgChatID, flags)
}

// Run starts every event loop and blocks until ctx is done or one of them
// fails.
func (b *Bridge) Run(ctx context.Context) error {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(b.Config.AttributionRefresh, func() {
		b.RefreshAttribution(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule attribution refresh: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, inst := range b.Instances() {
		if r, ok := inst.QQ.(runner); ok {
			g.Go(func() error {
				return r.Run(ctx)
			})
		}
		g.Go(func() error {
			return inst.Run(ctx)
		})
	}
	if b.Updates != nil {
		g.Go(func() error {
			return b.runTelegram(ctx)
		})
	}
	g.Go(func() error {
		b.RefreshAttribution(ctx)
		return nil
	})
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
		b.Recalls.Stop()
	}()
	b.log.Info().Int("instances", len(b.Instances())).Msg("Bridge started")
	return g.Wait()
}

func (b *Bridge) runTelegram(ctx context.Context) error {
	updates, err := b.Updates.Updates(ctx)
	if err != nil {
		return fmt.Errorf("failed to start Telegram updates: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				b.log.Warn().Msg("Telegram update channel closed")
				return nil
			}
			b.HandleTelegramUpdate(ctx, upd)
		}
	}
}

// HandleTelegramUpdate dispatches one Telegram update.
func (b *Bridge) HandleTelegramUpdate(ctx context.Context, upd telego.Update) {
	defer b.recoverPanic("telegram update")
	switch {
	case upd.Message != nil:
		b.handleTelegramMessage(ctx, upd.Message)
	case upd.EditedMessage != nil:
		b.handleTelegramEdit(ctx, upd.EditedMessage)
	case upd.MyChatMember != nil:
		b.handleMyChatMember(ctx, upd.MyChatMember)
	default:
		b.log.Trace().Int("update_id", upd.UpdateID).Msg("Ignoring Telegram update")
	}
}

func (b *Bridge) recoverPanic(where string) {
	if r := recover(); r != nil {
		b.log.Error().
			Interface("panic", r).
			Str("where", where).
			Bytes("stack", debug.Stack()).
			Msg("Recovered from panic")
	}
}

// detach runs fn in the background with a context that outlives ctx.
// Failures are logged.
func (b *Bridge) detach(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	b.tasks.Add(1)
	go func() {
		defer b.tasks.Done()
		defer b.recoverPanic(name)
		if err := fn(ctx); err != nil {
			b.log.Warn().Err(err).Str("task", name).Msg("Background task failed")
		}
	}()
}

// Wait blocks until every detached task has finished.
func (b *Bridge) Wait() {
	b.tasks.Wait()
}
