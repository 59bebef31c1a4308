// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"slices"
	"sync"
)

// attributionCache maps Telegram user ids to the federation instance whose
// QQ account speaks for them in one pair. It is written only by refresh.
type attributionCache struct {
	mu      sync.RWMutex
	members map[int64]int64
	loaded  bool
}

func newAttributionCache() *attributionCache {
	return &attributionCache{members: make(map[int64]int64)}
}

func (c *attributionCache) get(tgUserID int64) (instanceID int64, ok, loaded bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	instanceID, ok = c.members[tgUserID]
	return instanceID, ok, c.loaded
}

func (c *attributionCache) replace(members map[int64]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = members
	c.loaded = true
}

// groupLister returns the QQ groups of an instance. refreshAttribution
// passes a memoized lister so each account is queried once per refresh.
type groupLister func(ctx context.Context, inst *Instance) ([]int64, error)

func listGroupsDirect(ctx context.Context, inst *Instance) ([]int64, error) {
	return inst.QQ.ListGroups(ctx)
}

// ResolveSender returns the instance whose QQ account should send a
// Telegram user's message into p, and whether the message is attributed to
// that user. Unattributed messages go through owner's service account with
// a name header.
func (b *Bridge) ResolveSender(ctx context.Context, owner *Instance, p *Pair, tgUserID int64) (*Instance, bool) {
	if owner.Mode() == ModePersonal && owner.Owner() == tgUserID {
		return owner, true
	}
	if !p.QQRoom().IsGroup() {
		return owner, false
	}
	instanceID, ok, loaded := p.attribution.get(tgUserID)
	if !loaded {
		b.refreshPairAttribution(ctx, owner, p, listGroupsDirect)
		instanceID, ok, _ = p.attribution.get(tgUserID)
	}
	if !ok {
		return owner, false
	}
	member := b.Instance(instanceID)
	if member == nil {
		return owner, false
	}
	return member, true
}

// refreshPairAttribution recomputes the attribution map of one pair by
// checking which personal-mode members are in the pair's QQ group.
func (b *Bridge) refreshPairAttribution(ctx context.Context, owner *Instance, p *Pair, list groupLister) {
	groupID := p.QQRoom().PeerID()
	members := make(map[int64]int64)
	for _, member := range b.Instances() {
		if member == owner || member.Mode() != ModePersonal || member.Owner() == 0 {
			continue
		}
		groups, err := list(ctx, member)
		if err != nil {
			owner.log.Warn().Err(err).
				Int64("member_instance", member.ID).
				Msg("Failed to list groups for sender attribution")
			continue
		}
		if slices.Contains(groups, groupID) {
			members[member.Owner()] = member.ID
		}
	}
	p.attribution.replace(members)
}

// RefreshAttribution recomputes the attribution maps of every pair. It is
// run periodically by the scheduler.
func (b *Bridge) RefreshAttribution(ctx context.Context) {
	defer b.recoverPanic("attribution refresh")
	memo := make(map[int64][]int64)
	list := func(ctx context.Context, inst *Instance) ([]int64, error) {
		if groups, ok := memo[inst.ID]; ok {
			return groups, nil
		}
		groups, err := inst.QQ.ListGroups(ctx)
		if err != nil {
			return nil, err
		}
		memo[inst.ID] = groups
		return groups, nil
	}
	for _, owner := range b.Instances() {
		for _, p := range owner.Pairs.All() {
			if p.QQRoom().IsGroup() {
				b.refreshPairAttribution(ctx, owner, p, list)
			}
		}
	}
	b.log.Debug().Msg("Refreshed sender attribution")
}
