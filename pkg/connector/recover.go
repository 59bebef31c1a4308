// Copyright 2024-2026 Aiku AI

package connector

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/aiku/q2tg/pkg/qq"
)

// Recover fetches up to count recent messages of a pair's QQ room and
// forwards those that were never bridged, oldest first. It returns the
// number of forwarded messages.
func (in *Instance) Recover(ctx context.Context, p *Pair, count int) (int, error) {
	maxCount := in.bridge.Config.RecoverMaxCount
	if count <= 0 || count > maxCount {
		count = maxCount
	}
	history, err := in.QQ.GetHistory(ctx, p.QQRoom(), count)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch QQ history: %w", err)
	}
	slices.SortStableFunc(history, func(a, b *qq.Message) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	if len(history) > count {
		history = history[len(history)-count:]
	}

	recovered := 0
	for _, msg := range history {
		if msg.Room != p.QQRoom() {
			continue
		}
		if in.forwardQQ(ctx, msg) {
			recovered++
		}
	}
	in.log.Info().
		Str("pair", p.String()).
		Int("fetched", len(history)).
		Int("recovered", recovered).
		Msg("Recovered QQ history")
	return recovered, nil
}
