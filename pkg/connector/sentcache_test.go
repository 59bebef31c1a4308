// Copyright 2024-2026 Aiku AI

package connector

import (
	"testing"
	"time"

	"github.com/aiku/q2tg/pkg/qq"
)

func TestSentCache(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	c := newSentCache(time.Minute)
	c.now = func() time.Time { return now }
	room := qq.GroupRoom(testGroup)

	c.add(room, 1)
	if !c.has(room, 1) {
		t.Error("added message not found")
	}
	if c.has(room, 2) || c.has(qq.GroupRoom(1), 1) {
		t.Error("unrelated message found")
	}

	now = now.Add(2 * time.Minute)
	if c.has(room, 1) {
		t.Error("expired message still found")
	}
	c.add(room, 3)
	if n := len(c.items); n != 1 {
		t.Errorf("cache holds %d items after sweep, want 1", n)
	}
}
