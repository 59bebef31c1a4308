// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/q2tg/pkg/qq"
)

const recallTimeout = 30 * time.Second

type recallTask struct {
	client QQClient
	room   qq.RoomID
	seq    int64
	rand   int64
}

// RecallQueue serializes QQ recalls caused by Telegram deletions so that
// consecutive recalls are at least interval apart. Enqueue never blocks;
// a single consumer drains the queue and its timer only runs while the
// queue is non-empty.
type RecallQueue struct {
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	queue   []recallTask
	timer   *time.Timer
	active  bool
	stopped bool
	lastRun time.Time
}

func NewRecallQueue(interval time.Duration, log zerolog.Logger) *RecallQueue {
	return &RecallQueue{
		interval: interval,
		log:      log.With().Str("component", "recall_queue").Logger(),
	}
}

// Enqueue schedules a recall of the given QQ message.
func (q *RecallQueue) Enqueue(client QQClient, room qq.RoomID, seq, rand int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.queue = append(q.queue, recallTask{client: client, room: room, seq: seq, rand: rand})
	if q.active {
		return
	}
	q.active = true
	delay := time.Until(q.lastRun.Add(q.interval))
	if delay < 0 {
		delay = 0
	}
	q.timer = time.AfterFunc(delay, q.drainOne)
}

// Len returns the number of pending recalls.
func (q *RecallQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Stop drops pending recalls and stops the timer.
func (q *RecallQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.queue = nil
	if q.timer != nil {
		q.timer.Stop()
	}
	q.active = false
}

func (q *RecallQueue) drainOne() {
	q.mu.Lock()
	if q.stopped || len(q.queue) == 0 {
		q.active = false
		q.mu.Unlock()
		return
	}
	task := q.queue[0]
	q.queue = q.queue[1:]
	q.mu.Unlock()

	q.run(task)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastRun = time.Now()
	if q.stopped || len(q.queue) == 0 {
		q.active = false
		q.timer = nil
		return
	}
	q.timer = time.AfterFunc(q.interval, q.drainOne)
}

func (q *RecallQueue) run(task recallTask) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("Panic while recalling QQ message")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), recallTimeout)
	defer cancel()
	err := task.client.Recall(ctx, task.room, task.seq, task.rand)
	if err != nil {
		q.log.Warn().Err(err).
			Int64("qq_room_id", int64(task.room)).
			Int64("seq", task.seq).
			Msg("Failed to recall QQ message")
		return
	}
	q.log.Debug().
		Int64("qq_room_id", int64(task.room)).
		Int64("seq", task.seq).
		Msg("Recalled QQ message")
}
