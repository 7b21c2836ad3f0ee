package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueRunsSubmittedTasks(t *testing.T) {
	q := NewQueue(8, slog.New(slog.DiscardHandler))

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		ok := q.Submit("count", func(context.Context) error {
			ran.Add(1)
			return nil
		})
		assert.True(t, ok)
	}
	q.Close()
	assert.Equal(t, int32(5), ran.Load())
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(1, slog.New(slog.DiscardHandler))
	defer q.Close()

	block := make(chan struct{})
	q.Submit("blocker", func(context.Context) error {
		<-block
		return nil
	})

	// Give the worker a moment to pick up the blocker, then fill the buffer.
	time.Sleep(20 * time.Millisecond)
	q.Submit("buffered", func(context.Context) error { return nil })

	dropped := false
	for i := 0; i < 3; i++ {
		if !q.Submit("overflow", func(context.Context) error { return nil }) {
			dropped = true
			break
		}
	}
	assert.True(t, dropped)
	close(block)
}

func TestQueueLogsFailuresAndContinues(t *testing.T) {
	q := NewQueue(8, slog.New(slog.DiscardHandler))

	var ran atomic.Int32
	q.Submit("failing", func(context.Context) error { return errors.New("redis down") })
	q.Submit("next", func(context.Context) error {
		ran.Add(1)
		return nil
	})
	q.Close()
	assert.Equal(t, int32(1), ran.Load())
}
