package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/pkg/logger"
)

// fakeReader hands out queued messages and blocks once they run out
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumeCommitsAfterHandling(t *testing.T) {
	r := &fakeReader{
		queue:     []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}},
		fetchErrs: []error{errors.New("broker went away")},
	}
	c := newConsumer(r, TopicChainEvents, logger.Nop())
	c.retryPause = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled []int64
	done := make(chan error, 1)
	go func() {
		done <- c.Consume(ctx, func(_ context.Context, msg kafka.Message) error {
			handled = append(handled, msg.Offset)
			if msg.Offset == 2 {
				return errors.New("bad payload")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, handled)
	assert.Equal(t, []int64{1, 2, 3}, r.commits())
}

func TestConsumeLeavesInterruptedMessageUncommitted(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 7}}}
	c := newConsumer(r, TopicChainEvents, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	err := c.Consume(ctx, func(context.Context, kafka.Message) error {
		cancel()
		return context.Canceled
	})

	require.NoError(t, err)
	assert.Empty(t, r.commits())
}
