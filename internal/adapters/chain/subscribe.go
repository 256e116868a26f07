package chain

import (
	"context"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"chainintel/internal/metrics"
	"chainintel/pkg/errors"
	"chainintel/pkg/reconnect"
)

// Subscribe follows new heads and hands each confirmed block's events to handler.
// Dropped subscriptions are re-established with exponential backoff until ctx is
// cancelled; after too many consecutive failures it gives up with ErrSubscriptionFailed.
func (c *Client) Subscribe(ctx context.Context, handler Handler) error {
	var next uint64
	rm := reconnect.NewManager(reconnect.Config{
		MinBackoff:       time.Second,
		MaxBackoff:       time.Minute,
		HeartbeatTimeout: c.cfg.StallTimeout,
	}, c.log.With("stream", "new_heads"))

	for {
		err := c.follow(ctx, handler, &next, rm)
		if ctx.Err() != nil {
			return nil
		}

		c.log.Errorw("Head subscription dropped", "error", err, "next_block", next)
		rm.RecordFailure()

		if err := rm.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Mark(errors.Wrap(err, "resubscribe new heads"), errors.ErrSubscriptionFailed)
		}
	}
}

// follow runs one subscription. next is the first block not yet handed out.
func (c *Client) follow(ctx context.Context, handler Handler, next *uint64, rm *reconnect.Manager) error {
	heads := make(chan *types.Header, 16)
	sub, err := c.ws.SubscribeNewHead(ctx, heads)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "subscribe new heads"), errors.ErrSubscriptionFailed)
	}
	defer sub.Unsubscribe()

	rm.RecordSuccess()
	c.log.Infow("Subscribed to new heads", "confirmations", c.cfg.Confirmations)

	stall := time.NewTicker(c.cfg.StallTimeout)
	defer stall.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sub.Err():
			return errors.Mark(err, errors.ErrSubscriptionFailed)

		case <-stall.C:
			if rm.Stalled() {
				since, _ := rm.SinceLastMessage()
				c.log.Warnw("No new block received", "since", since.Round(time.Second))
			}

		case head := <-heads:
			rm.RecordMessageReceived()

			number := head.Number.Uint64()
			if number < c.cfg.Confirmations {
				continue
			}
			confirmed := number - c.cfg.Confirmations

			from := *next
			if from == 0 || from > confirmed {
				from = confirmed
			}

			events, err := c.QueryEvents(ctx, from, confirmed)
			if err != nil {
				c.log.Errorw("Failed to query block events", "from", from, "to", confirmed, "error", err)
				continue
			}
			*next = confirmed + 1
			metrics.ChainHeads.WithLabelValues(strconv.FormatInt(c.cfg.ChainID, 10)).Add(float64(confirmed - from + 1))

			if len(events) == 0 {
				continue
			}
			if err := handler(ctx, events); err != nil {
				c.log.Errorw("Block handler failed", "block", confirmed, "events", len(events), "error", err)
			}
		}
	}
}
