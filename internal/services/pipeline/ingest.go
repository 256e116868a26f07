package pipelineservice

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/alitto/pond/v2"
	kafkago "github.com/segmentio/kafka-go"

	"chainintel/internal/adapters/kafka"
	"chainintel/internal/domain/event"
	"chainintel/internal/metrics"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

// Ingestor feeds live events into the processor on a bounded pool
type Ingestor struct {
	processor *Processor
	pool      pond.Pool
	log       *logger.Logger
}

// NewIngestor creates an ingestor running at most concurrency events at once
func NewIngestor(processor *Processor, concurrency int, log *logger.Logger) *Ingestor {
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Ingestor{
		processor: processor,
		pool:      pond.NewPool(concurrency, pond.WithQueueSize(concurrency*64)),
		log:       log.With("component", "ingestor"),
	}
}

// HandleEvents processes a block's events concurrently. Per-event failures are
// recorded on the status store and do not fail the batch.
func (i *Ingestor) HandleEvents(ctx context.Context, events []event.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	group := i.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, raw := range events {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			if _, err := i.processor.ProcessEvent(groupCtx, event.SourceLive, raw); err != nil {
				i.log.Debugw("Live event failed", "tx_hash", raw.TxHash, "error", err)
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return err
	}
	return ctx.Err()
}

// HandleMessage decodes a chain.events message and processes it
func (i *Ingestor) HandleMessage(ctx context.Context, msg kafkago.Message) error {
	var raw event.RawEvent
	if err := json.Unmarshal(msg.Value, &raw); err != nil {
		metrics.RecordKafkaMessage(kafka.TopicChainEvents, "in", err)
		return errors.Mark(errors.Wrap(err, "decode chain event"), errors.ErrInvalidInput)
	}
	metrics.RecordKafkaMessage(kafka.TopicChainEvents, "in", nil)

	_, err := i.processor.ProcessEvent(ctx, event.SourceLive, raw)
	return err
}

// Stop waits for in-flight events
func (i *Ingestor) Stop() {
	i.pool.StopAndWait()
}

func seenKey(chainID int64, txHash string) string {
	return formatChain(chainID) + ":" + txHash
}

func formatChain(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}
