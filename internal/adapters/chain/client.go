package chain

import (
	"cmp"
	"context"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"chainintel/internal/domain/event"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
	"chainintel/pkg/retry"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)")
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// transferSelector is the calldata selector recorded on decoded token transfers
const transferSelector = "0xa9059cbb"

// Handler receives the events of one new block
type Handler func(ctx context.Context, events []event.RawEvent) error

// Provider is the chain access used by the pipeline
type Provider interface {
	ChainID() int64
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	QueryEvents(ctx context.Context, from, to uint64) ([]event.RawEvent, error)
	Subscribe(ctx context.Context, handler Handler) error
}

// rpc is the subset of *ethclient.Client in use
type rpc interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	Close()
}

// Config for the chain client
type Config struct {
	ChainID                int64
	RPCURL                 string
	WSURL                  string
	Confirmations          uint64
	IncludeNativeTransfers bool
	StallTimeout           time.Duration
}

// Client implements Provider over go-ethereum's ethclient.
// Queries go to the HTTP endpoint, head subscriptions to the websocket one.
type Client struct {
	cfg   Config
	rpc   rpc
	ws    rpc
	retry retry.Config
	log   *logger.Logger
}

var _ Provider = (*Client)(nil)

// Dial connects to the configured endpoints
func Dial(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	httpClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "dial rpc"), errors.ErrChainUnavailable)
	}

	var ws rpc = httpClient
	if cfg.WSURL != "" {
		wsClient, err := ethclient.DialContext(ctx, cfg.WSURL)
		if err != nil {
			httpClient.Close()
			return nil, errors.Mark(errors.Wrap(err, "dial websocket"), errors.ErrChainUnavailable)
		}
		ws = wsClient
	}

	return newClient(cfg, httpClient, ws, log), nil
}

func newClient(cfg Config, r, ws rpc, log *logger.Logger) *Client {
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = 60 * time.Second
	}
	rc := retry.DefaultConfig()
	l := log.With("component", "chain_client", "chain_id", cfg.ChainID)
	rc.OnRetry = func(attempt int, wait time.Duration, err error) {
		l.Warnw("RPC call failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	return &Client{cfg: cfg, rpc: r, ws: ws, retry: rc, log: l}
}

// ChainID returns the configured chain id
func (c *Client) ChainID() int64 {
	return c.cfg.ChainID
}

// BlockNumber returns the latest block minus the confirmation depth
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := retry.DoWithResult(ctx, c.retry, c.rpc.BlockNumber)
	if err != nil {
		return 0, errors.Mark(err, errors.ErrChainUnavailable)
	}
	if head < c.cfg.Confirmations {
		return 0, nil
	}
	return head - c.cfg.Confirmations, nil
}

// BlockTime returns the header timestamp of a block
func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	header, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (*types.Header, error) {
		return c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	})
	if err != nil {
		return time.Time{}, errors.Mark(err, errors.ErrChainUnavailable)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// QueryEvents returns ERC-20 transfers in [from, to] and, when enabled, native value transfers.
// A transaction yields at most one event: its lowest-index Transfer log, else its native transfer.
func (c *Client) QueryEvents(ctx context.Context, from, to uint64) ([]event.RawEvent, error) {
	if to < from {
		return nil, errors.NewValidationError("to", "end block before start block", to)
	}

	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{{TransferTopic}},
	}

	logs, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) ([]types.Log, error) {
		return c.rpc.FilterLogs(ctx, q)
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "filter logs %d-%d", from, to), errors.ErrChainUnavailable)
	}

	times := make(map[uint64]time.Time)
	blockTime := func(n uint64) (time.Time, error) {
		if t, ok := times[n]; ok {
			return t, nil
		}
		t, err := c.BlockTime(ctx, n)
		if err != nil {
			return time.Time{}, err
		}
		times[n] = t
		return t, nil
	}

	// one event per transaction, from its lowest-index Transfer log
	slices.SortStableFunc(logs, func(a, b types.Log) int {
		return cmp.Or(
			cmp.Compare(a.BlockNumber, b.BlockNumber),
			cmp.Compare(a.TxIndex, b.TxIndex),
			cmp.Compare(a.Index, b.Index),
		)
	})
	seen := make(map[string]struct{}, len(logs))

	out := make([]event.RawEvent, 0, len(logs))
	for _, lg := range logs {
		raw, ok := DecodeTransferLog(lg)
		if !ok {
			continue
		}
		if _, dup := seen[raw.TxHash]; dup {
			continue
		}
		seen[raw.TxHash] = struct{}{}
		ts, err := blockTime(lg.BlockNumber)
		if err != nil {
			return nil, err
		}
		raw.ChainID = c.cfg.ChainID
		raw.Timestamp = ts.Unix()
		out = append(out, raw)
	}

	if c.cfg.IncludeNativeTransfers {
		for n := from; n <= to; n++ {
			native, err := c.nativeTransfers(ctx, n)
			if err != nil {
				return nil, err
			}
			for _, raw := range native {
				if _, dup := seen[raw.TxHash]; dup {
					continue
				}
				seen[raw.TxHash] = struct{}{}
				out = append(out, raw)
			}
		}
	}

	return out, nil
}

func (c *Client) nativeTransfers(ctx context.Context, number uint64) ([]event.RawEvent, error) {
	block, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (*types.Block, error) {
		return c.rpc.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "block %d", number), errors.ErrChainUnavailable)
	}

	var out []event.RawEvent
	for _, tx := range block.Transactions() {
		if tx.To() == nil || tx.Value().Sign() == 0 {
			continue
		}
		sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			c.log.Debugw("Skipping transaction with unrecoverable sender", "tx_hash", tx.Hash().Hex(), "error", err)
			continue
		}
		out = append(out, event.RawEvent{
			ChainID:     c.cfg.ChainID,
			BlockNumber: number,
			TxHash:      tx.Hash().Hex(),
			From:        sender.Hex(),
			To:          tx.To().Hex(),
			Value:       tx.Value().String(),
			Input:       hexutil.Encode(tx.Data()),
			Timestamp:   int64(block.Time()),
		})
	}
	return out, nil
}

// DecodeTransferLog turns an ERC-20 Transfer log into a raw event.
// Logs with a different topic or malformed topics are rejected.
// The ledger keys events by transaction, so callers decoding a block keep only
// the lowest-index Transfer log of each transaction (see QueryEvents).
func DecodeTransferLog(lg types.Log) (event.RawEvent, bool) {
	if len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic || lg.Removed {
		return event.RawEvent{}, false
	}

	amount := new(big.Int).SetBytes(lg.Data)

	return event.RawEvent{
		BlockNumber:   lg.BlockNumber,
		TxHash:        lg.TxHash.Hex(),
		LogIndex:      lg.Index,
		From:          common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		To:            common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		Value:         "0",
		Input:         transferSelector,
		TokenContract: lg.Address.Hex(),
		TokenAmount:   amount.String(),
	}, true
}

// Close releases the RPC connections
func (c *Client) Close() {
	c.rpc.Close()
	if c.ws != c.rpc {
		c.ws.Close()
	}
}
