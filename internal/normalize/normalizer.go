// Package normalize turns provider-specific raw events into event.NormalizedEvent.
package normalize

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"chainintel/internal/domain/event"
	"chainintel/pkg/errors"
)

const (
	SelectorTransfer     = "0xa9059cbb"
	SelectorTransferFrom = "0x23b872dd"
)

type method struct {
	name      string
	signature string
	// position of the uint256 amount argument in the calldata
	amountArg int
}

var knownMethods = map[string]method{
	SelectorTransfer:     {name: "transfer", signature: "transfer(address,uint256)", amountArg: 1},
	SelectorTransferFrom: {name: "transferFrom", signature: "transferFrom(address,address,uint256)", amountArg: 2},
}

// Normalizer converts raw events. It holds no state besides the clock and id source.
type Normalizer struct {
	now   func() time.Time
	newID func() string
}

// New creates a Normalizer
func New() *Normalizer {
	return &Normalizer{
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

// Normalize validates raw and builds the canonical event for chainID.
// A zero chainID falls back to raw.ChainID.
func (n *Normalizer) Normalize(chainID int64, raw event.RawEvent) (*event.NormalizedEvent, error) {
	if chainID == 0 {
		chainID = raw.ChainID
	}
	if chainID <= 0 {
		return nil, errors.NewValidationError("chainId", "chain id is required", chainID)
	}

	txHash := strings.ToLower(strings.TrimSpace(raw.TxHash))
	if txHash == "" {
		return nil, errors.NewValidationError("transactionHash", "transaction hash is required", raw.TxHash)
	}

	from, err := normalizeAddress("from", raw.From)
	if err != nil {
		return nil, err
	}
	to, err := normalizeAddress("to", raw.To)
	if err != nil {
		return nil, err
	}
	if from == "" && to == "" {
		return nil, errors.NewValidationError("from", "at least one of from/to is required", nil)
	}

	value, err := ParseQuantity(raw.Value)
	if err != nil {
		return nil, errors.NewValidationError("value", err.Error(), raw.Value)
	}

	now := n.now()
	eventTime := now
	if raw.Timestamp > 0 {
		eventTime = time.Unix(raw.Timestamp, 0).UTC()
	}

	ev := &event.NormalizedEvent{
		TraceID:     n.newID(),
		ChainID:     chainID,
		BlockNumber: raw.BlockNumber,
		TxHash:      txHash,
		LogIndex:    raw.LogIndex,
		From:        from,
		To:          to,
		Value:       value,
		EventTime:   eventTime,
		IngestedAt:  now,
		Raw:         passthrough(raw),
	}

	if err := classify(ev, raw); err != nil {
		return nil, err
	}

	return ev, nil
}

func classify(ev *event.NormalizedEvent, raw event.RawEvent) error {
	input := strings.ToLower(strings.TrimSpace(raw.Input))

	switch {
	case raw.BatchOperation > 0:
		ev.Kind = event.KindBatchOperation
		ev.Batch = &event.BatchOperation{Operations: raw.BatchOperation}
		if sel := selector(input); sel != "" {
			ev.Method = methodCall(sel, input, raw.MethodName)
		}
		return nil

	case raw.TokenContract != "":
		return tokenTransfer(ev, raw, input)

	case input == "" || input == "0x":
		ev.Kind = event.KindTransfer
		return nil
	}

	sel := selector(input)
	if sel == "" {
		return errors.NewValidationError("input", "calldata shorter than a selector", raw.Input)
	}
	if _, ok := knownMethods[sel]; ok {
		return tokenTransfer(ev, raw, input)
	}

	ev.Kind = event.KindContractCall
	ev.Method = methodCall(sel, input, raw.MethodName)
	return nil
}

func tokenTransfer(ev *event.NormalizedEvent, raw event.RawEvent, input string) error {
	contract := ev.To
	if raw.TokenContract != "" {
		c, err := normalizeAddress("tokenContract", raw.TokenContract)
		if err != nil {
			return err
		}
		contract = c
	}

	amount := decimal.Zero
	switch {
	case raw.TokenAmount != "":
		a, err := ParseQuantity(raw.TokenAmount)
		if err != nil {
			return errors.NewValidationError("tokenAmount", err.Error(), raw.TokenAmount)
		}
		amount = a
	case input != "":
		if m, ok := knownMethods[selector(input)]; ok {
			if a, ok := calldataUint(input, m.amountArg); ok {
				amount = a
			}
		}
	}

	ev.Kind = event.KindTokenTransfer
	ev.Token = &event.TokenTransfer{Contract: contract, Amount: amount}
	return nil
}

func methodCall(sel, input, name string) *event.MethodCall {
	mc := &event.MethodCall{Name: "unknown", Signature: sel, Input: input}
	if m, ok := knownMethods[sel]; ok {
		mc.Name = m.name
		mc.Signature = m.signature
	}
	if name != "" {
		mc.Name = name
	}
	return mc
}

func selector(input string) string {
	if len(input) < 10 || !strings.HasPrefix(input, "0x") {
		return ""
	}
	return input[:10]
}

// calldataUint reads the 32-byte argument at position arg after the selector
func calldataUint(input string, arg int) (decimal.Decimal, bool) {
	data, err := hexutil.Decode(input)
	if err != nil {
		return decimal.Decimal{}, false
	}
	start := 4 + arg*32
	if len(data) < start+32 {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromBigInt(new(big.Int).SetBytes(data[start:start+32]), 0), true
}

func normalizeAddress(field, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", nil
	}
	hasPrefix := strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X")
	if !hasPrefix || !common.IsHexAddress(addr) {
		return "", errors.NewValidationError(field, "invalid address format", addr)
	}
	return strings.ToLower(addr), nil
}

// ParseQuantity parses a non-negative integer given in base 10 or as 0x hex.
// Empty input is zero.
func ParseQuantity(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := strings.TrimLeft(s[2:], "0")
		if digits == "" {
			return decimal.Zero, nil
		}
		v, err := hexutil.DecodeBig("0x" + digits)
		if err != nil {
			return decimal.Decimal{}, errors.Newf("invalid hex quantity: %v", err)
		}
		return decimal.NewFromBigInt(v, 0), nil
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return decimal.Decimal{}, errors.New("value must be a non-negative integer")
		}
	}
	return decimal.NewFromString(s)
}

func passthrough(raw event.RawEvent) map[string]any {
	out := make(map[string]any, len(raw.Extra)+1)
	for k, v := range raw.Extra {
		out[k] = v
	}
	if raw.Input != "" {
		out["input"] = raw.Input
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
