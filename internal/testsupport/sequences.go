package testsupport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var testSequence atomic.Uint64

func init() {
	// start from the clock so reruns against a shared database do not collide
	testSequence.Store(uint64(time.Now().UnixNano() % 1000000))
}

// NextSequence returns the next unique sequence number
func NextSequence() uint64 {
	return testSequence.Add(1)
}

// UniqueName generates a unique name with given prefix
// Example: UniqueName("receiver") -> "receiver_123456"
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, NextSequence())
}

// UniqueTxHash returns a well-formed, never repeated transaction hash
func UniqueTxHash() string {
	return fmt.Sprintf("0x%064x", NextSequence())
}

// UniqueAddress returns a well-formed, never repeated lowercase address
func UniqueAddress() string {
	return fmt.Sprintf("0x%040x", NextSequence())
}

// UniqueChainID returns a chain id no real network uses
func UniqueChainID() int64 {
	return 9_000_000 + int64(NextSequence()%1_000_000)
}

// UniqueTraceID returns a fresh trace id
func UniqueTraceID() string {
	return uuid.New().String()
}
