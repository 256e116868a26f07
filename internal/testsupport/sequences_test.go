package testsupport

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextSequence_Increments(t *testing.T) {
	seq1 := NextSequence()
	seq2 := NextSequence()

	assert.Equal(t, seq1+1, seq2, "Should increment by 1")
}

func TestUniqueName_GeneratesUnique(t *testing.T) {
	name1 := UniqueName("receiver")
	name2 := UniqueName("receiver")

	assert.NotEqual(t, name1, name2)
	assert.Contains(t, name1, "receiver_")
}

func TestUniqueTxHash_IsWellFormed(t *testing.T) {
	h1 := UniqueTxHash()
	h2 := UniqueTxHash()

	assert.NotEqual(t, h1, h2)
	assert.Len(t, h1, 66)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, h1)
}

func TestUniqueAddress_IsWellFormed(t *testing.T) {
	a := UniqueAddress()

	assert.Len(t, a, 42)
	assert.Regexp(t, `^0x[0-9a-f]{40}$`, a)
}

func TestUniqueChainID_OutsideRealNetworks(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := UniqueChainID()
		assert.GreaterOrEqual(t, id, int64(9_000_000))
		assert.Less(t, id, int64(10_000_000))
	}
}

func TestUniqueTraceID_GeneratesUUID(t *testing.T) {
	assert.Len(t, UniqueTraceID(), 36)
	assert.NotEqual(t, UniqueTraceID(), UniqueTraceID())
}

func TestConcurrentSequenceGeneration(t *testing.T) {
	const goroutines = 100
	const iterations = 100

	seen := sync.Map{}
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				seq := NextSequence()
				_, loaded := seen.LoadOrStore(seq, true)
				assert.False(t, loaded, "Sequence %d should be unique", seq)
			}
		}()
	}

	wg.Wait()
}
