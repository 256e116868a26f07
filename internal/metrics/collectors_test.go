package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/domain/eventstatus"
	"chainintel/internal/testsupport"
	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

type brokenStatusStore struct {
	eventstatus.Repository
}

func (brokenStatusStore) CountByStatus(context.Context) (map[eventstatus.Status]int64, error) {
	return nil, errors.ErrPersistence
}

func TestStatusCollector(t *testing.T) {
	store := testsupport.NewStatusStore()
	store.Put(&eventstatus.Record{ChainID: 1, TxHash: "0x1", Status: eventstatus.StatusSuccess})
	store.Put(&eventstatus.Record{ChainID: 1, TxHash: "0x2", Status: eventstatus.StatusSuccess})
	store.Put(&eventstatus.Record{ChainID: 1, TxHash: "0x3", Status: eventstatus.StatusFailed})

	expected := `
# HELP chainintel_event_status_records Event status records by status
# TYPE chainintel_event_status_records gauge
chainintel_event_status_records{status="Alerted"} 0
chainintel_event_status_records{status="Failed"} 1
chainintel_event_status_records{status="Pending"} 0
chainintel_event_status_records{status="Processing"} 0
chainintel_event_status_records{status="Success"} 2
`
	err := testutil.CollectAndCompare(NewStatusCollector(logger.Nop(), store), strings.NewReader(expected))
	require.NoError(t, err)
}

func TestStatusCollector_StoreErrorEmitsNothing(t *testing.T) {
	c := NewStatusCollector(logger.Nop(), brokenStatusStore{})
	assert.Zero(t, testutil.CollectAndCount(c))
}
