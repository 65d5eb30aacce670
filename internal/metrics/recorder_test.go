package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

func TestRecorder_Outcomes(t *testing.T) {
	r, err := NewRecorder(prometheus.NewRegistry())
	require.NoError(t, err)

	r.ObserveOutcome(entity.ProcessingOutcome{Status: constants.StatusOK, Duration: time.Second})
	r.ObserveOutcome(entity.ProcessingOutcome{Status: constants.StatusNeedsReview, Reparsed: true})
	r.ObserveOutcome(entity.ProcessingOutcome{Status: constants.StatusOK, Skipped: true})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.files.WithLabelValues("OK", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.files.WithLabelValues("NEEDS_REVIEW", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.files.WithLabelValues("skipped", "false")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.fileDuration))
}

func TestRecorder_ExtractorAndSaves(t *testing.T) {
	r, err := NewRecorder(prometheus.NewRegistry())
	require.NoError(t, err)

	r.ObserveExtractorCall("first", 20*time.Millisecond, nil)
	r.ObserveExtractorCall("reparse", 30*time.Millisecond, fmt.Errorf("%w: 503", common.ErrUpstreamService))
	r.ObserveSave(time.Millisecond, nil)
	r.ObserveSave(time.Millisecond, fmt.Errorf("%w: disk full", common.ErrPersistence))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.extractorCalls.WithLabelValues("first", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.extractorCalls.WithLabelValues("reparse", "upstream_service")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.saves.WithLabelValues("persistence")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.extractorTime))
}

func TestRecorder_Export(t *testing.T) {
	r, err := NewRecorder(prometheus.NewRegistry())
	require.NoError(t, err)

	r.ObserveExport(7, nil)
	r.ObserveExport(3, errors.New("disk full"))

	assert.Equal(t, 7.0, testutil.ToFloat64(r.exportedRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.exportErrors))
}

func TestNewRecorder_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)

	_, err = NewRecorder(reg)
	assert.Error(t, err)
}
