package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRays(t *testing.T) {
	before := testutil.ToFloat64(RaysTraced.WithLabelValues("hit"))
	RecordRays("hit", 5)
	RecordRays("hit", 0)
	assert.Equal(t, before+5, testutil.ToFloat64(RaysTraced.WithLabelValues("hit")))
}

func TestRecordCache(t *testing.T) {
	beforeHit := testutil.ToFloat64(CacheLookups.WithLabelValues("geometry", "hit"))
	beforeMiss := testutil.ToFloat64(CacheLookups.WithLabelValues("geometry", "miss"))
	RecordCache("geometry", true)
	RecordCache("geometry", false)
	RecordCache("geometry", false)
	assert.Equal(t, beforeHit+1, testutil.ToFloat64(CacheLookups.WithLabelValues("geometry", "hit")))
	assert.Equal(t, beforeMiss+2, testutil.ToFloat64(CacheLookups.WithLabelValues("geometry", "miss")))
}

func TestRegistryGathers(t *testing.T) {
	RecordWarning("ODD_CROSSINGS", 2)
	families, err := Registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
