package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserverCounts(t *testing.T) {
	obs := NewObserver()
	before := testutil.ToFloat64(scansTotal.WithLabelValues("qr_expired"))

	obs.ScanOutcome("qr_expired")
	obs.ScanOutcome("qr_expired")
	obs.QRIssued()

	require.Equal(t, before+2, testutil.ToFloat64(scansTotal.WithLabelValues("qr_expired")))
	require.GreaterOrEqual(t, testutil.ToFloat64(qrIssuedTotal), 1.0)

	RateLimited("/v1/student/scan")
	require.GreaterOrEqual(t, testutil.ToFloat64(rateLimited.WithLabelValues("/v1/student/scan")), 1.0)
}
