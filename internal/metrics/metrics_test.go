package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveTransition_IgnoresNonPositive(t *testing.T) {
	base := testutil.ToFloat64(StatusTransitions.WithLabelValues("seen"))

	ObserveTransition("seen", 0)
	ObserveTransition("seen", -2)
	require.Equal(t, base, testutil.ToFloat64(StatusTransitions.WithLabelValues("seen")))

	ObserveTransition("seen", 3)
	require.Equal(t, base+3, testutil.ToFloat64(StatusTransitions.WithLabelValues("seen")))
}

func TestObserveEvent(t *testing.T) {
	base := testutil.ToFloat64(RealtimeEvents.WithLabelValues("typing", In))
	ObserveEvent("typing", In)
	require.Equal(t, base+1, testutil.ToFloat64(RealtimeEvents.WithLabelValues("typing", In)))
}
