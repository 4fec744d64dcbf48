package instrument

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	require := require.New(t)

	before := testutil.ToFloat64(fragmentsSent)
	FragmentSent()
	FragmentSent()
	require.Equal(before+2, testutil.ToFloat64(fragmentsSent))

	before = testutil.ToFloat64(acks.WithLabelValues(AckUnknown))
	Ack(AckUnknown)
	require.Equal(before+1, testutil.ToFloat64(acks.WithLabelValues(AckUnknown)))

	before = testutil.ToFloat64(dropped.WithLabelValues(DropNoRoute))
	Dropped(DropNoRoute)
	require.Equal(before+1, testutil.ToFloat64(dropped.WithLabelValues(DropNoRoute)))

	Pending(7)
	require.Equal(float64(7), testutil.ToFloat64(pending))
}
