package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordRelayAndExternalCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.ObserveRelay("inbound", OutcomeOK, 10*time.Millisecond)
	m.ObserveRelay("inbound", OutcomeDuplicate, time.Millisecond)
	m.ObserveExternal("carrier", nil)
	m.ObserveExternal("carrier", errors.New("boom"))
	m.SetDirectorySize(3)
	m.ObserveDeliveryStatus("")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayEvents.WithLabelValues("inbound", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.externalCalls.WithLabelValues("carrier", OutcomeError)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.directorySize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveryStatus.WithLabelValues("unknown")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRelay("inbound", OutcomeOK, time.Second)
	m.ObserveExternal("chat", nil)
	m.SetDirectorySize(1)
	m.ObserveDeliveryStatus("failed")
}

func TestNoopTracerStartsSpans(t *testing.T) {
	tp, err := NewTracerProvider(t.Context(), TracingConfig{})
	assert.NoError(t, err)
	_, span := tp.StartSpan(t.Context(), SpanRelayInbound, ConversationAttrs("conv-1")...)
	EndSpan(span, errors.New("x"))
	assert.NoError(t, tp.Shutdown(t.Context()))
}
