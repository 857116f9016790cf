package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/assetvault/custodyd/internal/infrastructure/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	collector.OperationTransitioned("MINT", "APPROVED")
	collector.OperationTransitioned("MINT", "APPROVED")
	collector.OperationTransitioned("BURN", "FAILED")
	collector.MonitorPolled("pending")
	collector.MonitorsActive(2)
	collector.MonitorsActive(-1)
	collector.SettlementCompleted("settled")

	count, err := testutil.GatherAndCount(reg, "custodyd_operation_transitions_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	srv := httptest.NewServer(metrics.Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `custodyd_operation_transitions_total{status="APPROVED",type="MINT"} 2`)
	require.Contains(t, string(body), `custodyd_monitor_active 1`)
	require.Contains(t, string(body), `custodyd_settlement_completed_total{outcome="settled"} 1`)
	require.Contains(t, string(body), `custodyd_monitor_polls_total{outcome="pending"} 1`)
}

func TestCollectorDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)

	require.Panics(t, func() { metrics.NewCollector(reg) })
}
