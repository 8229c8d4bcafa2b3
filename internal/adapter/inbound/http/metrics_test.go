package http

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/ipcgate/internal/port/outbound"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.CallsTotal == nil {
		t.Error("CallsTotal not initialized")
	}
	if m.DispatchTotal == nil {
		t.Error("DispatchTotal not initialized")
	}
	if m.ConnectionsActive == nil {
		t.Error("ConnectionsActive not initialized")
	}
	if m.CapabilitiesExported == nil {
		t.Error("CapabilitiesExported not initialized")
	}
}

func TestMetrics_CallObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CallCompleted("Init", "Ping", outbound.StatusOK, 2*time.Millisecond)
	m.CallCompleted("Init", "Ping", outbound.StatusOK, time.Millisecond)
	m.CallCompleted("Init", "Fail", outbound.StatusRemoteError, time.Millisecond)

	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("Init", "Ping", outbound.StatusOK)); got != 2 {
		t.Errorf("calls_total{Ping,ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("Init", "Fail", outbound.StatusRemoteError)); got != 1 {
		t.Errorf("calls_total{Fail,remote_error} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.CallDuration); got != 2 {
		t.Errorf("call_duration_seconds series = %d, want 2", got)
	}

	m.DispatchCompleted("Counter", "Inc", outbound.StatusOK, time.Microsecond)
	if got := testutil.ToFloat64(m.DispatchTotal.WithLabelValues("Counter", "Inc", outbound.StatusOK)); got != 1 {
		t.Errorf("dispatch_total = %v, want 1", got)
	}

	m.ConnectionOpened("client")
	m.ConnectionOpened("client")
	m.ConnectionClosed("client")
	if got := testutil.ToFloat64(m.ConnectionsActive.WithLabelValues("client")); got != 1 {
		t.Errorf("connections_active{client} = %v, want 1", got)
	}

	m.ExportsChanged(3)
	m.ExportsChanged(-1)
	if got := testutil.ToFloat64(m.CapabilitiesExported); got != 2 {
		t.Errorf("capabilities_exported = %v, want 2", got)
	}
}

func TestMetrics_RecordCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCall(proxy.CallRecord{Interface: "Init", Method: "Ping", Decision: proxy.DecisionAllow})
	m.RecordCall(proxy.CallRecord{Interface: "Init", Method: "Fail", Decision: proxy.DecisionDeny})
	m.RecordCall(proxy.CallRecord{Interface: "Init", Method: "Fail", Decision: proxy.DecisionDeny})

	if got := testutil.ToFloat64(m.AdmissionsTotal.WithLabelValues(proxy.DecisionDeny)); got != 2 {
		t.Errorf("admissions_total{deny} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AdmissionsTotal.WithLabelValues(proxy.DecisionAllow)); got != 1 {
		t.Errorf("admissions_total{allow} = %v, want 1", got)
	}
}

func TestNewRegistry_RuntimeCollectors(t *testing.T) {
	reg := NewRegistry()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() == "go_goroutines" {
			found = true
		}
	}
	if !found {
		t.Error("go_goroutines not registered")
	}
}
