package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	ObserveToolCall("gcc", "compile", 0.2, true)
	ObserveToolCall("gcc", "link", 0.1, false)
	ObserveBuild("hello", "c", 0.3, true)
	AddProductsRemoved("hello", 2)
	IncCleanupFailure("hello")
	IncRunning()
	AddLines("hello", 3)
	IncExit("hello", 0, false)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"polybuild_tool_invocations_total":       false,
		"polybuild_tool_duration_seconds":        false,
		"polybuild_build_total":                  false,
		"polybuild_build_duration_seconds":       false,
		"polybuild_build_products_removed_total": false,
		"polybuild_build_cleanup_failures_total": false,
		"polybuild_model_running":                false,
		"polybuild_model_output_lines_total":     false,
		"polybuild_model_exits_total":            false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
	if v := value(t, toolInvocations.WithLabelValues("gcc", "link", "fail")); v < 1 {
		t.Fatalf("failed link not counted: %v", v)
	}
	if v := value(t, productsRemoved.WithLabelValues("hello")); v < 2 {
		t.Fatalf("products removed not counted: %v", v)
	}
	DecRunning()
}

func TestHandlerServesMetrics(t *testing.T) {
	// Ensure collectors are registered with the default registry used by Handler().
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	ObserveBuild("x", "python", 0.01, true)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "polybuild_build_total") {
		t.Fatalf("metrics output missing build_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ObserveToolCall("cc", "compile", 0.01, true)
			RecordStateTransition("c", "unbuilt", "compiling")
			AddLines("c", 1)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestStateMetrics(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	RecordStateTransition("m", "compiling", "linking")
	SetCurrentState("m", "linking", true)
	SetCurrentState("m", "compiling", false)

	if v := value(t, currentStates.WithLabelValues("m", "linking")); v != 1 {
		t.Fatalf("linking gauge = %v", v)
	}
	if v := value(t, currentStates.WithLabelValues("m", "compiling")); v != 0 {
		t.Fatalf("compiling gauge = %v", v)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	ObserveToolCall("t", "compile", 1, true)
	ObserveBuild("t", "c", 1, false)
	AddProductsRemoved("t", 1)
	IncCleanupFailure("t")
	RecordStateTransition("t", "a", "b")
	SetCurrentState("t", "a", true)
	IncRunning()
	DecRunning()
	AddLines("t", 1)
	IncExit("t", 1, true)
}

func TestRegisterError(t *testing.T) {
	errorRegisterer := &errorRegisterer{
		shouldError: true,
	}

	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(errorRegisterer)
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Custom registerer for testing error handling
type errorRegisterer struct {
	shouldError bool
}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	if e.shouldError {
		return errors.New("test registration error")
	}
	return nil
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}
