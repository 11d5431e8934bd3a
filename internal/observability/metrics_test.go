package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// NewMetrics registers with the default registry, so the package shares a
// single instance across tests.
var (
	metricsOnce sync.Once
	testMetrics *Metrics
)

func sharedMetrics() *Metrics {
	metricsOnce.Do(func() {
		testMetrics = NewMetrics()
	})
	return testMetrics
}

func TestMetrics_WorkflowLifecycle(t *testing.T) {
	m := sharedMetrics()

	m.WorkflowStarted()
	if got := testutil.ToFloat64(m.ActiveWorkflows); got != 1 {
		t.Errorf("active workflows = %v, want 1", got)
	}

	m.WorkflowEnded("done", 12.5)
	if got := testutil.ToFloat64(m.ActiveWorkflows); got != 0 {
		t.Errorf("active workflows after end = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.WorkflowCounter.WithLabelValues("done")); got != 1 {
		t.Errorf("done workflows = %v, want 1", got)
	}
}

func TestMetrics_Steps(t *testing.T) {
	m := sharedMetrics()

	m.RecordStep("success")
	m.RecordStep("success")
	m.RecordStep("failed")

	if got := testutil.ToFloat64(m.StepCounter.WithLabelValues("success")); got != 2 {
		t.Errorf("successful steps = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StepCounter.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed steps = %v, want 1", got)
	}
}

func TestMetrics_RePlans(t *testing.T) {
	m := sharedMetrics()

	before := testutil.ToFloat64(m.RePlanCounter)
	m.RecordRePlan()
	if got := testutil.ToFloat64(m.RePlanCounter); got != before+1 {
		t.Errorf("replans = %v, want %v", got, before+1)
	}
}

func TestMetrics_LLMRequest(t *testing.T) {
	m := sharedMetrics()

	m.RecordLLMRequest("ollama", "llama3.2", "success", 1.2, 100, 50)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("ollama", "llama3.2", "success")); got != 1 {
		t.Errorf("llm requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("ollama", "llama3.2", "prompt")); got != 100 {
		t.Errorf("prompt tokens = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("ollama", "llama3.2", "completion")); got != 50 {
		t.Errorf("completion tokens = %v, want 50", got)
	}
}

func TestMetrics_LLMRequestZeroTokensNotCounted(t *testing.T) {
	m := sharedMetrics()

	m.RecordLLMRequest("openai", "gpt-4o", "error", 0.4, 0, 0)

	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("openai", "gpt-4o", "prompt")); got != 0 {
		t.Errorf("prompt tokens = %v, want 0", got)
	}
}

func TestMetrics_ToolExecution(t *testing.T) {
	m := sharedMetrics()

	m.RecordToolExecution("read_file", "success", 0.05)
	m.RecordToolExecution("read_file", "error", 0.01)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("read_file", "success")); got != 1 {
		t.Errorf("successful executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("read_file", "error")); got != 1 {
		t.Errorf("failed executions = %v, want 1", got)
	}
}

func TestMetrics_Errors(t *testing.T) {
	m := sharedMetrics()

	m.RecordError("provider", "rate_limit")
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("provider", "rate_limit")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestMetrics_HTTPRequest(t *testing.T) {
	m := sharedMetrics()

	m.RecordHTTPRequest("POST", "/api/chat", "200", 0.2)
	if got := testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("POST", "/api/chat", "200")); got != 1 {
		t.Errorf("http requests = %v, want 1", got)
	}
}

func TestMetrics_StoreQuery(t *testing.T) {
	m := sharedMetrics()

	m.RecordStoreQuery("save", "success", 0.003)
	if got := testutil.ToFloat64(m.StoreQueryCounter.WithLabelValues("save", "success")); got != 1 {
		t.Errorf("store queries = %v, want 1", got)
	}
}
