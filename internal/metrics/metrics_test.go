package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	m := New()

	if m.Total() != 0 {
		t.Errorf("expected 0 total, got %d", m.Total())
	}
	if m.Succeeded() != 0 {
		t.Errorf("expected 0 succeeded, got %d", m.Succeeded())
	}
	if m.AverageLatency() != 0 || m.P99Latency() != 0 || m.ErrorRate() != 0 {
		t.Error("expected zero latency and error rate on empty metrics")
	}
}

func TestMetricsRecordSuccess(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)

	if m.Total() != 3 {
		t.Errorf("expected 3 total, got %d", m.Total())
	}
	if m.Succeeded() != 3 {
		t.Errorf("expected 3 succeeded, got %d", m.Succeeded())
	}
	if m.Failed() != 0 {
		t.Errorf("expected 0 failed, got %d", m.Failed())
	}
}

func TestMetricsRecordFailure(t *testing.T) {
	m := New()

	m.RecordFailure(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)

	if m.Total() != 2 {
		t.Errorf("expected 2 total, got %d", m.Total())
	}
	if m.Failed() != 1 {
		t.Errorf("expected 1 failed, got %d", m.Failed())
	}
}

func TestMetricsJobDone(t *testing.T) {
	m := New()

	m.JobDone(0, 5*time.Millisecond, false)
	m.JobDone(1, 5*time.Millisecond, true)

	if m.Succeeded() != 1 || m.Failed() != 1 || m.Panicked() != 1 {
		t.Errorf("unexpected counters: %+v", m.Snapshot())
	}
}

func TestMetricsAverageLatency(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)

	if avg := m.AverageLatency(); avg != 20*time.Millisecond {
		t.Errorf("expected average latency 20ms, got %v", avg)
	}
}

func TestMetricsErrorRate(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordFailure(10 * time.Millisecond)

	if rate := m.ErrorRate(); rate != 0.5 {
		t.Errorf("expected error rate 0.5, got %f", rate)
	}
}

func TestMetricsP99Latency(t *testing.T) {
	m := New()

	for i := 1; i <= 100; i++ {
		m.RecordSuccess(time.Duration(i) * time.Millisecond)
	}

	p99 := m.P99Latency()
	if p99 < 99*time.Millisecond || p99 > 100*time.Millisecond {
		t.Errorf("expected P99 around 99-100ms, got %v", p99)
	}
}

func TestMetricsSampleLimit(t *testing.T) {
	m := NewWithConfig(Config{MaxLatencySamples: 10})

	for i := 1; i <= 50; i++ {
		m.RecordSuccess(time.Duration(i) * time.Millisecond)
	}

	// 直近 10 サンプル (41ms〜50ms) だけ保持される
	if p99 := m.P99Latency(); p99 != 50*time.Millisecond {
		t.Errorf("expected sampled P99 50ms, got %v", p99)
	}
	if m.Total() != 50 {
		t.Errorf("expected 50 total, got %d", m.Total())
	}
}

func TestMetricsP99FollowsRecentLatency(t *testing.T) {
	m := New()

	for range 1000 {
		m.JobDone(0, time.Millisecond, false)
	}
	if p99 := m.P99Latency(); p99 != time.Millisecond {
		t.Fatalf("expected P99 1ms after fast jobs, got %v", p99)
	}

	// 半分入れ替わった時点で P99 は遅いジョブ側に動く
	for range 500 {
		m.JobDone(0, time.Second, false)
	}
	if p99 := m.P99Latency(); p99 != time.Second {
		t.Errorf("expected P99 1s after slow jobs, got %v", p99)
	}

	for range 5000 {
		m.JobDone(0, time.Second, false)
	}
	if p99 := m.P99Latency(); p99 != time.Second {
		t.Errorf("expected P99 to stay at 1s, got %v", p99)
	}

	// リングが一周したら速いジョブだけに戻る
	for range 1000 {
		m.JobDone(0, 2*time.Millisecond, false)
	}
	if p99 := m.P99Latency(); p99 != 2*time.Millisecond {
		t.Errorf("expected P99 2ms once the ring wrapped, got %v", p99)
	}
}

func TestMetricsReset(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)

	m.Reset()

	if m.Rate() != 0 {
		t.Errorf("expected rate 0 after reset, got %f", m.Rate())
	}
	if m.Total() != 2 {
		t.Errorf("expected total 2 after reset, got %d", m.Total())
	}
	if p99 := m.P99Latency(); p99 != 20*time.Millisecond {
		t.Errorf("expected latency samples to survive reset, got %v", p99)
	}

	m.RecordSuccess(time.Millisecond)
	if m.Rate() <= 0 {
		t.Errorf("expected positive rate after new record, got %f", m.Rate())
	}
}

func TestMetricsConcurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.RecordSuccess(time.Millisecond)
			}
		}()
	}

	wg.Wait()

	if m.Total() != 10000 {
		t.Errorf("expected 10000, got %d", m.Total())
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordFailure(20 * time.Millisecond)

	snap := m.Snapshot()

	if snap.Total != 2 {
		t.Errorf("expected 2 total, got %d", snap.Total)
	}
	if snap.Succeeded != 1 {
		t.Errorf("expected 1 succeeded, got %d", snap.Succeeded)
	}
	if snap.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", snap.Failed)
	}

	report := snap.Report()
	if !strings.Contains(report, "Total:        2 (ok: 1, failed: 1)") {
		t.Errorf("unexpected report:\n%s", report)
	}
	if !strings.Contains(report, "Error rate:   50.00%") {
		t.Errorf("unexpected report:\n%s", report)
	}
}
