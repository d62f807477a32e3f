package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultMaxLatencySamples = 1000

// Config はメトリクスの設定
type Config struct {
	MaxLatencySamples int // P99 計算用に保持するサンプル数
}

// Metrics は処理（ジョブやリクエスト）のメトリクスを収集する
// worker.Observer を満たすので、プールに直接渡せる
type Metrics struct {
	total          atomic.Uint64
	succeeded      atomic.Uint64
	failed         atomic.Uint64
	panicked       atomic.Uint64
	totalLatencyNs atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	lastResetTime     time.Time
	windowCount       uint64
	latencies         []time.Duration // 直近 maxLatencySamples 件のリング
	next              int             // latencies の次の書き込み位置
	maxLatencySamples int
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(Config{MaxLatencySamples: defaultMaxLatencySamples})
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	samples := config.MaxLatencySamples
	if samples <= 0 {
		samples = defaultMaxLatencySamples
	}
	now := time.Now()
	return &Metrics{
		startTime:         now,
		lastResetTime:     now,
		latencies:         make([]time.Duration, 0, samples),
		maxLatencySamples: samples,
	}
}

// RecordSuccess は成功した処理を記録する
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.total.Add(1)
	m.succeeded.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowCount++
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	} else {
		m.latencies[m.next] = latency
	}
	m.next = (m.next + 1) % m.maxLatencySamples
	m.mu.Unlock()
}

// RecordFailure は失敗した処理を記録する
func (m *Metrics) RecordFailure(latency time.Duration) {
	m.total.Add(1)
	m.failed.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowCount++
	m.mu.Unlock()
}

// JobDone はプールからの完了通知。panic したジョブは失敗として数える
func (m *Metrics) JobDone(_ int, elapsed time.Duration, panicked bool) {
	if panicked {
		m.panicked.Add(1)
		m.RecordFailure(elapsed)
		return
	}
	m.RecordSuccess(elapsed)
}

// Total は総処理数を返す
func (m *Metrics) Total() uint64 {
	return m.total.Load()
}

// Succeeded は成功数を返す
func (m *Metrics) Succeeded() uint64 {
	return m.succeeded.Load()
}

// Failed は失敗数を返す
func (m *Metrics) Failed() uint64 {
	return m.failed.Load()
}

// Panicked は panic したジョブ数を返す
func (m *Metrics) Panicked() uint64 {
	return m.panicked.Load()
}

// Rate は直近ウィンドウの毎秒処理数を返す
func (m *Metrics) Rate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowCount) / elapsed
}

// OverallRate は開始からの平均毎秒処理数を返す
func (m *Metrics) OverallRate() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.total.Load()) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.total.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency は直近サンプルの P99 レイテンシを返す
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.total.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failed.Load()) / float64(total)
}

// Reset は Rate の計測ウィンドウをリセットする
// 累積カウンタとレイテンシのリングはそのまま
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowCount = 0
	m.lastResetTime = time.Now()
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	Total          uint64
	Succeeded      uint64
	Failed         uint64
	Panicked       uint64
	Rate           float64
	OverallRate    float64
	AverageLatency time.Duration
	P99Latency     time.Duration
	ErrorRate      float64
	Elapsed        time.Duration
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Total:          m.Total(),
		Succeeded:      m.Succeeded(),
		Failed:         m.Failed(),
		Panicked:       m.Panicked(),
		Rate:           m.Rate(),
		OverallRate:    m.OverallRate(),
		AverageLatency: m.AverageLatency(),
		P99Latency:     m.P99Latency(),
		ErrorRate:      m.ErrorRate(),
		Elapsed:        time.Since(m.startTime),
	}
}

// Report は人が読むためのレポート文字列を返す
func (s Snapshot) Report() string {
	var b strings.Builder
	b.WriteString("====================================================\n")
	fmt.Fprintf(&b, "Elapsed:      %v\n", s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "Total:        %d (ok: %d, failed: %d)\n", s.Total, s.Succeeded, s.Failed)
	fmt.Fprintf(&b, "Throughput:   %.2f/s\n", s.OverallRate)
	fmt.Fprintf(&b, "Avg latency:  %v\n", s.AverageLatency)
	fmt.Fprintf(&b, "P99 latency:  %v\n", s.P99Latency)
	fmt.Fprintf(&b, "Error rate:   %.2f%%\n", s.ErrorRate*100)
	b.WriteString("====================================================")
	return b.String()
}
