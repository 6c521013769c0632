// Package metrics 记录抓取过程的 Prometheus 指标，
// 运行结束后以 textfile 形式导出，供 node_exporter 收集。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 抓取结果标签值
const (
	ResultWritten     = "written"
	ResultNotModified = "not_modified"
	ResultNotFound    = "not_found"
	ResultError       = "error"
)

// Metrics 持有一次运行的全部指标及其独立的注册表。
type Metrics struct {
	Registry *prometheus.Registry

	FetchTotal     *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	BytesWritten   prometheus.Counter
	LastSuccess    prometheus.Gauge
	UnfetchedTotal prometheus.Gauge
}

// New 创建并注册所有指标。
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repodata_fetch_total",
			Help: "Fetched channel subdirs by result.",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repodata_fetch_duration_seconds",
			Help:    "Time to download and write one repodata.json.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repodata_written_bytes_total",
			Help: "Bytes of repodata.json written.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repodata_last_success_timestamp_seconds",
			Help: "Unix time of the last complete fetch.",
		}),
		UnfetchedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repodata_unfetched_channels",
			Help: "Channels without any fetched subdir in the last run.",
		}),
	}

	m.Registry.MustRegister(
		m.FetchTotal,
		m.FetchDuration,
		m.BytesWritten,
		m.LastSuccess,
		m.UnfetchedTotal,
	)
	return m
}

// WriteTextfile 把当前指标写入 node_exporter textfile 格式的文件。
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
