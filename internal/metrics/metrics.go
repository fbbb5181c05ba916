// Package metrics 定义 /metrics 导出的 Prometheus 指标
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "siteforge"

var (
	// SitesCreated 已保存站点数
	SitesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sites_created_total",
			Help:      "Total number of generated sites saved",
		},
	)

	// SlugConflicts 触发重试的 slug 冲突次数
	SlugConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slug_conflicts_total",
			Help:      "Total number of slug collisions on insert",
		},
	)

	// GenerationRequests 按结果统计的生成调用
	GenerationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total number of website generation requests",
		},
		[]string{"status"}, // status: success, error, unconfigured
	)

	// GenerationDuration 端到端生成耗时
	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Duration of website generation including image analysis",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 240},
		},
	)

	// ImageAnalyses 按结果统计的单图分析调用
	ImageAnalyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_analyses_total",
			Help:      "Total number of inspiration image analyses",
		},
		[]string{"status"},
	)

	// Transcriptions 按 provider 与结果统计的转写
	Transcriptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Total number of audio chunks transcribed",
		},
		[]string{"provider", "status"},
	)

	// TranscriptionDuration 各 provider 的转写耗时
	TranscriptionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Duration of transcription API calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// ActiveSessions 在线 relay 会话数
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_sessions_active",
			Help:      "Number of currently open audio relay sessions",
		},
	)
)

var allMetrics = []prometheus.Collector{
	SitesCreated,
	SlugConflicts,
	GenerationRequests,
	GenerationDuration,
	ImageAnalyses,
	Transcriptions,
	TranscriptionDuration,
	ActiveSessions,
}

var (
	registryOnce sync.Once
	registry     *prometheus.Registry
)

// Registry 返回包含全部指标及 Go 运行时指标的注册表
func Registry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		for _, c := range allMetrics {
			registry.MustRegister(c)
		}
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
	return registry
}

// Handler 以 Prometheus 文本格式输出
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}
