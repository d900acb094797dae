// Package metrics exposes Prometheus counters for playback recovery, subtitle
// delivery and downloads.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PlaybackRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_playback_retries_total",
		Help: "Total number of scheduled playback reload attempts",
	})

	PlaybackFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_playback_failures_total",
		Help: "Total number of sessions that exhausted playback retries",
	})

	FetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_fetch_attempts_total",
		Help: "Total number of HTTP fetch attempts by outcome",
	}, []string{"outcome"})

	SubtitleLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_subtitle_loads_total",
		Help: "Total number of subtitle track loads by result",
	}, []string{"result"})

	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_downloads_total",
		Help: "Total number of finished downloads by kind and outcome",
	}, []string{"kind", "outcome"})

	DownloadBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_download_bytes_total",
		Help: "Total number of bytes written by downloads",
	}, []string{"kind"})

	HLSSegmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_hls_segments_total",
		Help: "Total number of HLS segments fetched",
	})
)

// IncFetchAttempt records one HTTP attempt.
func IncFetchAttempt(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	FetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// IncSubtitleLoad records a subtitle track load result ("success" or "error").
func IncSubtitleLoad(result string) {
	SubtitleLoadsTotal.WithLabelValues(result).Inc()
}

// ObserveDownload records a finished download.
func ObserveDownload(kind, outcome string, bytes int64) {
	DownloadsTotal.WithLabelValues(kind, outcome).Inc()
	if bytes > 0 {
		DownloadBytesTotal.WithLabelValues(kind).Add(float64(bytes))
	}
}
