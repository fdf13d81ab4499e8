// Package stats derives sync-rate statistics from an ordered sample set.
package stats

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

const gainWindow = 24 * time.Hour

// Estimate is a time-to-sync estimate. Complete is set instead of Hours when there is
// nothing left to sync or no forward progress to extrapolate from.
type Estimate struct {
	Hours    float64 `json:"hours"`
	Complete bool    `json:"complete"`
}

func (e Estimate) String() string {
	if e.Complete {
		return "Sync complete"
	}
	return FormatEstimate(e.Hours)
}

// LayerStats summarises one layer. When Sufficient is false fewer than two samples
// carried a progress metric and every other field is zero.
type LayerStats struct {
	Layer          telemetry.Layer `json:"layer"`
	Sufficient     bool            `json:"sufficient"`
	SampleCount    int             `json:"sample_count"`
	AvgRatePerHour float64         `json:"avg_rate_per_hour"`
	MaxRatePerHour float64         `json:"max_rate_per_hour"`
	ETA            Estimate        `json:"eta"`
	GainLast24h    int64           `json:"gain_last_24h"`
}

type point struct {
	at    time.Time
	value int64
}

// Compute derives statistics for layer from samples, which must be ascending by
// timestamp. now anchors the 24h gain window.
func Compute(samples []telemetry.Sample, layer telemetry.Layer, now time.Time) LayerStats {
	out := LayerStats{Layer: layer}

	points := make([]point, 0, len(samples))
	remaining := telemetry.UnknownInt
	for _, s := range samples {
		v, ok := s.Progress(layer)
		if !ok {
			continue
		}
		points = append(points, point{at: s.Timestamp, value: v})
		remaining = s.Remaining(layer)
	}
	out.SampleCount = len(points)
	if len(points) < 2 {
		return out
	}
	out.Sufficient = true

	first, last := points[0], points[len(points)-1]
	totalGain := last.value - first.value
	if hours := last.at.Sub(first.at).Hours(); hours > 0 {
		out.AvgRatePerHour = float64(totalGain) / hours
	}

	for i := 1; i < len(points); i++ {
		hours := points[i].at.Sub(points[i-1].at).Hours()
		if hours <= 0 {
			continue
		}
		out.MaxRatePerHour = math.Max(out.MaxRatePerHour, float64(points[i].value-points[i-1].value)/hours)
	}

	if remaining.Known && remaining.Value > 0 && out.AvgRatePerHour > 0 {
		out.ETA = Estimate{Hours: float64(remaining.Value) / out.AvgRatePerHour}
	} else {
		out.ETA = Estimate{Complete: true}
	}

	out.GainLast24h = totalGain
	cutoff := now.Add(-gainWindow)
	for _, p := range points {
		if !p.at.Before(cutoff) {
			out.GainLast24h = last.value - p.value
			break
		}
	}
	return out
}

// FormatEstimate renders hours as minutes below one hour, whole hours below a day, and
// days plus remaining hours beyond that.
func FormatEstimate(hours float64) string {
	switch {
	case hours < 1:
		return fmt.Sprintf("%d minutes", int64(math.Ceil(hours*60)))
	case hours < 24:
		return fmt.Sprintf("%d hours", int64(math.Ceil(hours)))
	default:
		days := math.Floor(hours / 24)
		return fmt.Sprintf("%d days, %d hours", int64(days), int64(math.Ceil(math.Mod(hours, 24))))
	}
}

func unit(layer telemetry.Layer) string {
	if layer == telemetry.LayerExecution {
		return "blocks"
	}
	return "slots"
}

// Summary is the one-line form used in logs and CLI output.
func (s LayerStats) Summary() string {
	if !s.Sufficient {
		return fmt.Sprintf("%s: insufficient data (%d samples)", s.Layer, s.SampleCount)
	}
	u := unit(s.Layer)
	return fmt.Sprintf("%s: avg %s %s/hour, max %s %s/hour, eta %s, 24h gain %s %s",
		s.Layer,
		humanize.CommafWithDigits(s.AvgRatePerHour, 2), u,
		humanize.CommafWithDigits(s.MaxRatePerHour, 2), u,
		s.ETA,
		signedComma(s.GainLast24h), u)
}

func signedComma(v int64) string {
	if v >= 0 {
		return "+" + humanize.Comma(v)
	}
	return humanize.Comma(v)
}
