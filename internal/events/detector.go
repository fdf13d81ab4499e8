// Package events detects significant sync transitions in an ordered sample sequence.
package events

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

const (
	TitleSyncStarted   = "Sync Started"
	TitleRapidProgress = "Rapid Progress"
	TitleSyncStalled   = "Sync Stalled"
	TitleSyncError     = "Sync Error"
	TitleSyncComplete  = "Sync Complete"
	TitleNearComplete  = "Near Complete"
)

// Rules holds the detection thresholds. All comparisons are strict.
type Rules struct {
	RapidSlots           int64         `yaml:"rapid_slots"`
	RapidWindow          time.Duration `yaml:"rapid_window"`
	StallWindow          time.Duration `yaml:"stall_window"`
	RegressionSlots      int64         `yaml:"regression_slots"`
	NearCompleteDistance int64         `yaml:"near_complete_distance"`
}

func DefaultRules() Rules {
	return Rules{
		RapidSlots:           5000,
		RapidWindow:          30 * time.Minute,
		StallWindow:          15 * time.Minute,
		RegressionSlots:      -1000,
		NearCompleteDistance: 100,
	}
}

// Detect scans samples, ascending by timestamp, and returns the timeline events they
// imply, ascending by timestamp. Only the consensus layer drives detection.
func Detect(samples []telemetry.Sample, rules Rules) []telemetry.TimelineEvent {
	if len(samples) == 0 {
		return nil
	}
	var out []telemetry.TimelineEvent

	for _, s := range samples {
		if s.Consensus.Kind == telemetry.StatusUnknown {
			continue
		}
		out = append(out, telemetry.TimelineEvent{
			Timestamp:   s.Timestamp,
			Severity:    telemetry.SeverityInfo,
			Title:       TitleSyncStarted,
			Description: "Consensus sync started at head slot " + formatSlot(s.Consensus.HeadSlot),
		})
		break
	}

	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		if !prev.Consensus.HeadSlot.Known || !cur.Consensus.HeadSlot.Known {
			continue
		}
		out = append(out, detectPair(prev, cur, rules)...)
	}

	if ev, ok := terminal(samples[len(samples)-1], rules); ok {
		out = append(out, ev)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// detectPair evaluates every pair rule independently; more than one may fire.
func detectPair(prev, cur telemetry.Sample, rules Rules) []telemetry.TimelineEvent {
	var out []telemetry.TimelineEvent
	delta := cur.Consensus.HeadSlot.Value - prev.Consensus.HeadSlot.Value
	elapsed := cur.Timestamp.Sub(prev.Timestamp)

	if delta > rules.RapidSlots && elapsed < rules.RapidWindow {
		out = append(out, telemetry.TimelineEvent{
			Timestamp:   cur.Timestamp,
			Severity:    telemetry.SeveritySuccess,
			Title:       TitleRapidProgress,
			Description: fmt.Sprintf("Head slot jumped by %s slots in %.1f minutes", humanize.Comma(delta), elapsed.Minutes()),
		})
	}
	if delta == 0 && elapsed > rules.StallWindow {
		out = append(out, telemetry.TimelineEvent{
			Timestamp:   cur.Timestamp,
			Severity:    telemetry.SeverityWarning,
			Title:       TitleSyncStalled,
			Description: fmt.Sprintf("No progress for %.1f minutes", elapsed.Minutes()),
		})
	}
	if delta < rules.RegressionSlots {
		out = append(out, telemetry.TimelineEvent{
			Timestamp:   cur.Timestamp,
			Severity:    telemetry.SeverityError,
			Title:       TitleSyncError,
			Description: fmt.Sprintf("Head slot decreased by %s slots", humanize.Comma(-delta)),
		})
	}
	return out
}

func terminal(last telemetry.Sample, rules Rules) (telemetry.TimelineEvent, bool) {
	if last.Consensus.Kind == telemetry.StatusUnknown || !last.Consensus.SyncDistance.Known {
		return telemetry.TimelineEvent{}, false
	}
	distance := last.Consensus.SyncDistance.Value
	switch {
	case distance == 0:
		return telemetry.TimelineEvent{
			Timestamp:   last.Timestamp,
			Severity:    telemetry.SeveritySuccess,
			Title:       TitleSyncComplete,
			Description: "Consensus sync completed successfully",
		}, true
	case distance > 0 && distance < rules.NearCompleteDistance:
		return telemetry.TimelineEvent{
			Timestamp:   last.Timestamp,
			Severity:    telemetry.SeverityInfo,
			Title:       TitleNearComplete,
			Description: fmt.Sprintf("Consensus sync almost complete (%s slots remaining)", humanize.Comma(distance)),
		}, true
	}
	return telemetry.TimelineEvent{}, false
}

func formatSlot(v telemetry.Int) string {
	if !v.Known {
		return v.String()
	}
	return humanize.Comma(v.Value)
}
