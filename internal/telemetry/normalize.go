package telemetry

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var errMissing = errors.New("missing")

// zone-less layouts are what the status source writes (python isoformat); they are read
// in local time
var localTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Normalize converts one raw snapshot into a Sample. It never fails: malformed fields
// become Unknown and are reported in the returned slice of *ParseError. received is used
// when the snapshot carries no usable timestamp.
func Normalize(raw RawSnapshot, received time.Time) (Sample, []error) {
	var errs []error

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		if raw.Timestamp != nil {
			errs = append(errs, &ParseError{Layer: "snapshot", Field: "timestamp", Value: raw.Timestamp, Err: err})
		}
		ts = received
	}

	consensus, cerrs := normalizeConsensus(raw.Lighthouse)
	execution, eerrs := normalizeExecution(raw.Geth)
	errs = append(errs, cerrs...)
	errs = append(errs, eerrs...)

	return Sample{Timestamp: ts, Consensus: consensus, Execution: execution}, errs
}

// NormalizeAll normalizes a batch, as used for historical backfill.
func NormalizeAll(raws []RawSnapshot, received time.Time) ([]Sample, []error) {
	samples := make([]Sample, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		s, e := Normalize(raw, received)
		samples = append(samples, s)
		errs = append(errs, e...)
	}
	return samples, errs
}

func normalizeConsensus(v interface{}) (ConsensusStatus, []error) {
	if v == nil {
		return ConsensusStatus{}, nil
	}
	m, ok := asMap(v)
	if !ok {
		return ConsensusStatus{}, []error{&ParseError{Layer: "consensus", Field: "lighthouse", Value: v, Err: errBadShape}}
	}

	// the beacon node API nests everything under "data"; the source's own history
	// entries are already flattened
	data, _ := asMap(m["data"])
	lookup := func(key string) interface{} {
		if val, ok := m[key]; ok && val != nil {
			return val
		}
		if data != nil {
			return data[key]
		}
		return nil
	}

	syncing, known, err := parseTriState(lookup("is_syncing"))
	if err != nil {
		return ConsensusStatus{}, []error{&ParseError{Layer: "consensus", Field: "is_syncing", Value: lookup("is_syncing"), Err: err}}
	}
	if !known {
		return ConsensusStatus{}, nil
	}

	var errs []error
	headSlot := parseField("consensus", "head_slot", lookup("head_slot"), 10, &errs)

	if !syncing {
		return ConsensusStatus{Kind: StatusSynced, HeadSlot: headSlot, SyncDistance: KnownInt(0)}, errs
	}
	distance := parseField("consensus", "sync_distance", lookup("sync_distance"), 10, &errs)
	return ConsensusStatus{Kind: StatusSyncing, HeadSlot: headSlot, SyncDistance: distance}, errs
}

func normalizeExecution(v interface{}) (ExecutionStatus, []error) {
	if v == nil {
		return ExecutionStatus{}, nil
	}
	m, ok := asMap(v)
	if !ok {
		return ExecutionStatus{}, []error{&ParseError{Layer: "execution", Field: "geth", Value: v, Err: errBadShape}}
	}

	// eth_syncing RPC shape: result is false (no answer) or the progress object
	if result, has := m["result"]; has {
		switch r := result.(type) {
		case nil:
			return ExecutionStatus{}, nil
		case bool:
			if r {
				return ExecutionStatus{}, []error{&ParseError{Layer: "execution", Field: "result", Value: r, Err: errBadShape}}
			}
			return ExecutionStatus{}, nil
		default:
			rm, ok := asMap(r)
			if !ok {
				return ExecutionStatus{}, []error{&ParseError{Layer: "execution", Field: "result", Value: r, Err: errBadShape}}
			}
			var errs []error
			current := parseField("execution", "currentBlock", rm["currentBlock"], 16, &errs)
			highest := parseField("execution", "highestBlock", rm["highestBlock"], 16, &errs)
			return ExecutionStatus{Kind: StatusSyncing, CurrentBlock: current, HighestBlock: highest}, errs
		}
	}

	// flattened shape written by the status source's history job
	syncing, known, err := parseTriState(m["is_syncing"])
	if err != nil {
		return ExecutionStatus{}, []error{&ParseError{Layer: "execution", Field: "is_syncing", Value: m["is_syncing"], Err: err}}
	}
	if !known {
		return ExecutionStatus{}, nil
	}

	var errs []error
	current := parseField("execution", "current_block", m["current_block"], 10, &errs)
	if !syncing {
		return ExecutionStatus{Kind: StatusSynced, CurrentBlock: current, HighestBlock: current}, errs
	}
	highest := parseField("execution", "highest_block", m["highest_block"], 10, &errs)
	return ExecutionStatus{Kind: StatusSyncing, CurrentBlock: current, HighestBlock: highest}, errs
}

func parseField(layer, field string, v interface{}, base int, errs *[]error) Int {
	if v == nil {
		*errs = append(*errs, &ParseError{Layer: layer, Field: field, Err: errMissing})
		return UnknownInt
	}
	n, err := parseInteger(v, base)
	if err == nil && n < 0 {
		err = errNegative
	}
	if err != nil {
		*errs = append(*errs, &ParseError{Layer: layer, Field: field, Value: v, Err: err})
		return UnknownInt
	}
	return KnownInt(n)
}

// parseTriState reads is_syncing: null/absent -> unknown, otherwise a boolean
func parseTriState(v interface{}) (value, known bool, err error) {
	switch b := v.(type) {
	case nil:
		return false, false, nil
	case bool:
		return b, true, nil
	case string:
		parsed, perr := strconv.ParseBool(strings.TrimSpace(b))
		if perr != nil {
			return false, false, errNotBool
		}
		return parsed, true, nil
	}
	return false, false, errNotBool
}

// parseInteger accepts JSON numbers, msgpack integers and numeric strings. Strings with
// a 0x prefix are always hex; unprefixed strings use base.
func parseInteger(v interface{}, base int) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, errNotInteger
		}
		return floatToInt(f)
	case float64:
		return floatToInt(x)
	case float32:
		return floatToInt(float64(x))
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return uintToInt(uint64(x))
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return uintToInt(x)
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			s, base = s[2:], 16
		}
		i, err := strconv.ParseInt(s, base, 64)
		if err != nil {
			return 0, errNotInteger
		}
		return i, nil
	}
	return 0, errNotInteger
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, errNotInteger
	}
	return int64(f), nil
}

func uintToInt(u uint64) (int64, error) {
	if u > math.MaxInt64 {
		return 0, errNotInteger
	}
	return int64(u), nil
}

func parseTimestamp(v interface{}) (time.Time, error) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
		for _, layout := range localTimestampLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, nil
			}
		}
		return time.Time{}, errors.New("unrecognized timestamp format")
	case time.Time:
		return x, nil
	case nil:
		return time.Time{}, errMissing
	}

	// numeric epochs: seconds, or milliseconds when implausibly large for seconds
	n, err := parseInteger(v, 10)
	if err != nil {
		return time.Time{}, err
	}
	if n > 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}
