package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	ActionHistoryData = "history_data"
	ActionGetHistory  = "get_history"
	ActionError       = "error"
)

// RawSnapshot is one status snapshot exactly as the source sent it. Every field is left
// untyped; Normalize is the only place that interprets them.
type RawSnapshot struct {
	Timestamp  interface{}
	Lighthouse interface{}
	Geth       interface{}
	Success    interface{}
	Error      interface{}
}

// Failed reports an explicit {"success": false} from the pull endpoint. A missing flag
// counts as success.
func (r RawSnapshot) Failed() (string, bool) {
	ok, isBool := r.Success.(bool)
	if !isBool || ok {
		return "", false
	}
	msg, _ := r.Error.(string)
	if msg == "" {
		msg = "status source reported failure"
	}
	return msg, true
}

// PushMessage is one frame from the push channel: a history envelope, an error
// envelope, or a bare real-time snapshot.
type PushMessage struct {
	Action   string
	History  []RawSnapshot
	Snapshot RawSnapshot
	Message  string
}

// HistoryRequest is the frame sent to ask the push channel for backfill.
type HistoryRequest struct {
	Action string `json:"action" msgpack:"action"`
	Days   int    `json:"days" msgpack:"days"`
}

// DecodeJSON decodes a JSON document keeping numbers as json.Number so block and slot
// values never pass through float64.
func DecodeJSON(r io.Reader) (interface{}, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

// DecodeMsgpack decodes a msgpack document into generic maps and slices.
func DecodeMsgpack(b []byte) (interface{}, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("decode msgpack: %w", err)
	}
	return v, nil
}

// DecodePushMessage decodes a text (JSON) or binary (msgpack) push frame.
func DecodePushMessage(b []byte, binary bool) (PushMessage, error) {
	var (
		v   interface{}
		err error
	)
	if binary {
		v, err = DecodeMsgpack(b)
	} else {
		v, err = DecodeJSON(bytes.NewReader(b))
	}
	if err != nil {
		return PushMessage{}, err
	}
	return PushMessageFromValue(v)
}

// PushMessageFromValue classifies an already-decoded frame.
func PushMessageFromValue(v interface{}) (PushMessage, error) {
	m, ok := asMap(v)
	if !ok {
		return PushMessage{}, fmt.Errorf("push message: %w: %T", errBadShape, v)
	}
	action, _ := m["action"].(string)
	switch action {
	case ActionHistoryData:
		return PushMessage{Action: action, History: SnapshotsFromValue(m["data"])}, nil
	case ActionError:
		msg, _ := m["message"].(string)
		return PushMessage{Action: action, Message: msg}, nil
	case "":
		return PushMessage{Snapshot: snapshotFromMap(m)}, nil
	default:
		return PushMessage{Action: action}, nil
	}
}

// SnapshotFromValue converts one decoded object into a RawSnapshot.
func SnapshotFromValue(v interface{}) (RawSnapshot, error) {
	m, ok := asMap(v)
	if !ok {
		return RawSnapshot{}, fmt.Errorf("snapshot: %w: %T", errBadShape, v)
	}
	return snapshotFromMap(m), nil
}

// SnapshotsFromValue converts a decoded array into snapshots, skipping entries that are
// not objects.
func SnapshotsFromValue(v interface{}) []RawSnapshot {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]RawSnapshot, 0, len(items))
	for _, item := range items {
		if m, ok := asMap(item); ok {
			out = append(out, snapshotFromMap(m))
		}
	}
	return out
}

func snapshotFromMap(m map[string]interface{}) RawSnapshot {
	return RawSnapshot{
		Timestamp:  m["timestamp"],
		Lighthouse: m["lighthouse"],
		Geth:       m["geth"],
		Success:    m["success"],
		Error:      m["error"],
	}
}

// msgpack may hand back interface-keyed maps depending on how the producer encoded them
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}
