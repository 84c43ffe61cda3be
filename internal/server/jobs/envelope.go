package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire shape of a write job. Timestamp is epoch milliseconds
// at dispatch and is informational only.
type Envelope struct {
	Operation Operation       `json:"operation"`
	Table     Table           `json:"table"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Encode validates j and renders its envelope.
func Encode(j Job) ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	env := Envelope{
		Operation: j.Operation,
		Table:     j.Table,
		ID:        j.ID,
		Timestamp: j.Timestamp.UnixMilli(),
	}
	if j.Data != nil {
		data, err := json.Marshal(j.Data)
		if err != nil {
			return nil, fmt.Errorf("encode %s data: %w", j, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses raw into a typed Job. Non-JSON input yields ErrMalformed;
// anything that parses but cannot be applied yields ErrInvalidJob.
func Decode(raw []byte) (Job, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Job()
}

// Job converts the envelope into a typed Job, decoding Data strictly.
func (e Envelope) Job() (Job, error) {
	j := Job{
		Operation: e.Operation,
		Table:     e.Table,
		ID:        e.ID,
		Timestamp: time.UnixMilli(e.Timestamp).UTC(),
	}

	types, ok := tables[e.Table]
	if !ok {
		return j, fmt.Errorf("%w: unknown table %q", ErrInvalidJob, e.Table)
	}

	hasData := len(e.Data) > 0 && !bytes.Equal(bytes.TrimSpace(e.Data), []byte("null"))

	switch e.Operation {
	case OpCreate, OpUpdate:
		if !hasData {
			return j, fmt.Errorf("%w: %s without data", ErrInvalidJob, e.Operation)
		}
		target := types.row()
		if e.Operation == OpUpdate {
			target = types.patch()
		}
		dec := json.NewDecoder(bytes.NewReader(e.Data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return j, fmt.Errorf("%w: %s %s data: %v", ErrInvalidJob, e.Table, e.Operation, err)
		}
		j.Data = target
	case OpDelete:
		if hasData {
			return j, fmt.Errorf("%w: delete carries data", ErrInvalidJob)
		}
	default:
		return j, fmt.Errorf("%w: unknown operation %q", ErrInvalidJob, e.Operation)
	}

	if err := j.Validate(); err != nil {
		return j, err
	}
	return j, nil
}

// SplitBatch splits a JSON array of envelopes into its raw elements without
// decoding them. Anything other than an array is ErrMalformed.
func SplitBatch(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: batch must be a JSON array", ErrMalformed)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return items, nil
}
