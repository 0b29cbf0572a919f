package feed

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/alfredjeanlab/contestfeed/internal/model"
)

// Record is one delivered feed line.
type Record struct {
	ID   string             `json:"id"`
	Type model.EndpointType `json:"type"`
	Op   model.Action       `json:"op"`
	Data model.Payload      `json:"data"`
	Time *model.APITime     `json:"time,omitempty"`
}

// newRecord wraps an event with the payload it is delivered with. Strict
// records carry no time.
func newRecord(e *model.Event, data model.Payload, strict bool) Record {
	r := Record{
		ID:   strconv.FormatInt(e.ID, 10),
		Type: e.EndpointType,
		Op:   e.Action,
		Data: data,
	}
	if !strict {
		t := model.APITime(e.Time)
		r.Time = &t
	}
	return r
}

// MarshalLine encodes the record as one newline-terminated JSON line.
// Slashes and HTML characters are left unescaped.
func (r Record) MarshalLine() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RecordOf returns the record a privileged, non-strict session would
// receive for e.
func RecordOf(e *model.Event) Record {
	return newRecord(e, e.Data, false)
}
