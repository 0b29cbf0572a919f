package feed

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/contestfeed/internal/model"
)

// ValidationError rejects a feed request before anything is streamed.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalidParam(name string) *ValidationError {
	return &ValidationError{Param: name, Message: `Invalid parameter "` + name + `" requested.`}
}

// ErrInvalidCursor is returned when since_id names no event of the contest.
var ErrInvalidCursor = invalidParam("since_id")

// Params are the caller's feed options.
type Params struct {
	SinceID *int64               // resume after this event; nil = from the start
	Types   []model.EndpointType // empty = all types
	Strict  bool
	Stream  bool
}

// ParseParams reads since_id, types, strict and stream from a query string.
func ParseParams(q url.Values) (Params, error) {
	p := Params{Stream: true}

	if q.Has("since_id") {
		id, err := strconv.ParseInt(strings.TrimSpace(q.Get("since_id")), 10, 64)
		if err != nil || id < 0 {
			return p, ErrInvalidCursor
		}
		p.SinceID = &id
	}

	if q.Has("types") {
		types, err := model.ParseEndpointTypes(q.Get("types"))
		if err != nil {
			return p, &ValidationError{Param: "types", Message: `Invalid parameter "types" requested: ` + err.Error() + "."}
		}
		p.Types = types
	}

	var err error
	if p.Strict, err = parseBool(q, "strict", false); err != nil {
		return p, err
	}
	if p.Stream, err = parseBool(q, "stream", true); err != nil {
		return p, err
	}
	return p, nil
}

// parseBool accepts the usual spellings. A bare flag (?strict) is true.
func parseBool(q url.Values, name string, def bool) (bool, error) {
	if !q.Has(name) {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(q.Get(name))) {
	case "", "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	}
	return def, invalidParam(name)
}
