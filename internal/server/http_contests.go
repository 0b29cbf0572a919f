package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/contestfeed/internal/access"
	"github.com/alfredjeanlab/contestfeed/internal/clock"
)

// maxBodyBytes caps PATCH request bodies.
const maxBodyBytes = 1 << 16

// handleGetContest handles GET /api/contests/{cid}.
func (s *Server) handleGetContest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contest, err := s.visibleContest(ctx, r.PathValue("cid"), CapabilitiesFrom(ctx).Tier())
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	data, err := contest.APIData()
	if err != nil {
		s.writeLookupError(w, r, fmt.Errorf("encode contest: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleGetState handles GET /api/contests/{cid}/state. Unlike the other
// reads it answers 403 for a contest the caller may not see.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contest, err := s.lookupContest(ctx, r.PathValue("cid"))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	now := s.now()
	if !access.ContestVisible(contest, CapabilitiesFrom(ctx).Tier(), now) {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	writeJSON(w, http.StatusOK, contest.State(now))
}

// handleGetStatus handles GET /api/contests/{cid}/status.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if !requireCapability(w, r, CapReader) {
		return
	}
	ctx := r.Context()
	contest, err := s.lookupContest(ctx, r.PathValue("cid"))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	stats, err := s.store.GetContestStats(ctx, contest.ID)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleSetStartTime handles PATCH /api/contests/{cid}. The body is a form
// or a JSON object with "id", "start_time" and optionally "force". The
// response body is a JSON string for success and rejection alike.
func (s *Server) handleSetStartTime(w http.ResponseWriter, r *http.Request) {
	if !requireCapability(w, r, CapWriter) {
		return
	}
	ctx := r.Context()
	contest, err := s.lookupContest(ctx, r.PathValue("cid"))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}

	req, err := decodeStartTimeRequest(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ContestID = contest.ID

	res, err := s.clock.SetStartTime(ctx, req)
	if err != nil {
		var cerr *clock.Error
		if errors.As(err, &cerr) {
			code := http.StatusBadRequest
			if cerr.Kind == clock.KindGuard {
				code = http.StatusForbidden
			}
			writeJSON(w, code, cerr.Message)
			return
		}
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Message)
}

// decodeStartTimeRequest reads the clock fields from a form or JSON body.
func decodeStartTimeRequest(w http.ResponseWriter, r *http.Request) (clock.Request, error) {
	var req clock.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var fields map[string]json.RawMessage
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return req, fmt.Errorf("read body: %w", err)
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			return req, errors.New("Invalid JSON body.")
		}
		if raw, ok := fields["id"]; ok {
			id := jsonScalar(raw)
			req.RequestedID = &id
		}
		if raw, ok := fields["start_time"]; ok && string(raw) != "null" {
			st := jsonScalar(raw)
			req.StartTime = &st
		}
		if raw, ok := fields["force"]; ok {
			force, err := parseFlag(jsonScalar(raw))
			if err != nil {
				return req, err
			}
			req.Force = force
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, errors.New("Invalid form body.")
	}
	form := r.Form
	if form.Has("id") {
		id := form.Get("id")
		req.RequestedID = &id
	}
	if form.Has("start_time") {
		st := form.Get("start_time")
		req.StartTime = &st
	}
	if form.Has("force") {
		force, err := parseFlag(form.Get("force"))
		if err != nil {
			return req, err
		}
		req.Force = force
	}
	return req, nil
}

// jsonScalar returns a JSON string's contents, or any other value's text.
func jsonScalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// parseFlag reads a boolean form flag. A present but empty flag is true.
func parseFlag(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b, nil
	}
	return false, errors.New(`Invalid "force" in request.`)
}
