package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/codepair/matchmaker/internal/language"
	"github.com/codepair/matchmaker/internal/pairing"
	"github.com/codepair/matchmaker/internal/ratelimit"
	"github.com/codepair/matchmaker/internal/schedule"
	"github.com/codepair/matchmaker/internal/user"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

type ctxKey struct{}

// identify requires a valid X-User-ID header and stores the id in the
// request context.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderUserID)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing "+HeaderUserID+" header")
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+HeaderUserID+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func callerID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(ctxKey{}).(uuid.UUID)
	return id
}

func (h *handler) affinities(w http.ResponseWriter, r *http.Request) {
	id := callerID(r)
	if !h.allow(w, r, id.String(), ratelimit.RuleAffinities) {
		return
	}

	var filter language.Language
	if raw := r.URL.Query().Get("language"); raw != "" {
		l, err := language.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown language")
			return
		}
		filter = l
	}
	scope, err := pairing.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "scope must be online or all")
		return
	}

	matches, err := h.svc.Affinities(r.Context(), id, filter, scope)
	if err != nil {
		h.fail(w, err)
		return
	}
	if matches == nil {
		matches = []pairing.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (h *handler) availabilityMatch(w http.ResponseWriter, r *http.Request) {
	id := callerID(r)
	if !h.allow(w, r, id.String(), ratelimit.RuleAvailability) {
		return
	}

	anchor := h.now()
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be an RFC3339 timestamp")
			return
		}
		anchor = t
	}

	slots, err := h.svc.WeeklyMatches(r.Context(), id, anchor)
	if err != nil {
		h.fail(w, err)
		return
	}
	if slots == nil {
		slots = []schedule.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

func (h *handler) codeNow(w http.ResponseWriter, r *http.Request) {
	id := callerID(r)
	if !h.allow(w, r, id.String(), ratelimit.RuleCodeNow) {
		return
	}

	online, err := h.svc.MarkActive(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if online == nil {
		online = []user.PublicProfile{}
	}
	writeJSON(w, http.StatusOK, online)
}

func (h *handler) rebuildSchedules(w http.ResponseWriter, r *http.Request) {
	if h.rebuild == nil {
		writeError(w, http.StatusServiceUnavailable, "rebuild not configured")
		return
	}
	if !h.allow(w, r, clientIP(r), ratelimit.RuleRebuild) {
		return
	}
	if err := h.rebuild(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("schedule rebuild request")
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type scheduleHealth struct {
	Users      int       `json:"users"`
	BuiltAt    time.Time `json:"built_at"`
	AgeSeconds int64     `json:"age_seconds"`
}

type healthResponse struct {
	Status         string         `json:"status"`
	Server         string         `json:"server"`
	Uptime         string         `json:"uptime"`
	Online         int            `json:"online"`
	Connections    int            `json:"connections"`
	ConnectedUsers int            `json:"connected_users"`
	Schedule       scheduleHealth `json:"schedule"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Server: h.serverName,
		Uptime: time.Since(h.startedAt).Round(time.Second).String(),
		Online: len(h.svc.Online()),
	}
	if h.ws != nil {
		resp.Connections = h.ws.Connections().Count()
		resp.ConnectedUsers = h.ws.Connections().Users()
	}
	if h.schedules != nil {
		snap := h.schedules.Snapshot()
		resp.Schedule.Users = snap.Size()
		resp.Schedule.BuiltAt = snap.BuiltAt()
		if !snap.BuiltAt().IsZero() {
			resp.Schedule.AgeSeconds = int64(h.now().Sub(snap.BuiltAt()) / time.Second)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// websocket accepts the caller id from the header or, for browsers that
// cannot set headers on the upgrade request, the user_id query parameter.
func (h *handler) websocket(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		writeError(w, http.StatusNotFound, "websocket disabled")
		return
	}
	raw := r.Header.Get(HeaderUserID)
	if raw == "" {
		raw = r.URL.Query().Get("user_id")
	}
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	h.ws.ServeUser(w, r, id)
}

// allow applies rule to identifier and writes a 429 when exceeded. Allowed
// requests carry the remaining budget in X-RateLimit-Remaining when a
// limiter is configured.
func (h *handler) allow(w http.ResponseWriter, r *http.Request, identifier string, rule ratelimit.Rule) bool {
	ok, _ := h.limiter.Allow(r.Context(), identifier, rule)
	if !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(rule.Window/time.Second)))
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return false
	}
	if h.limiter == nil {
		return true
	}
	if remaining, err := h.limiter.Remaining(r.Context(), identifier, rule); err == nil {
		w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(remaining))
	}
	return true
}

// clientIP returns the host part of RemoteAddr, which RealIP has already
// rewritten from X-Forwarded-For or X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pairing.ErrUnknownUser), errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown user")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request timed out")
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
