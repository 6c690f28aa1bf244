package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	gws "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/codepair/matchmaker/internal/language"
	"github.com/codepair/matchmaker/internal/pairing"
	"github.com/codepair/matchmaker/internal/presence"
	"github.com/codepair/matchmaker/internal/ratelimit"
	"github.com/codepair/matchmaker/internal/schedule"
	"github.com/codepair/matchmaker/internal/user"
	"github.com/codepair/matchmaker/internal/ws"
)

type testEnv struct {
	router   http.Handler
	sched    *schedule.Matrix
	rebuilds int
	x, y     user.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	var evenings schedule.WeekSchedule
	evenings.Set(time.Tuesday, 18, true)

	x := user.User{
		ID:           uuid.New(),
		Username:     "xavier",
		Email:        "x@example.com",
		Languages:    language.PreferenceSet{language.Rust: {Level: language.Expert, Priority: language.High}},
		Availability: schedule.Weekly(schedule.Always()),
	}
	y := user.User{
		ID:           uuid.New(),
		Username:     "yara",
		Email:        "y@example.com",
		Languages:    language.PreferenceSet{language.Rust: {Level: language.Novice, Priority: language.High}},
		Availability: schedule.Weekly(evenings),
	}

	repo := user.NewMemoryRepository(x, y)
	sched := schedule.NewMatrix()
	if _, err := sched.Rebuild(context.Background(), repo, time.Now()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	svc := pairing.NewService(repo, sched, presence.NewCache(), nil, zerolog.Nop())

	env := &testEnv{sched: sched, x: x, y: y}
	env.router = NewRouter(Deps{
		Service:   svc,
		Schedules: sched,
		Rebuild: func(ctx context.Context) error {
			env.rebuilds++
			return nil
		},
		ServerName: "test",
		Logger:     zerolog.Nop(),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, caller *uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if caller != nil {
		req.Header.Set(HeaderUserID, caller.String())
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestIdentityRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/code-now", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/code-now", nil)
	req.Header.Set(HeaderUserID, "not-a-uuid")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed identity, got %d", rec.Code)
	}

	var body ErrorResponse
	decode(t, rec, &body)
	if body.Error == "" {
		t.Error("expected a JSON error body")
	}
}

func TestUnknownUserIs404(t *testing.T) {
	env := newTestEnv(t)
	stranger := uuid.New()
	if rec := env.do(t, http.MethodPost, "/code-now", &stranger); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCodeNow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/code-now", &env.y.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var first []user.PublicProfile
	decode(t, rec, &first)
	if len(first) != 0 {
		t.Errorf("expected nobody else online, got %+v", first)
	}

	rec = env.do(t, http.MethodPost, "/code-now", &env.x.ID)
	var second []map[string]any
	decode(t, rec, &second)
	if len(second) != 1 || second[0]["id"] != env.y.ID.String() {
		t.Fatalf("expected y online, got %v", second)
	}
	if _, leaked := second[0]["email"]; leaked {
		t.Error("email must not be exposed")
	}
	if got := rec.Header().Get(HeaderRateLimitRemaining); got != "" {
		t.Errorf("no budget header without a limiter, got %q", got)
	}
}

func TestAffinities(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/affinities?scope=all", &env.x.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var matches []struct {
		Profile  user.PublicProfile `json:"profile"`
		Affinity int                `json:"affinity"`
		Language string             `json:"language"`
	}
	decode(t, rec, &matches)
	if len(matches) != 1 {
		t.Fatalf("expected one match, got %+v", matches)
	}
	if matches[0].Profile.ID != env.y.ID || matches[0].Affinity != 466 || matches[0].Language != "rust" {
		t.Errorf("unexpected match %+v", matches[0])
	}

	// Online scope is empty until someone signals presence.
	rec = env.do(t, http.MethodGet, "/affinities", &env.x.ID)
	if rec.Body.String() != "[]\n" {
		t.Errorf("expected empty list, got %q", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/affinities?scope=all&language=go", &env.x.ID)
	if rec.Body.String() != "[]\n" {
		t.Errorf("expected no Go matches, got %q", rec.Body.String())
	}
}

func TestAffinities_BadQuery(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/affinities?language=cobol", "/affinities?scope=planet"} {
		if rec := env.do(t, http.MethodGet, path, &env.x.ID); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestAvailabilityMatch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/availability-match?from=2024-01-01T00:00:00Z", &env.x.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var slots []schedule.Slot
	decode(t, rec, &slots)
	if len(slots) != 1 {
		t.Fatalf("expected one shared hour, got %+v", slots)
	}
	if want := time.Date(2024, time.January, 2, 18, 0, 0, 0, time.UTC); !slots[0].At.Equal(want) {
		t.Errorf("expected %s, got %s", want, slots[0].At)
	}
	if len(slots[0].Users) != 1 || slots[0].Users[0] != env.y.ID {
		t.Errorf("expected only y, got %v", slots[0].Users)
	}

	if rec := env.do(t, http.MethodGet, "/availability-match?from=yesterday", &env.x.ID); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad timestamp, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var h healthResponse
	decode(t, rec, &h)
	if h.Status != "ok" || h.Server != "test" || h.Schedule.Users != 2 {
		t.Errorf("unexpected health %+v", h)
	}

	if rec := env.do(t, http.MethodGet, "/metrics", nil); rec.Code != http.StatusOK {
		t.Errorf("expected metrics endpoint, got %d", rec.Code)
	}
}

func TestAdminRebuild(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/admin/schedules/rebuild", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if env.rebuilds != 1 {
		t.Errorf("expected one rebuild request, got %d", env.rebuilds)
	}
}

func TestAdminRebuild_Failure(t *testing.T) {
	router := NewRouter(Deps{
		Service: pairing.NewService(user.NewMemoryRepository(), schedule.NewMatrix(), presence.NewCache(), nil, zerolog.Nop()),
		Rebuild: func(context.Context) error { return errors.New("db down") },
		Logger:  zerolog.Nop(),
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/schedules/rebuild", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestWebSocketDisabled(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/ws", &env.x.ID); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 when websocket is not configured, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/affinities", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	// Browsers send the requested header names lowercased.
	req.Header.Set("Access-Control-Request-Headers", strings.ToLower(HeaderUserID))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}

// newLimitedRouter needs a local Redis on localhost:6379.
func newLimitedRouter(t *testing.T) (http.Handler, *redis.Client, user.User) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	u := user.User{ID: uuid.New(), Username: "limited"}
	svc := pairing.NewService(user.NewMemoryRepository(u), schedule.NewMatrix(), presence.NewCache(), nil, zerolog.Nop())
	router := NewRouter(Deps{
		Service: svc,
		Limiter: ratelimit.NewLimiter(client, zerolog.Nop()),
		Rebuild: func(context.Context) error { return nil },
		Logger:  zerolog.Nop(),
	})
	return router, client, u
}

func TestRateLimitRemainingHeader(t *testing.T) {
	router, client, u := newLimitedRouter(t)
	key := ratelimit.RuleCodeNow.Key + u.ID.String()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	for want := ratelimit.RuleCodeNow.Limit - 1; want >= ratelimit.RuleCodeNow.Limit-2; want-- {
		req := httptest.NewRequest(http.MethodPost, "/code-now", nil)
		req.Header.Set(HeaderUserID, u.ID.String())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got := rec.Header().Get(HeaderRateLimitRemaining); got != strconv.Itoa(want) {
			t.Errorf("expected %d remaining, got %q", want, got)
		}
	}
}

func TestAdminRebuild_RateLimited(t *testing.T) {
	router, client, _ := newLimitedRouter(t)
	// httptest requests come from 192.0.2.1.
	key := ratelimit.RuleRebuild.Key + "192.0.2.1"
	client.Del(context.Background(), key)
	t.Cleanup(func() { client.Del(context.Background(), key) })

	for i := 0; i < ratelimit.RuleRebuild.Limit; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/schedules/rebuild", nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/schedules/rebuild", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the budget is spent, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("expected Retry-After 60, got %q", got)
	}
}

func TestHealthReportsLiveSockets(t *testing.T) {
	x := user.User{ID: uuid.New(), Username: "xavier"}
	svc := pairing.NewService(user.NewMemoryRepository(x), schedule.NewMatrix(), presence.NewCache(), nil, zerolog.Nop())
	wsServer := ws.NewServer(ws.DefaultServerConfig(), svc, nil, nil, zerolog.Nop())
	t.Cleanup(wsServer.Shutdown)

	srv := httptest.NewServer(NewRouter(Deps{Service: svc, WS: wsServer, Logger: zerolog.Nop()}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, br, _, err := gws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?user_id="+x.ID.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	var rd io.Reader = conn
	if br != nil {
		rd = br
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	// connected, then online: the socket is registered by now.
	for i := 0; i < 2; i++ {
		if _, err := wsutil.ReadServerText(struct {
			io.Reader
			io.Writer
		}{rd, conn}); err != nil {
			t.Fatalf("read handshake: %v", err)
		}
	}

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Connections != 1 || h.ConnectedUsers != 1 || h.Online != 1 {
		t.Errorf("expected one socket for one online user, got %+v", h)
	}
}
