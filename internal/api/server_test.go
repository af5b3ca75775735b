package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/ada-core/internal/choreography"
	"github.com/nerrad567/ada-core/internal/fleet"
	"github.com/nerrad567/ada-core/internal/infrastructure/config"
	"github.com/nerrad567/ada-core/internal/infrastructure/logging"
	"github.com/nerrad567/ada-core/internal/remote"
	"github.com/nerrad567/ada-core/internal/schedule"
	"github.com/nerrad567/ada-core/internal/store"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// ─── Mock Dependencies ─────────────────────────────────────────────

type fakeFleet struct {
	sessions []fleet.SessionInfo
	stale    []string
	seq      int64
}

func (f *fakeFleet) Snapshot() []fleet.SessionInfo { return f.sessions }
func (f *fakeFleet) Sequence() int64               { return f.seq }
func (f *fakeFleet) StaleClients() []string        { return f.stale }

type fakeSchedule struct {
	status schedule.Status
}

func (f *fakeSchedule) Status(time.Time) schedule.Status { return f.status }

type fakeEngine struct {
	status choreography.Status
}

func (f *fakeEngine) Status() choreography.Status { return f.status }

type submission struct {
	from, path string
}

type fakeControl struct {
	mu   sync.Mutex
	subs []submission
	err  error
}

func (f *fakeControl) Submit(from, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subs = append(f.subs, submission{from, path})
	return nil
}

func (f *fakeControl) submissions() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.subs...)
}

type fakeEvents struct {
	filter store.Filter
	events []store.Event
}

func (f *fakeEvents) List(_ context.Context, filter store.Filter) ([]store.Event, error) {
	f.filter = filter
	return f.events, nil
}

// ─── Helpers ───────────────────────────────────────────────────────

type testEnv struct {
	srv     *Server
	handler http.Handler
	fleet   *fakeFleet
	control *fakeControl
	events  *fakeEvents
}

func newTestEnv(t *testing.T, sec config.SecurityConfig) *testEnv {
	t.Helper()

	env := &testEnv{
		fleet: &fakeFleet{
			seq: 42,
			sessions: []fleet.SessionInfo{
				{ID: "s1", Name: "ada-1", State: "idle", Reported: 42, Sent: 42},
				{ID: "s2", Name: "ada-2", State: "idle", Reported: 30, Sent: 42, Stale: true},
			},
			stale: []string{"ada-2"},
		},
		control: &fakeControl{},
		events:  &fakeEvents{},
	}

	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")
	srv, err := New(Deps{
		Config:   config.APIConfig{Host: "127.0.0.1"},
		Security: sec,
		Logger:   log,
		Fleet:    env.fleet,
		Schedule: &fakeSchedule{status: schedule.Status{State: schedule.StateOn, RunDay: true}},
		Control:  env.control,
		Engine:   &fakeEngine{status: choreography.Status{State: schedule.StateOn, Animation: "sweep"}},
		Events:   env.events,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.srv = srv
	env.handler = srv.buildRouter()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "192.0.2.10:5000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

// ─── Tests ─────────────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "test")
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Fleet: &fakeFleet{}, Schedule: &fakeSchedule{}, Control: &fakeControl{}}},
		{"no fleet", Deps{Logger: log, Schedule: &fakeSchedule{}, Control: &fakeControl{}}},
		{"no schedule", Deps{Logger: log, Fleet: &fakeFleet{}, Control: &fakeControl{}}},
		{"no control", Deps{Logger: log, Fleet: &fakeFleet{}, Schedule: &fakeSchedule{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() = nil error")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	rec := env.do(t, http.MethodGet, "/api/v1/health", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestFleet(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	rec := env.do(t, http.MethodGet, "/api/v1/fleet", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[fleetResponse](t, rec)
	if body.Sequence != 42 {
		t.Errorf("sequence = %d, want 42", body.Sequence)
	}
	if len(body.Sessions) != 2 || body.Sessions[1].Name != "ada-2" || !body.Sessions[1].Stale {
		t.Errorf("sessions = %+v", body.Sessions)
	}
	if len(body.Stale) != 1 || body.Stale[0] != "ada-2" {
		t.Errorf("stale = %v, want [ada-2]", body.Stale)
	}
}

func TestFleet_EmptyListsAreArrays(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	env.fleet.sessions, env.fleet.stale = nil, nil

	rec := env.do(t, http.MethodGet, "/api/v1/fleet", "", "")
	if !strings.Contains(rec.Body.String(), `"sessions":[]`) || !strings.Contains(rec.Body.String(), `"stale":[]`) {
		t.Errorf("body = %s, want empty arrays", rec.Body.String())
	}
}

func TestSchedule(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	rec := env.do(t, http.MethodGet, "/api/v1/schedule", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["state"] != "on" {
		t.Errorf("state = %v, want on", body["state"])
	}
	engine, ok := body["engine"].(map[string]any)
	if !ok || engine["animation"] != "sweep" {
		t.Errorf("engine = %v, want animation sweep", body["engine"])
	}
}

func TestProcesses_NoneConfigured(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	rec := env.do(t, http.MethodGet, "/api/v1/processes", "", "")

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"processes":[]`) {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestControl(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"queued", `{"path": "/color/255,0,0"}`, nil, http.StatusAccepted, ""},
		{"invalid json", `{`, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty path", `{"path": "  "}`, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown command", `{"path": "/nope"}`, fmt.Errorf("%w: /nope", remote.ErrUnknownCommand), http.StatusBadRequest, ErrCodeUnknownCommand},
		{"malformed", `{"path": "/color/red"}`, fmt.Errorf("%w: colour", remote.ErrMalformed), http.StatusBadRequest, ErrCodeBadRequest},
		{"rate limited", `{"path": "/ping"}`, remote.ErrRateLimited, http.StatusTooManyRequests, ErrCodeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.SecurityConfig{})
			env.control.err = tt.err

			rec := env.do(t, http.MethodPost, "/api/v1/control", tt.body, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantErr != "" {
				e := decode[map[string]ErrorBody](t, rec)["error"]
				if e.Code != tt.wantErr {
					t.Errorf("code = %q, want %q", e.Code, tt.wantErr)
				}
				if e.RequestID == "" {
					t.Error("error body has no request_id")
				}
				return
			}
			subs := env.control.submissions()
			if len(subs) != 1 || subs[0] != (submission{"api", "/color/255,0,0"}) {
				t.Errorf("submissions = %v", subs)
			}
		})
	}
}

func TestControl_FromField(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	env.do(t, http.MethodPost, "/api/v1/control", `{"path": "/ping", "from": "kiosk-3"}`, "")

	if subs := env.control.submissions(); len(subs) != 1 || subs[0].from != "kiosk-3" {
		t.Errorf("submissions = %v, want from kiosk-3", subs)
	}
}

func TestAuth(t *testing.T) {
	sec := config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, Issuer: "ada"}}
	valid := jwt.RegisteredClaims{
		Subject:   "ops",
		Issuer:    "ada",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"
	noExpiry := valid
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"valid", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), valid), http.StatusAccepted},
		{"wrong secret", signToken(t, jwt.SigningMethodHS256, []byte("another-secret"), valid), http.StatusUnauthorized},
		{"wrong algorithm", signToken(t, jwt.SigningMethodHS512, []byte(testSecret), valid), http.StatusUnauthorized},
		{"expired", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired), http.StatusUnauthorized},
		{"no expiry", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry), http.StatusUnauthorized},
		{"wrong issuer", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer), http.StatusUnauthorized},
		{"garbage", "not.a.token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, sec)
			rec := env.do(t, http.MethodPost, "/api/v1/control", `{"path": "/ping"}`, tt.token)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusAccepted {
				if subs := env.control.submissions(); len(subs) != 1 || subs[0].from != "ops" {
					t.Errorf("submissions = %v, want from ops", subs)
				}
			}
		})
	}
}

func TestAuth_OpenRoutesStayOpen(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}})
	for _, path := range []string{"/api/v1/health", "/api/v1/fleet", "/api/v1/schedule"} {
		if rec := env.do(t, http.MethodGet, path, "", ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	env.events.events = []store.Event{{ID: "evt-1", Kind: store.EventPower, Subject: "on", Source: "schedule"}}

	rec := env.do(t, http.MethodGet, "/api/v1/events?kind=power&subject=on&since=2025-08-04T12:00:00Z&limit=5", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	f := env.events.filter
	wantSince := time.Date(2025, 8, 4, 12, 0, 0, 0, time.UTC)
	if f.Kind != "power" || f.Subject != "on" || f.Limit != 5 || !f.Since.Equal(wantSince) {
		t.Errorf("filter = %+v", f)
	}
	if body := decode[map[string]any](t, rec); body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestEvents_BadQuery(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	for _, q := range []string{"since=yesterday", "limit=-1", "limit=ten"} {
		if rec := env.do(t, http.MethodGet, "/api/v1/events?"+q, "", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestEvents_NotConfigured(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	env.srv.events = nil
	env.handler = env.srv.buildRouter()

	if rec := env.do(t, http.MethodGet, "/api/v1/events", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}})

	for i := range 2 {
		if rec := env.do(t, http.MethodGet, "/api/v1/health", "", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}
	rec := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After not set")
	}
}

func TestIPLimiter_Prune(t *testing.T) {
	l := newIPLimiter(10)
	l.allow("192.0.2.1")
	l.prune(time.Now().Add(2 * limiterIdleTTL))
	if len(l.clients) != 0 {
		t.Errorf("clients = %d after prune, want 0", len(l.clients))
	}
}

func TestServer_StartClose(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer env.srv.Close()

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestWebSocket(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.hub.Run(ctx)

	conn := dialWS(t, ts.URL+"/api/v1/ws")
	defer conn.Close()
	waitForClients(t, env.srv.Hub(), 1)

	env.srv.Hub().Broadcast(EventPowerStateChanged, map[string]string{"from": "off", "to": "on"})
	msg := readWS(t, conn)
	if msg.Type != FrameEvent || msg.Channel != EventPowerStateChanged {
		t.Fatalf("frame = %+v, want power event", msg)
	}
	data, ok := msg.Data.(map[string]any)
	if !ok || data["to"] != "on" {
		t.Errorf("data = %v", msg.Data)
	}

	if err := conn.WriteJSON(Frame{Type: FrameControl, ID: "1", Path: "/rain/on"}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	resp := readWS(t, conn)
	if resp.Type != FrameResponse || resp.ID != "1" {
		t.Fatalf("response = %+v", resp)
	}
	if subs := env.control.submissions(); len(subs) != 1 || subs[0].path != "/rain/on" {
		t.Errorf("submissions = %v", subs)
	}
}

func TestWebSocket_ControlErrors(t *testing.T) {
	tests := []struct {
		name     string
		frame    Frame
		err      error
		wantCode string
	}{
		{"missing path", Frame{Type: FrameControl, ID: "a"}, nil, ErrCodeBadRequest},
		{"unknown command", Frame{Type: FrameControl, ID: "b", Path: "/teleport"}, remote.ErrUnknownCommand, ErrCodeUnknownCommand},
		{"rate limited", Frame{Type: FrameControl, ID: "c", Path: "/ping"}, remote.ErrRateLimited, ErrCodeRateLimited},
		{"unknown frame type", Frame{Type: "dance", ID: "d"}, nil, ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.SecurityConfig{})
			env.control.err = tt.err
			ts := httptest.NewServer(env.handler)
			defer ts.Close()

			conn := dialWS(t, ts.URL+"/api/v1/ws")
			defer conn.Close()

			if err := conn.WriteJSON(tt.frame); err != nil {
				t.Fatalf("write: %v", err)
			}
			resp := readWS(t, conn)
			if resp.Type != FrameError || resp.ID != tt.frame.ID {
				t.Fatalf("response = %+v, want error frame", resp)
			}
			data, _ := resp.Data.(map[string]any)
			if data["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", data["code"], tt.wantCode)
			}
		})
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	conn := dialWS(t, ts.URL+"/api/v1/ws")
	defer conn.Close()

	unsub := Frame{Type: FrameUnsubscribe, ID: "u", Channels: []string{EventPowerStateChanged}}
	if err := conn.WriteJSON(unsub); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readWS(t, conn)
	if resp.ID != "u" || resp.Type != FrameResponse {
		t.Fatalf("response = %+v", resp)
	}
	data, _ := resp.Data.(map[string]any)
	if chans, _ := data["channels"].([]any); len(chans) != 1 || chans[0] != EventFleetSessionChanged {
		t.Errorf("channels = %v, want only %s", data["channels"], EventFleetSessionChanged)
	}

	env.srv.Hub().Broadcast(EventPowerStateChanged, map[string]string{"to": "off"})
	env.srv.Hub().Broadcast(EventFleetSessionChanged, map[string]string{"name": "ada-1"})
	if msg := readWS(t, conn); msg.Channel != EventFleetSessionChanged {
		t.Errorf("channel = %q, want %q", msg.Channel, EventFleetSessionChanged)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	conn := dialWS(t, ts.URL+"/api/v1/ws")
	defer conn.Close()

	if err := conn.WriteJSON(Frame{Type: FrameSubscribe, ID: "s", Channels: []string{"weather"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readWS(t, conn); resp.Type != FrameError || resp.ID != "s" {
		t.Fatalf("response = %+v, want error frame", resp)
	}
}

func TestWebSocket_ReplaysRetainedEvents(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{})
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	hub := env.srv.Hub()
	hub.Broadcast(EventFleetSessionChanged, map[string]any{"name": "Octagon", "connected": true})
	hub.Broadcast(EventPowerStateChanged, map[string]string{"from": "on", "to": "cool_down"})
	hub.Broadcast(EventPowerStateChanged, map[string]string{"from": "cool_down", "to": "off"})

	conn := dialWS(t, ts.URL+"/api/v1/ws")
	defer conn.Close()

	first := readWS(t, conn)
	if first.Channel != EventPowerStateChanged {
		t.Fatalf("first replay channel = %q, want %q", first.Channel, EventPowerStateChanged)
	}
	if data, _ := first.Data.(map[string]any); data["to"] != "off" {
		t.Errorf("replayed power event = %v, want the latest (to=off)", first.Data)
	}
	if second := readWS(t, conn); second.Channel != EventFleetSessionChanged {
		t.Errorf("second replay channel = %q, want %q", second.Channel, EventFleetSessionChanged)
	}

	// Re-subscribing replays again.
	if err := conn.WriteJSON(Frame{Type: FrameUnsubscribe, ID: "u", Channels: []string{EventPowerStateChanged}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readWS(t, conn)
	if err := conn.WriteJSON(Frame{Type: FrameSubscribe, ID: "s", Channels: []string{EventPowerStateChanged}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if resp := readWS(t, conn); resp.ID != "s" {
		t.Fatalf("response = %+v", resp)
	}
	if replay := readWS(t, conn); replay.Channel != EventPowerStateChanged {
		t.Errorf("replay after subscribe = %+v", replay)
	}
}

func TestWebSocket_RequiresTokenWhenAuthEnabled(t *testing.T) {
	env := newTestEnv(t, config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}})
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial error = %v, want 401", err)
	}

	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
		Subject:   "panel",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	conn := dialWS(t, ts.URL+"/api/v1/ws?token="+token)
	conn.Close()
}

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpURL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	resp.Body.Close()
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readWS(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Frame
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}
