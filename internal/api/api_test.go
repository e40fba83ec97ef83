package api

import (
	"bytes"
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

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"generals-net/internal/chat"
	"generals-net/internal/config"
	"generals-net/internal/gamestate"
	"generals-net/internal/lockstep"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// mockSaves implements SaveStore for testing
type mockSaves struct {
	mu      sync.Mutex
	games   map[string]gamestate.SaveGameInfo
	order   []string
	loaded  []string
	deleted []string
	next    int
	crc     uint32
}

func newMockSaves() *mockSaves {
	return &mockSaves{games: make(map[string]gamestate.SaveGameInfo), crc: 0xDEADBEEF}
}

func (m *mockSaves) add(filename, description string) {
	m.games[filename] = gamestate.SaveGameInfo{
		SaveID:      uuid.New(),
		Description: description,
		Date:        gamestate.DateFromTime(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	}
	m.order = append(m.order, filename)
}

func (m *mockSaves) AvailableGames() ([]gamestate.AvailableGameInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []gamestate.AvailableGameInfo
	for _, name := range m.order {
		if info, ok := m.games[name]; ok {
			out = append(out, gamestate.AvailableGameInfo{Filename: name, SaveGameInfo: info})
		}
	}
	return out, nil
}

func (m *mockSaves) SaveGameInfoFromFile(filename string) (gamestate.SaveGameInfo, gamestate.SaveCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if filename == "corrupt.sav" {
		return gamestate.SaveGameInfo{}, gamestate.SCInvalidData
	}
	info, ok := m.games[filename]
	if !ok {
		return gamestate.SaveGameInfo{}, gamestate.SCFileNotFound
	}
	return info, gamestate.SCOk
}

func (m *mockSaves) SaveGame(filename, description string, saveType gamestate.SaveFileType, which gamestate.SnapshotType) (string, gamestate.SaveCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if filename == "" {
		filename = fmt.Sprintf("%08d.sav", m.next)
		m.next++
	}
	m.games[filename] = gamestate.SaveGameInfo{
		SaveID:       uuid.New(),
		SaveFileType: saveType,
		Description:  description,
	}
	m.order = append(m.order, filename)
	return filename, gamestate.SCOk
}

func (m *mockSaves) LoadGame(game gamestate.AvailableGameInfo) gamestate.SaveCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = append(m.loaded, game.Filename)
	return gamestate.SCOk
}

func (m *mockSaves) DeleteSaveGame(filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, filename)
	m.deleted = append(m.deleted, filename)
	return nil
}

func (m *mockSaves) ComputeCRC(which gamestate.SnapshotType) (uint32, error) {
	return m.crc + uint32(which), nil
}

// mockSession implements SessionSource for testing
type mockSession struct{}

func (mockSession) Stats() lockstep.Stats {
	return lockstep.Stats{
		ID:        "session-1",
		LocalSlot: 0,
		Frame:     42,
		RunAhead:  20,
		FrameRate: 30,
		Players:   []lockstep.PlayerStats{{Slot: 1, Addr: "10.0.0.2:8088", Progress: 100, Loaded: true}},
	}
}

// mockChat implements ChatSource for testing
type mockChat struct{ lines []chat.Line }

func (m mockChat) Recent(n int) []chat.Line {
	if n <= 0 || n > len(m.lines) {
		return m.lines
	}
	return m.lines[len(m.lines)-n:]
}

// mockJournal implements JournalSource for testing
type mockJournal struct{}

func (mockJournal) Stats() map[string]interface{} {
	return map[string]interface{}{"total": 7, "dropped": 0}
}

func testRouter(cfg RouterConfig) *httptest.Server {
	cfg.DisableLogging = true
	if cfg.RateLimitConfig == nil && cfg.RateLimiter == nil {
		cfg.RateLimitConfig = &RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000, CleanupInterval: time.Hour}
	}
	return httptest.NewServer(NewRouter(cfg))
}

func decode(t *testing.T, r io.Reader, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

// ============================================================================
// Router Purity Tests
// ============================================================================

// TestNewRouterHasNoSideEffects verifies that NewRouter is a pure function
// with no network listeners opened.
func TestNewRouterHasNoSideEffects(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000, CleanupInterval: time.Hour})
	defer limiter.Stop()

	router := NewRouter(RouterConfig{Saves: newMockSaves(), RateLimiter: limiter})
	if router == nil {
		t.Fatal("Router should not be nil")
	}
}

// ============================================================================
// Save Endpoint Tests
// ============================================================================

// TestAPIListSaves tests the save listing endpoint
func TestAPIListSaves(t *testing.T) {
	saves := newMockSaves()
	saves.add("00000000.sav", "before the bridge")
	saves.add("00000001.sav", "after the bridge")

	ts := testRouter(RouterConfig{Saves: saves})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/saves")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	var result []map[string]interface{}
	decode(t, resp.Body, &result)
	if len(result) != 2 {
		t.Fatalf("Expected 2 saves, got %d", len(result))
	}
	if result[1]["description"] != "after the bridge" || result[1]["type"] != "normal" {
		t.Errorf("Expected second save described, got %v", result[1])
	}
	if result[0]["date"] != "2024-05-01T12:00:00.000" {
		t.Errorf("Expected formatted date, got %v", result[0]["date"])
	}
}

// TestAPISave tests writing a save through the API
func TestAPISave(t *testing.T) {
	saves := newMockSaves()
	var written []string
	ts := testRouter(RouterConfig{
		Saves: saves,
		OnSaveWritten: func(filename string, info gamestate.SaveGameInfo) {
			written = append(written, filename)
		},
	})
	defer ts.Close()

	body := bytes.NewReader([]byte(`{"description": "checkpoint", "type": "mission"}`))
	resp, err := http.Post(ts.URL+"/api/saves", "application/json", body)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	decode(t, resp.Body, &result)
	if result["filename"] != "00000000.sav" || result["type"] != "mission" {
		t.Errorf("Expected mission save 00000000.sav, got %v", result)
	}
	if len(written) != 1 || written[0] != "00000000.sav" {
		t.Errorf("Expected save notification, got %v", written)
	}
}

// TestAPISaveValidation tests validation on save requests
func TestAPISaveValidation(t *testing.T) {
	ts := testRouter(RouterConfig{Saves: newMockSaves()})
	defer ts.Close()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "invalid json",
			body:       `{invalid}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown type",
			body:       `{"type": "autosave"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "path in filename",
			body:       `{"filename": "../escape.sav"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "explicit filename",
			body:       `{"filename": "quick.sav"}`,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := bytes.NewReader([]byte(tt.body))
			resp, err := http.Post(ts.URL+"/api/saves", "application/json", body)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

// TestAPIGetSaveCodes tests that save codes map to HTTP statuses
func TestAPIGetSaveCodes(t *testing.T) {
	saves := newMockSaves()
	saves.add("00000003.sav", "ok")

	ts := testRouter(RouterConfig{Saves: saves})
	defer ts.Close()

	tests := []struct {
		file       string
		wantStatus int
		wantError  string
	}{
		{"00000003.sav", http.StatusOK, ""},
		{"missing.sav", http.StatusNotFound, "file_not_found"},
		{"corrupt.sav", http.StatusUnprocessableEntity, "invalid_data"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/saves/" + tt.file)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			var result map[string]interface{}
			decode(t, resp.Body, &result)
			if tt.wantError != "" && result["error"] != tt.wantError {
				t.Errorf("Expected error %s, got %v", tt.wantError, result["error"])
			}
		})
	}
}

// TestAPILoadAndDeleteSave tests the load and delete endpoints
func TestAPILoadAndDeleteSave(t *testing.T) {
	saves := newMockSaves()
	saves.add("00000005.sav", "to load")

	ts := testRouter(RouterConfig{Saves: saves})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/saves/00000005.sav/load", "application/json", nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Load: expected 200, got %d", resp.StatusCode)
	}
	if len(saves.loaded) != 1 || saves.loaded[0] != "00000005.sav" {
		t.Errorf("Expected save loaded, got %v", saves.loaded)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/saves/00000005.sav", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Delete: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/saves/00000005.sav/load", "application/json", nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Load after delete: expected 404, got %d", resp.StatusCode)
	}
}

// ============================================================================
// Session and CRC Tests
// ============================================================================

// TestAPISession tests the session stats endpoint
func TestAPISession(t *testing.T) {
	ts := testRouter(RouterConfig{
		Saves:   newMockSaves(),
		Session: mockSession{},
		Journal: mockJournal{},
		Chat:    mockChat{lines: []chat.Line{{From: 1, Text: "gg"}}},
	})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var result struct {
		Session lockstep.Stats         `json:"session"`
		Journal map[string]interface{} `json:"journal"`
		Chat    []chat.Line            `json:"chat"`
	}
	decode(t, resp.Body, &result)

	if result.Session.Frame != 42 || len(result.Session.Players) != 1 {
		t.Errorf("Expected session at frame 42 with 1 peer, got %+v", result.Session)
	}
	if result.Journal["total"] != float64(7) {
		t.Errorf("Expected journal total 7, got %v", result.Journal["total"])
	}
	if len(result.Chat) != 1 || result.Chat[0].Text != "gg" {
		t.Errorf("Expected chat line, got %v", result.Chat)
	}
}

// TestAPISessionUnavailable tests the session endpoint without a session
func TestAPISessionUnavailable(t *testing.T) {
	ts := testRouter(RouterConfig{Saves: newMockSaves()})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

// TestAPICRC tests the desync checksum endpoint
func TestAPICRC(t *testing.T) {
	ts := testRouter(RouterConfig{Saves: newMockSaves()})
	defer ts.Close()

	tests := []struct {
		snapshot   string
		wantStatus int
		wantCRC    string
	}{
		{"saveload", http.StatusOK, "DEADBEEF"},
		{"deepcrc_logic", http.StatusOK, "DEADBEF0"},
		{"deepcrc", http.StatusOK, "DEADBEF1"},
		{"everything", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.snapshot, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/crc/" + tt.snapshot)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantCRC == "" {
				return
			}
			var result map[string]string
			decode(t, resp.Body, &result)
			if result["crc"] != tt.wantCRC {
				t.Errorf("Expected crc %s, got %s", tt.wantCRC, result["crc"])
			}
		})
	}
}

// ============================================================================
// Middleware Tests
// ============================================================================

// TestAPICORSHeaders verifies CORS headers are set correctly
func TestAPICORSHeaders(t *testing.T) {
	ts := testRouter(RouterConfig{
		Saves:       newMockSaves(),
		CORSOrigins: []string{"http://test.example.com"},
	})
	defer ts.Close()

	req, _ := http.NewRequest("GET", ts.URL+"/api/saves", nil)
	req.Header.Set("Origin", "http://test.example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	allowOrigin := resp.Header.Get("Access-Control-Allow-Origin")
	if allowOrigin != "http://test.example.com" {
		t.Errorf("Expected Access-Control-Allow-Origin 'http://test.example.com', got '%s'", allowOrigin)
	}
}

// TestAPIRateLimiting verifies rate limiting works
func TestAPIRateLimiting(t *testing.T) {
	ts := testRouter(RouterConfig{
		Saves: newMockSaves(),
		RateLimitConfig: &RateLimitConfig{
			RequestsPerSecond: 1, // Only 1 request per second
			Burst:             2, // Allow burst of 2
			CleanupInterval:   time.Hour,
		},
	})
	defer ts.Close()

	var gotRateLimited bool
	for i := 0; i < 10; i++ {
		resp, err := http.Get(ts.URL + "/api/saves")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			gotRateLimited = true
			break
		}
	}

	if !gotRateLimited {
		t.Error("Expected to be rate limited after burst exceeded")
	}
}

// TestAPIRedirects tests the redirect behavior
func TestAPIRedirects(t *testing.T) {
	ts := testRouter(RouterConfig{Saves: newMockSaves()})
	defer ts.Close()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("Expected 302 redirect, got %d", resp.StatusCode)
	}
	if location := resp.Header.Get("Location"); location != "/api/session" {
		t.Errorf("Expected redirect to /api/session, got %s", location)
	}
}

// TestIsAllowedOrigin tests the WebSocket origin check
func TestIsAllowedOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8080", true},
		{"http://localhost.evil.com", false},
		{"https://example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsAllowedOrigin(tt.origin); got != tt.want {
			t.Errorf("IsAllowedOrigin(%q): expected %v, got %v", tt.origin, tt.want, got)
		}
	}
}

// ============================================================================
// Server Tests
// ============================================================================

// TestServerBroadcastsSave tests that API saves reach WebSocket clients
func TestServerBroadcastsSave(t *testing.T) {
	server := NewServer(RouterConfig{Saves: newMockSaves(), DisableLogging: true}, nil, time.Hour)
	go server.Hub().Run()
	defer server.Shutdown(context.Background())

	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://localhost"}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for server.Hub().ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/api/saves", "application/json", strings.NewReader(`{"description":"live"}`))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event string                 `json:"event"`
		Data  map[string]interface{} `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Event != "save:written" || msg.Data["description"] != "live" {
		t.Errorf("Expected save:written for 'live', got %+v", msg)
	}
}

// TestServerRejectsForeignOrigin tests the WebSocket origin check end to end
func TestServerRejectsForeignOrigin(t *testing.T) {
	server := NewServer(RouterConfig{Saves: newMockSaves(), DisableLogging: true}, nil, time.Hour)
	go server.Hub().Run()
	defer server.Shutdown(context.Background())

	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	header := http.Header{"Origin": []string{"https://example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	if err == nil {
		t.Fatal("Expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %v", resp)
	}
}

// TestDebugHandler tests the metrics endpoint and basic auth
func TestDebugHandler(t *testing.T) {
	ts := httptest.NewServer(NewDebugHandler(config.DebugConfig{
		Enabled:       true,
		BasicAuthUser: "ops",
		BasicAuthPass: "secret",
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", ts.URL+"/metrics", nil)
	req.SetBasicAuth("ops", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "websocket_connections_active") {
		t.Error("Expected websocket gauge in metrics output")
	}
	if !strings.Contains(string(body), "lockstep_commands_live") {
		t.Error("Expected lockstep gauge in metrics output")
	}
}

// TestIsLoopback tests which debug addresses stay local
func TestIsLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{":6060", false},
		{"10.0.0.2:6060", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		if got := isLoopback(tt.addr); got != tt.want {
			t.Errorf("isLoopback(%q): expected %v, got %v", tt.addr, tt.want, got)
		}
	}
}

// ============================================================================
// Benchmarks
// ============================================================================

// BenchmarkAPIListSaves benchmarks the save listing endpoint
func BenchmarkAPIListSaves(b *testing.B) {
	saves := newMockSaves()
	for i := 0; i < 50; i++ {
		saves.add(fmt.Sprintf("%08d.sav", i), "bench")
	}

	limiter := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1e9, Burst: 1e9, CleanupInterval: time.Hour})
	defer limiter.Stop()
	ts := httptest.NewServer(NewRouter(RouterConfig{Saves: saves, RateLimiter: limiter, DisableLogging: true}))
	defer ts.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := http.Get(ts.URL + "/api/saves")
		if err != nil {
			b.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
	}
}
