package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"zigbee-sensor-node/internal/app"
	"zigbee-sensor-node/internal/button"
	"zigbee-sensor-node/internal/config"
	"zigbee-sensor-node/internal/zcl"
	"zigbee-sensor-node/internal/zcl/clusters"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeNode answers from a real config adapter and records triggers.
type fakeNode struct {
	conf    *config.Adapter
	events  *app.EventBus
	status  app.Status
	busy    bool
	mu      sync.Mutex
	presses []button.Action
	samples int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		conf:   config.NewAdapter(config.Defaults(), nil, testLogger()),
		events: app.NewEventBus(testLogger()),
		status: app.Status{Network: app.NetworkStateData{State: "joined", Channel: 15, PanID: 0x1A2B}},
	}
}

func (f *fakeNode) QueryStatus(ctx context.Context) (app.Status, error) {
	if f.busy {
		<-ctx.Done()
		return app.Status{}, ctx.Err()
	}
	return f.status, nil
}

func (f *fakeNode) ConfigSnapshot() map[string]interface{} { return f.conf.Snapshot() }

func (f *fakeNode) SetConfig(ctx context.Context, key string, value interface{}) error {
	if f.busy {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.conf.Set(key, value)
}

func (f *fakeNode) Press(a button.Action) {
	f.mu.Lock()
	f.presses = append(f.presses, a)
	f.mu.Unlock()
}

func (f *fakeNode) RequestSample() {
	f.mu.Lock()
	f.samples++
	f.mu.Unlock()
}

func (f *fakeNode) Events() *app.EventBus { return f.events }

func newTestServer(t *testing.T, node Node, opts ...ServerOption) *Server {
	t.Helper()
	s := NewServer(node, testLogger(), opts...)
	t.Cleanup(s.Stop)
	return s
}

func do(t *testing.T, s http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestAPIStatus(t *testing.T) {
	s := newTestServer(t, newFakeNode())
	w := do(t, s, http.MethodGet, "/api/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var st app.Status
	decode(t, w, &st)
	if st.Network.State != "joined" || st.Network.PanID != 0x1A2B {
		t.Errorf("network = %+v", st.Network)
	}
}

func TestAPIStatusBusy(t *testing.T) {
	node := newFakeNode()
	node.busy = true
	s := newTestServer(t, node)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req.WithContext(ctx))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestAPIGetConfig(t *testing.T) {
	s := newTestServer(t, newFakeNode())
	w := do(t, s, http.MethodGet, "/api/config", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var cfg map[string]interface{}
	decode(t, w, &cfg)
	if cfg["sensor_read_interval"] != float64(60) {
		t.Errorf("sensor_read_interval = %v, want 60", cfg["sensor_read_interval"])
	}
	if cfg["led_enable"] != true {
		t.Errorf("led_enable = %v, want true", cfg["led_enable"])
	}
}

func TestAPISetConfig(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		body       string
		wantCode   int
		wantStatus string
	}{
		{"by name", "sensor_read_interval", `{"value": 120}`, http.StatusOK, zcl.StatusName(zcl.ZCLStatusSuccess)},
		{"by hex id", "0xF004", `{"value": false}`, http.StatusOK, zcl.StatusName(zcl.ZCLStatusSuccess)},
		{"string value", "temperature_offset", `{"value": "-150"}`, http.StatusOK, zcl.StatusName(zcl.ZCLStatusSuccess)},
		{"out of range", "sensor_read_interval", `{"value": 5}`, http.StatusBadRequest, zcl.StatusName(zcl.ZCLStatusInvalidValue)},
		{"fraction", "sensor_read_interval", `{"value": 1.5}`, http.StatusBadRequest, zcl.StatusName(zcl.ZCLStatusInvalidDataType)},
		{"unknown key", "colour", `{"value": 1}`, http.StatusNotFound, zcl.StatusName(zcl.ZCLStatusUnsupportedAttr)},
		{"missing value", "led_enable", `{}`, http.StatusBadRequest, ""},
		{"bad json", "led_enable", `{`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, newFakeNode())
			w := do(t, s, http.MethodPut, "/api/config/"+tt.key, tt.body, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantStatus == "" {
				return
			}
			var res configResult
			decode(t, w, &res)
			if res.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", res.Status, tt.wantStatus)
			}
		})
	}
}

func TestAPIPatchConfig(t *testing.T) {
	node := newFakeNode()
	s := newTestServer(t, node)

	w := do(t, s, http.MethodPatch, "/api/config",
		`{"sensor_read_interval": 300, "humidity_offset": 99999, "led_enable": "off"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
	var resp struct {
		Results map[string]configResult `json:"results"`
		Config  map[string]interface{}  `json:"config"`
	}
	decode(t, w, &resp)

	if got := resp.Results["humidity_offset"].Status; got != zcl.StatusName(zcl.ZCLStatusInvalidValue) {
		t.Errorf("humidity_offset status = %q", got)
	}
	// Valid keys still apply.
	if resp.Config["sensor_read_interval"] != float64(300) {
		t.Errorf("sensor_read_interval = %v, want 300", resp.Config["sensor_read_interval"])
	}
	if resp.Config["led_enable"] != false {
		t.Errorf("led_enable = %v, want false", resp.Config["led_enable"])
	}
	if node.conf.Config().HumidityOffset != 0 {
		t.Errorf("rejected humidity offset was applied")
	}
}

func TestAPIPatchConfigBusy(t *testing.T) {
	node := newFakeNode()
	node.busy = true
	s := newTestServer(t, node)

	req := httptest.NewRequest(http.MethodPatch, "/api/config", strings.NewReader(`{"led_enable": true}`))
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req.WithContext(ctx))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", w.Code)
	}
}

func TestAPIListClusters(t *testing.T) {
	reg := zcl.NewRegistry(testLogger())
	clusters.Register(reg, clusters.Profile{Humidity: true, Pressure: true})
	s := newTestServer(t, newFakeNode(), WithRegistry(reg))

	w := do(t, s, http.MethodGet, "/api/clusters", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	var out []clusterView
	decode(t, w, &out)
	if len(out) == 0 {
		t.Fatal("no clusters listed")
	}
	if out[0].ID != "0x0000" {
		t.Errorf("first cluster = %s, want 0x0000", out[0].ID)
	}
	var mfg int
	for _, a := range out[0].Attributes {
		if a.Manufacturer != "" {
			mfg++
			if !a.Writable {
				t.Errorf("%s should be writable", a.Name)
			}
		}
	}
	if mfg != len(config.Fields) {
		t.Errorf("manufacturer attributes = %d, want %d", mfg, len(config.Fields))
	}
}

func TestAPIVersion(t *testing.T) {
	s := newTestServer(t, newFakeNode(), WithVersion("1.2.3"))
	w := do(t, s, http.MethodGet, "/api/version", "", nil)
	var v map[string]string
	decode(t, w, &v)
	if v["version"] != "1.2.3" {
		t.Errorf("version = %q", v["version"])
	}
}

func TestAPIDebugTriggers(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, newFakeNode())
		w := do(t, s, http.MethodPost, "/api/debug/sample", "", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("code = %d, want 404", w.Code)
		}
	})

	t.Run("button", func(t *testing.T) {
		node := newFakeNode()
		s := newTestServer(t, node, WithDebug(true))
		for _, body := range []string{`{"action":"short"}`, `{"action":"long"}`} {
			if w := do(t, s, http.MethodPost, "/api/debug/button", body, nil); w.Code != http.StatusAccepted {
				t.Fatalf("%s: code = %d, want 202", body, w.Code)
			}
		}
		if w := do(t, s, http.MethodPost, "/api/debug/button", `{"action":"double"}`, nil); w.Code != http.StatusBadRequest {
			t.Errorf("unknown action: code = %d, want 400", w.Code)
		}
		if len(node.presses) != 2 || node.presses[0] != button.ShortPress || node.presses[1] != button.LongPress {
			t.Errorf("presses = %v", node.presses)
		}
	})

	t.Run("sample", func(t *testing.T) {
		node := newFakeNode()
		s := newTestServer(t, node, WithDebug(true))
		if w := do(t, s, http.MethodPost, "/api/debug/sample", "", nil); w.Code != http.StatusAccepted {
			t.Fatalf("code = %d, want 202", w.Code)
		}
		if node.samples != 1 {
			t.Errorf("samples = %d, want 1", node.samples)
		}
	})
}

func TestAPIKey(t *testing.T) {
	s := newTestServer(t, newFakeNode(), WithAPIKey("secret"))
	tests := []struct {
		name string
		hdr  map[string]string
		want int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"correct", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, s, http.MethodGet, "/api/version", "", tt.hdr); w.Code != tt.want {
				t.Errorf("code = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestOriginCheck(t *testing.T) {
	s := newTestServer(t, newFakeNode(), WithAllowedOrigins([]string{"http://ha.local"}))
	tests := []struct {
		name   string
		method string
		origin string
		want   int
	}{
		{"get any origin", http.MethodGet, "http://evil.example", http.StatusOK},
		{"put foreign origin", http.MethodPut, "http://evil.example", http.StatusForbidden},
		{"put allowed origin", http.MethodPut, "http://ha.local", http.StatusOK},
		{"preflight allowed", http.MethodOptions, "http://ha.local", http.StatusNoContent},
		{"preflight foreign", http.MethodOptions, "http://evil.example", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, body := "/api/version", ""
			if tt.method == http.MethodPut {
				path, body = "/api/config/led_enable", `{"value": true}`
			}
			w := do(t, s, tt.method, path, body, map[string]string{"Origin": tt.origin})
			if w.Code != tt.want {
				t.Errorf("code = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
