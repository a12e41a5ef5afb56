package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/FrameFilter/internal/overlay"
	"github.com/bryanchriswhite/FrameFilter/internal/relay"
)

type fakeSource struct {
	received atomic.Uint64
	chains   []relay.ChainInfo
}

func (f *fakeSource) Stats() relay.Snapshot {
	return relay.Snapshot{RunID: "run-1", State: relay.StateRunning, Received: f.received.Add(1)}
}

func (f *fakeSource) Chains() []relay.ChainInfo {
	return f.chains
}

func getJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp
}

func TestHealthAndStats(t *testing.T) {
	src := &fakeSource{}
	ts := httptest.NewServer(NewServer(src, nil).Handler())
	defer ts.Close()

	var health map[string]string
	resp := getJSON(t, ts.URL+"/api/health", &health)
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
	want := map[string]string{"status": "healthy", "version": Version, "state": relay.StateRunning}
	if diff := cmp.Diff(want, health); diff != "" {
		t.Errorf("health (-want +got):\n%s", diff)
	}

	var snap relay.Snapshot
	getJSON(t, ts.URL+"/api/stats", &snap)
	if snap.RunID != "run-1" || snap.Received == 0 {
		t.Errorf("stats = %+v", snap)
	}
}

func TestChains(t *testing.T) {
	tests := []struct {
		name   string
		chains []relay.ChainInfo
		want   string
	}{
		{name: "none", want: "[]\n"},
		{
			name:   "two",
			chains: []relay.ChainInfo{{ID: "import", Importers: []string{"importer"}}, {ID: "export", Exporters: []string{"exporter"}}},
			want:   `[{"id":"import","importers":["importer"],"exporters":null},{"id":"export","importers":null,"exporters":["exporter"]}]` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewServer(&fakeSource{chains: tt.chains}, nil).Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/chains", nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if diff := cmp.Diff(tt.want, rec.Body.String()); diff != "" {
				t.Errorf("body (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPreflightAndMethods(t *testing.T) {
	h := NewServer(&fakeSource{}, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/api/stats", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d", rec.Code)
	}

	tests := []struct {
		method, path string
		want         int
	}{
		{"POST", "/api/stats", http.StatusMethodNotAllowed},
		{"DELETE", "/api/health", http.StatusMethodNotAllowed},
		{"PUT", "/api/chains", http.StatusMethodNotAllowed},
		{"PATCH", "/api/overlay/widgets/x", http.StatusMethodNotAllowed},
		{"GET", "/api/nope", http.StatusNotFound},
		{"GET", "/api/overlay", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestOverlayRoutes(t *testing.T) {
	ov := overlay.NewDefaultManager()
	h := NewServer(&fakeSource{}, ov).Handler()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		t.Helper()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := do("GET", "/api/overlay/types", "")
	var types []map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&types); err != nil || len(types) != 2 {
		t.Fatalf("types = %v, %v", types, err)
	}

	rec = do("POST", "/api/overlay/widgets", `{"type":"text","id":"label","text":"hi"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body)
	}
	if rec = do("POST", "/api/overlay/widgets", `{"type":"text","id":"label","text":"again"}`); rec.Code != http.StatusConflict {
		t.Errorf("duplicate add status = %d", rec.Code)
	}
	if rec = do("POST", "/api/overlay/widgets", `{"type":"text","id":"empty","text":""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty text add status = %d", rec.Code)
	}

	rec = do("PUT", "/api/overlay/widgets/label", `{"x":12,"text":"moved"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body)
	}
	var updated map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&updated)
	if updated["x"] != 12.0 || updated["text"] != "moved" {
		t.Errorf("updated = %v", updated)
	}
	if rec = do("PUT", "/api/overlay/widgets/missing", `{}`); rec.Code != http.StatusNotFound {
		t.Errorf("update missing status = %d", rec.Code)
	}

	var ids []string
	for _, w := range ov.ExportConfig() {
		ids = append(ids, w["id"].(string))
	}
	if diff := cmp.Diff([]string{overlay.DefaultCrosshairID, "label"}, ids); diff != "" {
		t.Errorf("widgets (-want +got):\n%s", diff)
	}

	rec = do("GET", "/api/overlay/widgets", "")
	var listed []map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil || len(listed) != 2 {
		t.Errorf("listed = %v, %v", listed, err)
	}

	if rec = do("PUT", "/api/overlay", `{"enabled":false}`); rec.Code != http.StatusOK || ov.IsEnabled() {
		t.Errorf("disable status = %d, enabled = %v", rec.Code, ov.IsEnabled())
	}
	if rec = do("PUT", "/api/overlay", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty toggle status = %d", rec.Code)
	}

	if rec = do("DELETE", "/api/overlay/widgets/label", ""); rec.Code != http.StatusOK {
		t.Errorf("remove status = %d", rec.Code)
	}
	if rec = do("DELETE", "/api/overlay/widgets/label", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second remove status = %d", rec.Code)
	}

	if rec = do("DELETE", "/api/overlay/widgets", ""); rec.Code != http.StatusOK {
		t.Errorf("clear status = %d", rec.Code)
	}
	rec = do("GET", "/api/overlay", "")
	var state struct {
		Enabled bool                     `json:"enabled"`
		Widgets []map[string]interface{} `json:"widgets"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state.Enabled || len(state.Widgets) != 0 {
		t.Errorf("overlay = %+v", state)
	}
}

func TestStatsStream(t *testing.T) {
	s := NewServer(&fakeSource{}, nil)
	s.SetStreamInterval(10 * time.Millisecond)
	addr, err := s.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/stats/stream", nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var last uint64
	for i := 0; i < 3; i++ {
		var snap relay.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("ReadJSON() #%d error: %v", i, err)
		}
		if snap.Received <= last {
			t.Errorf("snapshot #%d not newer: %d <= %d", i, snap.Received, last)
		}
		last = snap.Received
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	// the stream ends with a close frame once the server shuts down
	for {
		var snap relay.Snapshot
		err := conn.ReadJSON(&snap)
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) && !strings.Contains(err.Error(), "EOF") {
			t.Errorf("stream ended with %v", err)
		}
		break
	}
}
