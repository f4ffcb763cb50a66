package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zlingapp/server-sub000/internal/config"
	"github.com/zlingapp/server-sub000/internal/db"
	"github.com/zlingapp/server-sub000/internal/media"
	"github.com/zlingapp/server-sub000/internal/metrics"
	"github.com/zlingapp/server-sub000/internal/models"
)

const testPassword = "correct horse battery staple"

// testServer bundles the HTTP test listener with the Server behind it.
type testServer struct {
	*httptest.Server
	api *Server
}

// newTestServer stands up the full stack against a throwaway SQLite file.
// Voice media workers bind real UDP ports, so each test passes its own
// range.
func newTestServer(t *testing.T, portMin, portMax uint16) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Name: "test"},
		Database: config.DatabaseConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
		Auth: config.AuthConfig{
			TokenKey:        "0123456789abcdef0123456789abcdef",
			AccessTokenTTL:  time.Minute,
			RefreshTokenTTL: time.Hour,
		},
		Voice: config.VoiceConfig{
			PortMin:                         portMin,
			PortMax:                         portMax,
			AnnounceIP:                      "127.0.0.1",
			EnableUDP:                       true,
			PreferUDP:                       true,
			InitialAvailableOutgoingBitrate: 600_000,
		},
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	m := metrics.New()
	pool := media.NewPool(cfg.Voice, m)
	t.Cleanup(pool.Close)

	server, err := NewServer(cfg, database, pool, m)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(server.Shutdown)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, api: server}
}

// request sends a JSON request and decodes the response into out, which
// may be nil. Extra headers come in name, value pairs.
func (ts *testServer) request(t *testing.T, method, path, token string, body, out any, headers ...string) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) registerUser(t *testing.T, username string) sessionResponse {
	t.Helper()

	var session sessionResponse
	status := ts.request(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"password": testPassword,
	}, &session)
	if status != http.StatusOK {
		t.Fatalf("registering %s: status = %d", username, status)
	}
	return session
}

func (ts *testServer) createGuildAndChannel(t *testing.T, token string) (guildID, channelID string) {
	t.Helper()

	var guild models.Guild
	status := ts.request(t, http.MethodPost, "/guilds", token, map[string]string{"name": "Test Guild"}, &guild)
	if status != http.StatusOK {
		t.Fatalf("creating guild: status = %d", status)
	}

	var channel models.Channel
	status = ts.request(t, http.MethodPost, "/guilds/"+guild.ID+"/channels", token, map[string]string{"name": "general"}, &channel)
	if status != http.StatusOK {
		t.Fatalf("creating channel: status = %d", status)
	}
	return guild.ID, channel.ID
}

// dialWS opens a websocket against the test server.
func (ts *testServer) dialWS(t *testing.T, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	return websocket.DefaultDialer.Dial(wsURL, nil)
}
