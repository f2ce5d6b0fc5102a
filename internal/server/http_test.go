package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dungeonforge/dungeon-server-go/internal/game/gameerr"
	"github.com/dungeonforge/dungeon-server-go/internal/game/rules"
)

func newTestHTTP(t *testing.T, svc Services, origins ...string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewRouter(svc, origins))
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHTTPHealth(t *testing.T) {
	ts := newTestHTTP(t, newTestServices(t))

	var body map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestHTTPRequestIDEchoed(t *testing.T) {
	ts := newTestHTTP(t, newTestServices(t))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(RequestIDHeader))
}

func TestHTTPGameReads(t *testing.T) {
	svc := newTestServices(t)
	gameID := startedGame(t, svc)
	ts := newTestHTTP(t, svc)

	var g map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/games/"+gameID, &g))
	assert.Equal(t, gameID, g["id"])

	var f map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/games/"+gameID+"/field", &f))

	var sum map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/games/"+gameID+"/checksum", &sum))
	assert.Len(t, sum["hash"], 64)

	var missing ErrorView
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/games/nope", &missing))
	assert.Equal(t, string(gameerr.CodeNotFound), missing.Code)
}

func TestHTTPListGames(t *testing.T) {
	svc := newTestServices(t)
	startedGame(t, svc)
	ts := newTestHTTP(t, svc)

	var body struct {
		Games []map[string]any `json:"games"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/games?status=lobby,finished", &body))
	assert.Empty(t, body.Games)

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/games", &body))
	assert.Len(t, body.Games, 1)

	var bad ErrorView
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/games?status=asleep", &bad))
	assert.Equal(t, string(gameerr.CodeInvalidArgument), bad.Code)
}

func postCommand(t *testing.T, ts *httptest.Server, gameID, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/games/"+gameID+"/commands", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestHTTPCommands(t *testing.T) {
	svc := newTestServices(t)
	gameID := startedGame(t, svc)
	ts := newTestHTTP(t, svc)

	resp, body := postCommand(t, ts, gameID, `{"kind":"PICK_TILE","player_id":"p1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = postCommand(t, ts, gameID, `{"kind":"PLACE_TILE","player_id":"p1","position":"1,0"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var view ResultView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, gameID, view.GameID)
	assert.NotEmpty(t, view.Events)

	resp, body = postCommand(t, ts, gameID, `{"kind":"PICK_TILE","player_id":"p2"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var errView ErrorView
	require.NoError(t, json.Unmarshal(body, &errView))
	assert.Equal(t, string(gameerr.CodeNotYourTurn), errView.Code)

	resp, _ = postCommand(t, ts, gameID, `{"kind":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postCommand(t, ts, gameID, `{"kind":"CREATE_GAME","overrides":{"dice":[1]}}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func dialGame(t *testing.T, ts *httptest.Server, gameID string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/games/" + gameID
	return websocket.DefaultDialer.Dial(url, header)
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == wantType {
			return msg
		}
	}
}

func TestWebsocketCommandsAndEvents(t *testing.T) {
	svc := newTestServices(t)
	gameID := startedGame(t, svc)
	ts := newTestHTTP(t, svc)

	conn, _, err := dialGame(t, ts, gameID, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return svc.Hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":       MessageCommand,
		"request_id": "r1",
		"data":       map[string]any{"kind": "PICK_TILE", "player_id": "p1"},
	}))
	result := readUntil(t, conn, EnvelopeResult)
	assert.Equal(t, "r1", result["request_id"])

	// A command sent over HTTP reaches the websocket as an event.
	resp, body := postCommand(t, ts, gameID, `{"kind":"PLACE_TILE","player_id":"p1","position":"1,0"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	evt := readUntil(t, conn, EnvelopeEvent)
	data, ok := evt["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, gameID, data["game_id"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":       MessageQuery,
		"request_id": "r2",
		"data":       map[string]any{"kind": QueryPlayerStatus, "player_id": "p1"},
	}))
	answer := readUntil(t, conn, EnvelopeResult)
	assert.Equal(t, "r2", answer["request_id"])
	status := answer["data"].(map[string]any)
	assert.Equal(t, "1,0", status["position"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":       MessageCommand,
		"request_id": "r3",
		"data":       map[string]any{"kind": "PICK_TILE", "player_id": "p2"},
	}))
	failed := readUntil(t, conn, EnvelopeError)
	assert.Equal(t, "r3", failed["request_id"])
	assert.Equal(t, string(gameerr.CodeNotYourTurn), failed["data"].(map[string]any)["code"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	malformed := readUntil(t, conn, EnvelopeError)
	assert.Equal(t, string(gameerr.CodeInvalidArgument), malformed["data"].(map[string]any)["code"])

	conn.Close()
	require.Eventually(t, func() bool { return svc.Hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketUnknownGame(t *testing.T) {
	ts := newTestHTTP(t, newTestServices(t))

	_, resp, err := dialGame(t, ts, "missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketOriginCheck(t *testing.T) {
	svc := newTestServices(t)
	gameID := startedGame(t, svc)
	ts := newTestHTTP(t, svc, "https://play.example.com")

	_, resp, err := dialGame(t, ts, gameID, http.Header{"Origin": []string{"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dialGame(t, ts, gameID, http.Header{"Origin": []string{"https://play.example.com"}})
	require.NoError(t, err)
	conn.Close()
}

func TestEventsReachEveryGameSubscriber(t *testing.T) {
	svc := newTestServices(t)
	all := svc.Hub.Subscribe("")
	defer svc.Hub.Unsubscribe(all)

	startedGame(t, svc)

	var types []rules.EventType
	for len(all.C()) > 0 {
		env := <-all.C()
		types = append(types, env.Data.(rules.Event).Type)
	}
	assert.Equal(t, []rules.EventType{
		rules.EventGameCreated,
		rules.EventPlayerAdded,
		rules.EventPlayerAdded,
		rules.EventGameStarted,
		rules.EventTurnStarted,
	}, types)
}
