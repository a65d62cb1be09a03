package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/feudbox/games/feud"
	"github.com/gorilla/websocket"
)

const petCSV = "Name a pet, Dog, 45, Cat, 38, Fish, 12\n"

type testMessage struct {
	Type    string     `json:"type"`
	IsHost  bool       `json:"is_host"`
	Message string     `json:"message"`
	State   feud.State `json:"state"`
}

func testConfig() *Config {
	return &Config{
		maxUploadSize: 1 << 20,
	}
}

func newTestServer(t *testing.T, cfg *Config) *httptest.Server {
	t.Helper()

	errs := make(chan error, 64)
	server := httptest.NewServer(newRouter(cfg, errs))
	t.Cleanup(server.Close)

	return server
}

func dial(t *testing.T, server *httptest.Server, gameID, viewerID string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/feud/" + gameID + "/ws"
	header := http.Header{}
	header.Set("Cookie", viewerCookieName+"="+viewerID)

	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readNext(t *testing.T, conn *websocket.Conn, expect string) testMessage {
	t.Helper()

	var msg testMessage
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%+v)", expect, msg.Type, msg)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()

	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %v: %v", msg["type"], err)
	}
}

func upload(t *testing.T, server *httptest.Server, gameID, viewerID, filename, body string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte(body))
	_ = mw.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL+"/feud/"+gameID+"/upload", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: viewerCookieName, Value: viewerID})

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func TestWebSocketGameFlow(t *testing.T) {
	server := newTestServer(t, testConfig())

	host := dial(t, server, "game1", "host")
	if info := readNext(t, host, "session_info"); !info.IsHost {
		t.Fatalf("expected first connection to be host")
	}
	if st := readNext(t, host, "game_state").State; st.Phase != "no_questions" {
		t.Fatalf("expected no_questions, got %s", st.Phase)
	}

	resp := upload(t, server, "game1", "host", "pets.csv", petCSV)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected upload ok, got %d", resp.StatusCode)
	}
	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode upload result: %v", err)
	}
	if result.Questions != 1 || result.Phase != "team_count" {
		t.Fatalf("unexpected upload result: %+v", result)
	}
	if st := readNext(t, host, "game_state").State; st.Phase != "team_count" || st.QuestionCount != 1 {
		t.Fatalf("expected team_count with 1 question, got %+v", st)
	}

	viewer := dial(t, server, "game1", "viewer")
	if info := readNext(t, viewer, "session_info"); info.IsHost {
		t.Fatalf("expected second connection to be a viewer")
	}
	readNext(t, viewer, "game_state")

	send(t, host, map[string]any{"type": "select_team_count", "count": 2})
	if st := readNext(t, host, "game_state").State; st.Phase != "team_setup" || len(st.Teams) != 2 {
		t.Fatalf("expected 2 teams in setup, got %+v", st)
	}
	readNext(t, viewer, "game_state")

	send(t, host, map[string]any{"type": "start_game"})
	readNext(t, host, "game_state")
	if st := readNext(t, viewer, "game_state").State; st.Phase != "in_progress" || st.Question == nil {
		t.Fatalf("expected game in progress, got %+v", st)
	}

	send(t, host, map[string]any{"type": "reveal", "answer": 0})
	hostState := readNext(t, host, "game_state").State
	if hostState.RoundPoints != 45 || hostState.Question.Answers[1].Text != "Cat" {
		t.Fatalf("unexpected host board: %+v", hostState)
	}
	viewState := readNext(t, viewer, "game_state").State
	if a := viewState.Question.Answers[0]; !a.Revealed || a.Display != "DOG" {
		t.Fatalf("expected viewer to see revealed dog, got %+v", a)
	}
	if a := viewState.Question.Answers[1]; a.Revealed || a.Text != "" {
		t.Fatalf("expected viewer not to see cat, got %+v", a)
	}

	send(t, host, map[string]any{"type": "award", "team": 0})
	if st := readNext(t, viewer, "game_state").State; st.Teams[0].Score != 45 || st.RoundPoints != 0 {
		t.Fatalf("expected 45 awarded to team 1, got %+v", st)
	}
	readNext(t, host, "game_state")

	send(t, host, map[string]any{"type": "next_question"})
	if msg := readNext(t, host, "notice"); msg.Message == "" {
		t.Fatalf("expected last question notice")
	}
}

func TestUploadRequiresHost(t *testing.T) {
	server := newTestServer(t, testConfig())

	host := dial(t, server, "game2", "host")
	readNext(t, host, "session_info")
	readNext(t, host, "game_state")

	if resp := upload(t, server, "game2", "someone-else", "pets.csv", petCSV); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", resp.StatusCode)
	}

	resp := upload(t, server, "game2", "host", "empty.csv", "just,one\n")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ok for empty deck, got %d", resp.StatusCode)
	}
	var result UploadResult
	_ = json.NewDecoder(resp.Body).Decode(&result)
	if result.Questions != 0 || result.Phase != "no_questions" {
		t.Fatalf("expected empty deck to stay in no_questions, got %+v", result)
	}
}

func TestUploadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.maxUploadSize = 64
	server := newTestServer(t, cfg)

	host := dial(t, server, "game3", "host")
	readNext(t, host, "session_info")

	resp := upload(t, server, "game3", "host", "big.csv", strings.Repeat(petCSV, 20))
	if resp.StatusCode != http.StatusRequestEntityTooLarge && resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected upload to be refused, got %d", resp.StatusCode)
	}
}

func newTestHub(t *testing.T) (*Hub, *Client, *Client) {
	t.Helper()

	qs, err := feud.ParseCSV(strings.NewReader(petCSV))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	h := newHub("unit", qs)
	h.hostID = "host"

	host := &Client{send: make(chan any, 16), viewerID: "host"}
	viewer := &Client{send: make(chan any, 16), viewerID: "viewer"}
	h.clients[host] = true
	h.clients[viewer] = true

	return h, host, viewer
}

func act(h *Hub, c *Client, msg ClientMessage) {
	h.handleAction(testConfig(), hostAction{client: c, msg: msg})
}

func intPtr(i int) *int {
	return &i
}

func TestHubIgnoresViewerActions(t *testing.T) {
	h, host, viewer := newTestHub(t)

	act(h, viewer, ClientMessage{Type: "select_team_count", Count: 2})
	if h.engine.Phase() != feud.TeamCountPending {
		t.Fatalf("expected viewer action ignored, got %s", h.engine.Phase())
	}

	act(h, host, ClientMessage{Type: "select_team_count", Count: 3})
	act(h, host, ClientMessage{Type: "start_game"})
	act(h, viewer, ClientMessage{Type: "reveal", Answer: intPtr(0)})
	if h.engine.RoundPoints() != 0 {
		t.Fatalf("expected viewer reveal ignored, got %d round points", h.engine.RoundPoints())
	}

	if len(viewer.send) != 2 || len(host.send) != 2 {
		t.Fatalf("expected one broadcast per accepted action, got host=%d viewer=%d", len(host.send), len(viewer.send))
	}
}

func TestHubReportsRejectedActions(t *testing.T) {
	h, host, viewer := newTestHub(t)

	act(h, host, ClientMessage{Type: "select_team_count", Count: 11})

	if len(host.send) != 1 {
		t.Fatalf("expected an error for the host, got %d messages", len(host.send))
	}
	msg, ok := (<-host.send).(SimpleMessage)
	if !ok || msg.Type != "error" {
		t.Fatalf("expected error message, got %+v", msg)
	}
	if len(viewer.send) != 0 {
		t.Fatalf("expected nothing sent to viewer, got %d", len(viewer.send))
	}

	// Missing indices are dropped without a reply.
	act(h, host, ClientMessage{Type: "select_team_count", Count: 2})
	act(h, host, ClientMessage{Type: "start_game"})
	for len(host.send) > 0 {
		<-host.send
	}
	act(h, host, ClientMessage{Type: "award"})
	act(h, host, ClientMessage{Type: "reveal"})
	if len(host.send) != 0 {
		t.Fatalf("expected actions without indices to be dropped, got %d messages", len(host.send))
	}
}

func TestHubStrikeCapNotice(t *testing.T) {
	h, host, _ := newTestHub(t)

	act(h, host, ClientMessage{Type: "select_team_count", Count: 2})
	act(h, host, ClientMessage{Type: "start_game"})
	for i := 0; i < feud.MaxStrikes; i++ {
		act(h, host, ClientMessage{Type: "strike"})
	}
	for len(host.send) > 0 {
		<-host.send
	}

	act(h, host, ClientMessage{Type: "strike"})
	msg, ok := (<-host.send).(SimpleMessage)
	if !ok || msg.Type != "notice" {
		t.Fatalf("expected notice at strike cap, got %+v", msg)
	}
	if h.engine.Teams()[0].Strikes != feud.MaxStrikes {
		t.Fatalf("expected strikes capped, got %+v", h.engine.Teams())
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	h, host, _ := newTestHub(t)

	slow := &Client{send: make(chan any), viewerID: "slow"}
	h.clients[slow] = true

	act(h, host, ClientMessage{Type: "select_team_count", Count: 2})

	if h.clients[slow] {
		t.Fatalf("expected unbuffered client to be dropped")
	}
	if _, open := <-slow.send; open {
		t.Fatalf("expected dropped client's channel to be closed")
	}
}

func TestReapIdleGames(t *testing.T) {
	gm := newGameManager(0, nil)
	cfg := testConfig()

	stale := gm.getHub(cfg, "stale")
	fresh := gm.getHub(cfg, "fresh")

	stale.mu.Lock()
	stale.lastActive = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	if n := gm.reap(time.Now().Add(-time.Hour)); n != 1 {
		t.Fatalf("expected 1 game reaped, got %d", n)
	}

	gm.mu.Lock()
	_, staleKept := gm.hubs["stale"]
	_, freshKept := gm.hubs["fresh"]
	gm.mu.Unlock()

	if staleKept || !freshKept {
		t.Fatalf("expected only stale game removed, stale=%v fresh=%v", staleKept, freshKept)
	}

	fresh.stop()
}

func TestPreloadedDeck(t *testing.T) {
	cfg := testConfig()
	cfg.deck = feud.QuestionSet{{Prompt: "Name a pet", Answers: []feud.Answer{{Text: "Dog", Points: 45}}}}
	server := newTestServer(t, cfg)

	host := dial(t, server, "preloaded", "host")
	readNext(t, host, "session_info")
	if st := readNext(t, host, "game_state").State; st.Phase != "team_count" || st.QuestionCount != 1 {
		t.Fatalf("expected preloaded deck, got %+v", st)
	}
}

func TestNewGameRedirect(t *testing.T) {
	server := newTestServer(t, testConfig())

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Get(server.URL + "/feud")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if !strings.HasPrefix(loc, "/feud/") || len(strings.TrimPrefix(loc, "/feud/")) != 8 {
		t.Fatalf("unexpected redirect location %q", loc)
	}
}

func TestGamePageAndQR(t *testing.T) {
	server := newTestServer(t, testConfig())

	resp, err := http.Get(server.URL + "/feud/game4")
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected page response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	found := false
	for _, c := range resp.Cookies() {
		if c.Name == viewerCookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected viewer cookie to be set")
	}

	qr, err := http.Get(server.URL + "/feud/game4/qr")
	if err != nil {
		t.Fatalf("get qr: %v", err)
	}
	defer qr.Body.Close()

	if qr.StatusCode != http.StatusOK || qr.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected qr response %d %q", qr.StatusCode, qr.Header.Get("Content-Type"))
	}
}
