// feudbox survey game
//
// A host uploads a spreadsheet of survey questions, picks 2-10 teams and
// runs the board: revealing answers, handing out strikes and awarding each
// round's points. Anyone else who opens the game URL gets a read-only board
// that only shows revealed answers, suitable for a TV or projector.
//
// Features:
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - First cookie to connect to a game becomes the host
// - Host sees every answer; viewers see revealed answers only
// - Questions uploaded as CSV or YAML via /path/:gameid/upload (host only)
// - Optional deck preloaded into every new game with --questions
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the board, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/feudbox/games/feud"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from the host
type ClientMessage struct {
	Type   string `json:"type"`             // see handleAction
	Count  int    `json:"count,omitempty"`  // select_team_count
	Team   *int   `json:"team,omitempty"`   // rename_team / award
	Name   string `json:"name,omitempty"`   // rename_team
	Answer *int   `json:"answer,omitempty"` // reveal
}

// SessionInfoMessage is sent immediately on connect so the client knows
// which view to render.
type SessionInfoMessage struct {
	Type   string `json:"type"` // "session_info"
	GameID string `json:"game_id"`
	IsHost bool   `json:"is_host"`
}

// GameStateMessage carries a full board snapshot after every change.
type GameStateMessage struct {
	Type  string     `json:"type"` // "game_state"
	State feud.State `json:"state"`
}

// SimpleMessage is for generic notifications ("notice", "error")
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type UploadResult struct {
	Questions int    `json:"questions"`
	Phase     string `json:"phase"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	viewerID string
}

type hostAction struct {
	client *Client
	msg    ClientMessage
}

type loadRequest struct {
	viewerID  string
	questions feud.QuestionSet
	result    chan loadResult
}

type loadResult struct {
	phase feud.Phase
	err   error
}

var errNotHost = errors.New("only the host may do that")

type Hub struct {
	id      string
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	actions  chan hostAction
	loads    chan loadRequest
	done     chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
	hostID     string // cookie/viewerID of the host

	engine *feud.Engine
}

func newHub(gameID string, deck feud.QuestionSet) *Hub {
	now := time.Now()
	h := &Hub{
		id:         gameID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		actions:    make(chan hostAction),
		loads:      make(chan loadRequest),
		done:       make(chan struct{}),
		createdAt:  now,
		lastActive: now,
		engine:     feud.NewEngine(),
	}

	if len(deck) > 0 {
		h.engine.Load(deck)
	}

	return h
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()

			// First connection becomes host
			if h.hostID == "" {
				h.hostID = c.viewerID
				logf(cfg, "GAMES: Host connected to %s", h.id)
			}

			h.clients[c] = true

			h.deliverLocked(c, SessionInfoMessage{
				Type:   "session_info",
				GameID: h.id,
				IsHost: c.viewerID == h.hostID,
			})
			h.deliverLocked(c, h.stateLocked(c))

			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case a := <-h.actions:
			h.handleAction(cfg, a)

		case lr := <-h.loads:
			h.handleLoad(cfg, lr)

		case <-h.done:
			return
		}
	}
}

// deliverLocked queues msg for c, dropping the client if it has fallen
// behind. Assumes h.mu is held.
func (h *Hub) deliverLocked(c *Client, msg any) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) stateLocked(c *Client) GameStateMessage {
	return GameStateMessage{
		Type:  "game_state",
		State: h.engine.View(c.viewerID == h.hostID),
	}
}

// broadcastStateLocked sends a fresh snapshot to every client, unmasked for
// the host.
func (h *Hub) broadcastStateLocked() {
	for client := range h.clients {
		h.deliverLocked(client, h.stateLocked(client))
	}
}

// noticeLocked sends a message to the host's connections only.
func (h *Hub) noticeLocked(kind, text string) {
	for client := range h.clients {
		if client.viewerID != h.hostID {
			continue
		}
		h.deliverLocked(client, SimpleMessage{
			Type:    kind,
			Message: text,
		})
	}
}

func (h *Hub) isHost(viewerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return viewerID != "" && viewerID == h.hostID
}

// handleAction applies one host action to the engine and broadcasts the
// result. Actions from anyone else are ignored.
func (h *Hub) handleAction(cfg *Config, a hostAction) {
	c := a.client
	msg := a.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if h.hostID == "" || c.viewerID != h.hostID {
		return
	}

	var err error

	switch msg.Type {
	case "select_team_count":
		err = h.engine.SelectTeamCount(msg.Count)
		if err == nil {
			logf(cfg, "GAMES: %d teams selected in %s", msg.Count, h.id)
		}

	case "rename_team":
		if msg.Team == nil {
			return
		}
		err = h.engine.RenameTeam(*msg.Team, msg.Name)

	case "start_game":
		err = h.engine.StartGame()
		if err == nil {
			logf(cfg, "GAMES: Started %s with %d teams", h.id, len(h.engine.Teams()))
		}

	case "back":
		err = h.engine.BackToTeamCount()

	case "reveal":
		if msg.Answer == nil {
			return
		}
		var changed bool
		changed, err = h.engine.RevealAnswer(*msg.Answer)
		if err == nil && !changed {
			return
		}

	case "strike":
		var changed bool
		changed, err = h.engine.AddStrike()
		if err == nil && !changed {
			h.noticeLocked("notice", "That team already has the maximum number of strikes.")
			return
		}

	case "switch_team":
		_, err = h.engine.SwitchTeam()

	case "award":
		if msg.Team == nil {
			return
		}
		var awarded int
		awarded, err = h.engine.AwardPoints(*msg.Team)
		if err == nil {
			logf(cfg, "GAMES: Awarded %d points to team %d in %s", awarded, *msg.Team+1, h.id)
		}

	case "next_question":
		var moved bool
		moved, err = h.engine.NextQuestion()
		if err == nil && !moved {
			h.noticeLocked("notice", "That was the last question.")
			return
		}

	case "new_game":
		err = h.engine.ResetGame()
		if err == nil {
			logf(cfg, "GAMES: New game in %s", h.id)
		}

	default:
		return
	}

	if err != nil {
		logf(cfg, "GAMES: Rejected %q in %s: %v", msg.Type, h.id, err)
		h.noticeLocked("error", err.Error())

		return
	}

	h.broadcastStateLocked()
}

// handleLoad replaces the game's questions, discarding the session.
func (h *Hub) handleLoad(cfg *Config, lr loadRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if h.hostID == "" || lr.viewerID != h.hostID {
		lr.result <- loadResult{err: errNotHost}

		return
	}

	phase := h.engine.Load(lr.questions)
	logf(cfg, "GAMES: Loaded %d questions into %s", len(lr.questions), h.id)

	h.broadcastStateLocked()

	lr.result <- loadResult{phase: phase}
}

// load hands a parsed question set to the hub goroutine and waits for it
// to be applied.
func (h *Hub) load(ctx context.Context, viewerID string, qs feud.QuestionSet) (feud.Phase, error) {
	lr := loadRequest{
		viewerID:  viewerID,
		questions: qs,
		result:    make(chan loadResult, 1),
	}

	select {
	case h.loads <- lr:
	case <-h.done:
		return feud.NoQuestions, errors.New("game has ended")
	case <-ctx.Done():
		return feud.NoQuestions, ctx.Err()
	}

	res := <-lr.result

	return res.phase, res.err
}

// stop ends the hub goroutine and disconnects all clients (used by reaper).
func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()

		for c := range h.clients {
			close(c.send)
			_ = c.conn.Close()
			delete(h.clients, c)
		}
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	viewerCookieName = "feudbox_id"
	maxMessageSize   = 4096
)

func getOrSetViewerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(viewerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     viewerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated session.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
	deck        feud.QuestionSet
}

func newGameManager(idleTimeout time.Duration, deck feud.QuestionSet) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
		deck:        deck,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getHub(cfg *Config, gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub
	}

	hub := newHub(gameID, gm.deck)
	gm.hubs[gameID] = hub
	go hub.run(cfg)
	return hub
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reap removes hubs that have been idle since before cutoff.
func (gm *GameManager) reap(cutoff time.Time) int {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	reaped := 0
	for id, hub := range gm.hubs {
		hub.mu.RLock()
		last := hub.lastActive
		hub.mu.RUnlock()

		if last.Before(cutoff) {
			delete(gm.hubs, id)
			go hub.stop()
			reaped++
		}
	}

	return reaped
}

func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		gm.reap(time.Now().Add(-gm.idleTimeout))
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		viewerID := getOrSetViewerID(w, r)

		hub := gm.getHub(cfg, gameID)

		conn, err := upgrader.Upgrade(w, r, w.Header())
		if err != nil {
			logf(cfg, "GAMES: Upgrade failed for %s: %v", realIP(r), err)
			return
		}
		conn.SetReadLimit(maxMessageSize)

		client := &Client{
			conn:     conn,
			send:     make(chan any, 16),
			viewerID: viewerID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case h.actions <- hostAction{client: c, msg: msg}:
		case <-h.done:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// serveUpload accepts a multipart "file" field holding a CSV or YAML deck
// and loads it into the game. Only the host may upload.
func serveUpload(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		gameID := ps.ByName("gameid")

		viewerID := getOrSetViewerID(w, r)

		hub := gm.getHub(cfg, gameID)
		if !hub.isHost(viewerID) {
			http.Error(w, errNotHost.Error(), http.StatusForbidden)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, cfg.maxUploadSize)

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		questions, err := feud.ParseFile(header.Filename, file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		phase, err := hub.load(r.Context(), viewerID, questions)
		if err != nil {
			if errors.Is(err, errNotHost) {
				http.Error(w, err.Error(), http.StatusForbidden)
				return
			}
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		securityHeaders(cfg, w)

		_ = json.NewEncoder(w).Encode(UploadResult{
			Questions: len(questions),
			Phase:     phase.String(),
		})

		logf(cfg, "UPLOAD: %d questions from %q (%s) into %s by %s in %s",
			len(questions),
			header.Filename,
			humanReadableSize(header.Size),
			gameID,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := cfg.scheme()
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func getIndexHandler(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/feud/index.html")
		if err != nil {
			http.Error(w, "missing client", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_ = getOrSetViewerID(w, r)

		_, err = w.Write(data)
		if err != nil {
			errs <- err
		}
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerFeudGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/upload   → question upload (host only)
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerFeudGame(cfg *Config, path string, mux *httprouter.Router, errs chan<- error) *GameManager {
	gm := newGameManager(cfg.sessionTimeout, cfg.deck)

	path = cfg.prefix + path

	mux.GET(path, redirectNewGame(cfg, path, gm))

	mux.GET(path+"/:gameid", getIndexHandler(cfg, errs))

	mux.GET(path+"/:gameid/ws", serveWSForManager(cfg, gm))

	mux.POST(path+"/:gameid/upload", serveUpload(cfg, gm))

	mux.GET(path+"/:gameid/qr", qrHandler(cfg))

	return gm
}
