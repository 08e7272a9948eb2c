package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/airq-visualizer/backend/internal/refresh"
	"github.com/airq-visualizer/backend/internal/view/dashboard"
	"github.com/airq-visualizer/backend/internal/view/mapview"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocket message types
const (
	// Client -> Server messages
	MsgTypeSelect = "select"
	MsgTypePing   = "ping"

	// Server -> Client messages
	MsgTypeConnected     = "connected"
	MsgTypeDashboardView = "dashboard:view"
	MsgTypeMapMarkers    = "map:markers"
	MsgTypeMapStatus     = "map:status"
	MsgTypePong          = "pong"
	MsgTypeError         = "error"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxReadBytes = 64 * 1024
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ConnectedPayload is sent once after the upgrade.
type ConnectedPayload struct {
	ClientID  string `json:"clientId"`
	View      string `json:"view"`
	SessionID string `json:"sessionId,omitempty"`
}

// SelectPayload is the client's selection change.
type SelectPayload struct {
	Sensor string `json:"sensor"`
}

// MapMarkersPayload carries a marker diff for one map client.
type MapMarkersPayload struct {
	Upserts    []mapview.Marker     `json:"upserts"`
	Removals   []string             `json:"removals"`
	Skipped    []string             `json:"skipped,omitempty"`
	LastUpdate string               `json:"lastUpdate,omitempty"`
	Image      *mapview.ImageConfig `json:"image,omitempty"`
}

// MapStatusPayload carries the map's banner and loading state.
type MapStatusPayload struct {
	State   string `json:"state"`
	Loaded  bool   `json:"loaded"`
	Banner  string `json:"banner,omitempty"`
	Loading string `json:"loading,omitempty"`
}

// WSErrorPayload describes a protocol error.
type WSErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Sink is where a client's messages are written.
type Sink interface {
	WriteMessage(msg WSMessage) error
	Close() error
}

// connSink serializes writes to a gorilla connection.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *connSink) WriteMessage(msg WSMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

func (s *connSink) Close() error {
	return s.conn.Close()
}

type wsClient struct {
	id        string
	view      string
	sessionID string
	locale    string
	sink      Sink
	// tracker remembers the markers this map client shows.
	tracker *mapview.Tracker

	// renderMu makes building a view and writing it one step, so a client
	// never receives an older view after a newer one.
	renderMu sync.Mutex
}

// Hub keeps the websocket clients of both views and pushes every applied
// refresh result to them.
type Hub struct {
	h        *Handler
	upgrader websocket.Upgrader
	log      logr.Logger

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewHub creates the hub and registers it as a result listener of the
// handler's controllers.
func NewHub(h *Handler) *Hub {
	hub := &Hub{
		h: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		log:     h.log.WithName("ws"),
		clients: make(map[string]*wsClient),
	}
	h.hub = hub
	if h.dashboard != nil {
		h.dashboard.OnResult(hub.onDashboardResult)
	}
	if h.mapCtl != nil {
		h.mapCtl.OnResult(hub.onMapResult)
	}
	return hub
}

// HandleMapSocket upgrades to a websocket that receives marker diffs.
// Query: lang=<locale>
func (hub *Hub) HandleMapSocket(c echo.Context) error {
	if hub.h.mapCtl == nil {
		return NewServiceUnavailableError("map view is not running")
	}
	ws, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	ws.SetReadLimit(wsMaxReadBytes)

	client := &wsClient{
		id:      uuid.New().String(),
		view:    ViewMap,
		locale:  c.QueryParam("lang"),
		sink:    &connSink{conn: ws},
		tracker: mapview.NewTracker(),
	}
	hub.register(client)
	defer hub.unregister(client.id)

	if err := hub.greet(client); err != nil {
		return nil
	}
	if err := hub.sendMapView(client); err != nil {
		return nil
	}

	hub.readLoop(ws, client, nil)
	return nil
}

// HandleDashboardSocket upgrades to a websocket that receives dashboard views.
// Query: session=<id> reuses a session; otherwise sensor=<id> seeds a new one.
func (hub *Hub) HandleDashboardSocket(c echo.Context) error {
	h := hub.h
	if h.dashboard == nil {
		return NewServiceUnavailableError("dashboard view is not running")
	}

	locale := c.QueryParam("lang")
	ownsSession := false
	sessionID := c.QueryParam("session")
	if sessionID != "" {
		sess, ok := h.sessions.Get(sessionID)
		if !ok {
			return NewNotFoundError("session", sessionID)
		}
		if locale == "" {
			locale = sess.Locale
		}
	} else {
		sess := h.sessions.Create(c.QueryParam("sensor"))
		if locale != "" {
			h.sessions.SetLocale(sess.ID, locale)
		}
		sessionID = sess.ID
		ownsSession = true
	}

	ws, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		if ownsSession {
			h.sessions.Delete(sessionID)
		}
		return err
	}
	ws.SetReadLimit(wsMaxReadBytes)

	client := &wsClient{
		id:        uuid.New().String(),
		view:      ViewDashboard,
		sessionID: sessionID,
		locale:    locale,
		sink:      &connSink{conn: ws},
	}
	hub.register(client)
	defer func() {
		hub.unregister(client.id)
		if ownsSession {
			h.sessions.Delete(sessionID)
		}
	}()

	if err := hub.greet(client); err != nil {
		return nil
	}
	if err := hub.sendDashboardView(client); err != nil {
		return nil
	}

	hub.readLoop(ws, client, hub.handleSelect)
	return nil
}

// readLoop dispatches client messages until the connection ends.
func (hub *Hub) readLoop(ws *websocket.Conn, client *wsClient, onSelect func(*wsClient, WSMessage)) {
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				hub.log.V(1).Info("connection closed", "client", client.id, "error", err.Error())
			}
			return
		}

		switch {
		case msg.Type == MsgTypePing:
			hub.send(client, hub.message(MsgTypePong, msg.ID, nil))
		case msg.Type == MsgTypeSelect && onSelect != nil:
			onSelect(client, msg)
		default:
			hub.sendError(client, msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}
}

// handleSelect applies a selection change and pushes the new view to every
// client of the session.
func (hub *Hub) handleSelect(client *wsClient, msg WSMessage) {
	var payload SelectPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		hub.sendError(client, msg.ID, "Invalid select payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}
	if _, ok := hub.h.sessions.Select(client.sessionID, payload.Sensor); !ok {
		hub.sendError(client, msg.ID, "Session not found: "+client.sessionID, "SESSION_NOT_FOUND")
		return
	}
	hub.PushSession(client.sessionID)
}

// PushSession sends a fresh dashboard view to the clients of a session.
func (hub *Hub) PushSession(sessionID string) {
	for _, client := range hub.snapshotClients(ViewDashboard) {
		if client.sessionID != sessionID {
			continue
		}
		if err := hub.sendDashboardView(client); err != nil {
			hub.log.V(1).Info("dropped dashboard client", "client", client.id, "error", err.Error())
		}
	}
}

// onDashboardResult pushes the dashboard after an applied refresh. Clients
// without a selection only hear about the initial load and failures.
func (hub *Hub) onDashboardResult(res refresh.Result) error {
	var errs []error
	for _, client := range hub.snapshotClients(ViewDashboard) {
		sess, ok := hub.h.sessions.Get(client.sessionID)
		if !ok {
			continue
		}
		if !sess.HasSelection() && !res.Initial && res.Err == nil {
			continue
		}
		if err := hub.sendDashboardView(client); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// onMapResult sends each map client its marker diff, or a banner on failure.
func (hub *Hub) onMapResult(res refresh.Result) error {
	st := hub.h.mapCtl.Status()

	var errs []error
	for _, client := range hub.snapshotClients(ViewMap) {
		if err := hub.pushMapResult(client, st, res.Err != nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (hub *Hub) pushMapResult(client *wsClient, st refresh.Status, failed bool) error {
	client.renderMu.Lock()
	defer client.renderMu.Unlock()

	b := hub.h.mapBuilder(client.locale)
	if failed {
		status := MapStatusPayload{State: st.State.String(), Loaded: st.Loaded, Banner: b.FailureBanner(st)}
		return hub.send(client, hub.message(MsgTypeMapStatus, "", status))
	}

	v := b.BuildView(st, hub.h.mapImage)
	diff := client.tracker.Apply(v.Markers, v.Skipped)
	markers := MapMarkersPayload{
		Upserts:    diff.Upserts,
		Removals:   diff.Removals,
		Skipped:    v.Skipped,
		LastUpdate: v.LastUpdate,
	}
	if err := hub.send(client, hub.message(MsgTypeMapMarkers, "", markers)); err != nil {
		return err
	}
	return hub.send(client, hub.message(MsgTypeMapStatus, "", MapStatusPayload{State: v.State, Loaded: v.Loaded}))
}

func (hub *Hub) greet(client *wsClient) error {
	return hub.send(client, hub.message(MsgTypeConnected, "", ConnectedPayload{
		ClientID:  client.id,
		View:      client.view,
		SessionID: client.sessionID,
	}))
}

func (hub *Hub) sendDashboardView(client *wsClient) error {
	client.renderMu.Lock()
	defer client.renderMu.Unlock()

	h := hub.h
	sess, ok := h.sessions.Get(client.sessionID)
	if !ok {
		hub.sendError(client, "", "Session not found: "+client.sessionID, "SESSION_NOT_FOUND")
		return nil
	}
	h.sessions.Touch(client.sessionID)
	locale := client.locale
	if locale == "" {
		locale = sess.Locale
	}
	state := h.dashboardBuilder(locale).Build(dashboard.Input{
		Status:   h.dashboard.Status(),
		Selected: sess.SelectedSensor,
	})
	return hub.send(client, hub.message(MsgTypeDashboardView, "", state))
}

func (hub *Hub) sendMapView(client *wsClient) error {
	client.renderMu.Lock()
	defer client.renderMu.Unlock()

	img := hub.h.mapImage
	v := hub.h.mapBuilder(client.locale).BuildView(hub.h.mapCtl.Status(), img)
	diff := client.tracker.Apply(v.Markers, v.Skipped)

	if err := hub.send(client, hub.message(MsgTypeMapMarkers, "", MapMarkersPayload{
		Upserts:    diff.Upserts,
		Removals:   diff.Removals,
		Skipped:    v.Skipped,
		LastUpdate: v.LastUpdate,
		Image:      &img,
	})); err != nil {
		return err
	}
	return hub.send(client, hub.message(MsgTypeMapStatus, "", MapStatusPayload{
		State:   v.State,
		Loaded:  v.Loaded,
		Banner:  v.Banner,
		Loading: v.Loading,
	}))
}

// send writes to a client. A failed write drops the client.
func (hub *Hub) send(client *wsClient, msg WSMessage) error {
	if err := client.sink.WriteMessage(msg); err != nil {
		hub.unregister(client.id)
		return &refresh.RenderTargetMissingError{
			Target: fmt.Sprintf("%s client %s", client.view, client.id),
			Err:    err,
		}
	}
	return nil
}

func (hub *Hub) sendError(client *wsClient, id, message, code string) {
	hub.send(client, hub.message(MsgTypeError, id, WSErrorPayload{Message: message, Code: code}))
}

func (hub *Hub) message(typ, id string, payload interface{}) WSMessage {
	msg := WSMessage{Type: typ, ID: id, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		msg.Payload = mustJSON(payload)
	}
	return msg
}

func (hub *Hub) register(client *wsClient) {
	hub.mu.Lock()
	hub.clients[client.id] = client
	n := hub.countLocked(client.view)
	hub.mu.Unlock()

	hub.h.metrics.SetWSClients(client.view, n)
	hub.log.V(1).Info("client connected", "client", client.id, "view", client.view, "session", client.sessionID)
}

func (hub *Hub) unregister(id string) {
	hub.mu.Lock()
	client, ok := hub.clients[id]
	if !ok {
		hub.mu.Unlock()
		return
	}
	delete(hub.clients, id)
	n := hub.countLocked(client.view)
	hub.mu.Unlock()

	client.sink.Close()
	hub.h.metrics.SetWSClients(client.view, n)
	hub.log.V(1).Info("client disconnected", "client", id, "view", client.view)
}

// Count returns the number of connected clients of a view.
func (hub *Hub) Count(view string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return hub.countLocked(view)
}

func (hub *Hub) countLocked(view string) int {
	n := 0
	for _, c := range hub.clients {
		if c.view == view {
			n++
		}
	}
	return n
}

func (hub *Hub) snapshotClients(view string) []*wsClient {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	out := make([]*wsClient, 0, len(hub.clients))
	for _, c := range hub.clients {
		if c.view == view {
			out = append(out, c)
		}
	}
	return out
}

// Close disconnects every client.
func (hub *Hub) Close() {
	hub.mu.Lock()
	clients := hub.clients
	hub.clients = make(map[string]*wsClient)
	hub.mu.Unlock()

	for _, c := range clients {
		c.sink.Close()
	}
	hub.h.metrics.SetWSClients(ViewDashboard, 0)
	hub.h.metrics.SetWSClients(ViewMap, 0)
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
