package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/handlers"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/logger"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/middleware"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/repos"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/server"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/services"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/socket"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/testutil"
	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

const readTimeout = 3 * time.Second

type harness struct {
	t       *testing.T
	server  *httptest.Server
	db      *gorm.DB
	fx      *testutil.Fixture
	auth    services.AuthService
	rooms   services.ChatRoomService
	gateway *socket.Gateway
}

func newHarness(t *testing.T, cfg socket.GatewayConfig) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := testutil.NewTestDB(t)
	log := logger.NewNop()

	userRepo := repos.NewUserRepo(gdb, log)
	companyRepo := repos.NewCompanyRepo(gdb, log)
	roomRepo := repos.NewChatRoomRepo(gdb, log)
	messageRepo := repos.NewMessageRepo(gdb, log)

	auth := services.NewAuthService(log, userRepo, companyRepo, "handlers-test-secret", time.Hour)
	rooms := services.NewChatRoomService(gdb, log, roomRepo, messageRepo, repos.NewBookingRepo(gdb, log), services.NewRoomAccessPolicy())
	messages := services.NewMessageService(gdb, log, messageRepo, roomRepo, rooms)
	gateway := socket.NewGateway(log, socket.NewHub(log), auth, rooms, messages, nil, cfg)

	router := server.NewRouter(server.RouterConfig{
		Log:              log,
		AllowedOrigins:   []string{"*"},
		AuthMiddleware:   middleware.NewAuthMiddleware(log, auth),
		ChatHandler:      handlers.NewChatHandler(log, rooms, messages, nil, gateway),
		WebSocketHandler: handlers.NewWebSocketHandler(log, auth, gateway, []string{"*"}),
		HealthHandler:    handlers.NewHealthHandler(gdb, nil),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &harness{
		t:       t,
		server:  srv,
		db:      gdb,
		fx:      testutil.NewFixture(t, gdb),
		auth:    auth,
		rooms:   rooms,
		gateway: gateway,
	}
}

func (h *harness) token(user *types.User) string {
	h.t.Helper()
	tok, err := h.auth.IssueAccessToken(context.Background(), user)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) room() *types.ChatRoom {
	h.t.Helper()
	b := h.fx.Booking
	room, err := h.rooms.CreateRoom(context.Background(), b.ID, b.BookingType, b.UserID, b.CompanyID)
	require.NoError(h.t, err)
	return room
}

func (h *harness) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// dial opens a session and, when a token is given, consumes the
// authenticated frame.
func (h *harness) dial(token string) *session {
	h.t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(h.wsURL(token), nil)
	require.NoError(h.t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	s := &session{t: h.t, conn: conn}
	h.t.Cleanup(func() { conn.Close() })
	if token != "" {
		s.expect(socket.EventAuthenticated)
	}
	return s
}

type response struct {
	Code int
	Body []byte
}

func (r response) decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body, v), "body: %s", string(r.Body))
}

func (h *harness) do(method, path, token string, body interface{}) response {
	h.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.server.URL+path, payload)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := h.server.Client().Do(req)
	require.NoError(h.t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(h.t, err)
	return response{Code: res.StatusCode, Body: raw}
}

type session struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *session) send(event string, data interface{}) {
	s.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(s.t, err)
	require.NoError(s.t, s.conn.WriteJSON(socket.Frame{Event: event, Data: raw}))
}

func (s *session) next() socket.Frame {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var f socket.Frame
	_, raw, err := s.conn.ReadMessage()
	require.NoError(s.t, err)
	require.NoError(s.t, json.Unmarshal(raw, &f))
	return f
}

// expect requires the very next frame to be event.
func (s *session) expect(event string) socket.Frame {
	s.t.Helper()
	f := s.next()
	require.Equal(s.t, event, f.Event, "unexpected frame %s", string(f.Data))
	return f
}

// waitFor skips frames until event arrives and returns the skipped ones.
func (s *session) waitFor(event string) (socket.Frame, []socket.Frame) {
	s.t.Helper()
	var skipped []socket.Frame
	for {
		f := s.next()
		if f.Event == event {
			return f, skipped
		}
		skipped = append(skipped, f)
	}
}

// closeError reads until the server closes the connection.
func (s *session) closeError() *websocket.CloseError {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		_, _, err := s.conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(s.t, errors.As(err, &ce), "expected close frame, got %v", err)
		return ce
	}
}

func decodeData(t *testing.T, f socket.Frame, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v))
}
