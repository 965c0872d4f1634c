package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/buzzer/internal/api/http/converter"
	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/immxrtalbeast/buzzer/internal/prefs"
	"github.com/immxrtalbeast/buzzer/internal/repository"
	"github.com/immxrtalbeast/buzzer/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	router     *gin.Engine
	repo       *repository.InMemoryRoomRepository
	rooms      *service.RoomService
	validators *service.ValidatorRegistry
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := repository.NewInMemoryRoomRepository()
	rooms := service.NewRoomService(repo, 0, log)
	lifecycle := service.NewLifecycleService(rooms, prefs.NewMemoryStore(), log)
	validators := service.NewValidatorRegistry(rooms, time.Minute)

	router := SetupRouter(
		NewRoomController(rooms, lifecycle, log),
		NewValidationController(validators, log),
		nil,
	)
	return &testApp{router: router, repo: repo, rooms: rooms, validators: validators}
}

func (a *testApp) do(t *testing.T, method, path, device string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if device != "" {
		req.Header.Set(deviceHeader, device)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

type roomEnvelope struct {
	Room converter.RoomResponse `json:"room"`
}

type buzzEnvelope struct {
	Accepted bool                   `json:"accepted"`
	Room     converter.RoomResponse `json:"room"`
}

func TestHealthAndTeams(t *testing.T) {
	app := setupTestApp(t)

	w := app.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodGet, "/api/teams", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	teams := decode[struct {
		Teams []converter.TeamResponse `json:"teams"`
	}](t, w)
	require.Len(t, teams.Teams, 4)
	assert.Equal(t, converter.TeamResponse{ID: "red", Name: "Red Team", Color: "#E53935"}, teams.Teams[0])
}

func TestCreateRoomRequiresDevice(t *testing.T) {
	app := setupTestApp(t)

	w := app.do(t, http.MethodPost, "/api/rooms", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomFlow(t *testing.T) {
	app := setupTestApp(t)

	w := app.do(t, http.MethodPost, "/api/rooms", "host-1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[roomEnvelope](t, w).Room
	assert.True(t, created.IsBuzzerActive)
	assert.Nil(t, created.BuzzedInTeamID)
	require.NotNil(t, created.ExpiresAt)
	require.NoError(t, domain.ValidateRoomCode(created.RoomCode))
	path := "/api/rooms/" + created.RoomCode

	w = app.do(t, http.MethodGet, "/api/rooms/"+strings.ToLower(created.RoomCode), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodPost, path+"/buzz", "", gin.H{"team_id": "red"})
	require.Equal(t, http.StatusOK, w.Code)
	buzz := decode[buzzEnvelope](t, w)
	assert.True(t, buzz.Accepted)
	assert.False(t, buzz.Room.IsBuzzerActive)
	assert.Equal(t, "red", *buzz.Room.BuzzedInTeamID)

	w = app.do(t, http.MethodPost, path+"/buzz", "", gin.H{"team_id": "blue"})
	require.Equal(t, http.StatusOK, w.Code)
	buzz = decode[buzzEnvelope](t, w)
	assert.False(t, buzz.Accepted)
	assert.Equal(t, "red", *buzz.Room.BuzzedInTeamID)

	w = app.do(t, http.MethodPost, path+"/buzz", "", gin.H{"team_id": "purple"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPost, path+"/reset", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	reset := decode[roomEnvelope](t, w).Room
	assert.True(t, reset.IsBuzzerActive)
	assert.Nil(t, reset.BuzzedInTeamID)
	assert.Nil(t, reset.BuzzedInTeamName)

	// a second create from the same device replaces the first room
	w = app.do(t, http.MethodPost, "/api/rooms", "host-1", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	w = app.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomErrors(t *testing.T) {
	app := setupTestApp(t)

	w := app.do(t, http.MethodGet, "/api/rooms/AB0", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodGet, "/api/rooms/ZZZZZZ", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodPost, "/api/rooms/ZZZZZZ/buzz", "", gin.H{"team_id": "red"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodPost, "/api/rooms/ZZZZZZ/buzz", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPost, "/api/rooms/ZZZZZZ/reset", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodDelete, "/api/rooms/ZZZZZZ", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidationFlow(t *testing.T) {
	app := setupTestApp(t)
	_, err := app.rooms.CreateRoom(context.Background(), "AB3D9K")
	require.NoError(t, err)

	w := app.do(t, http.MethodGet, "/api/validation", "student-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ValidationIdle, decode[converter.ValidationResponse](t, w).Status)

	w = app.do(t, http.MethodPost, "/api/validation", "student-1", gin.H{"room_code": "ab3d9k"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ValidationSuccess, decode[converter.ValidationResponse](t, w).Status)

	w = app.do(t, http.MethodPost, "/api/validation", "student-1", gin.H{"room_code": "ZZZZZZ"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[converter.ValidationResponse](t, w)
	assert.Equal(t, domain.ValidationFailure, res.Status)
	assert.NotEmpty(t, res.Message)

	// other devices keep their own state
	w = app.do(t, http.MethodGet, "/api/validation", "student-2", nil)
	assert.Equal(t, domain.ValidationIdle, decode[converter.ValidationResponse](t, w).Status)

	w = app.do(t, http.MethodPost, "/api/validation/input", "student-1", nil)
	assert.Equal(t, domain.ValidationIdle, decode[converter.ValidationResponse](t, w).Status)

	w = app.do(t, http.MethodPost, "/api/validation", "student-1", gin.H{"room_code": "AB3D9K"})
	assert.Equal(t, domain.ValidationSuccess, decode[converter.ValidationResponse](t, w).Status)
	w = app.do(t, http.MethodDelete, "/api/validation", "student-1", nil)
	assert.Equal(t, domain.ValidationIdle, decode[converter.ValidationResponse](t, w).Status)

	w = app.do(t, http.MethodPost, "/api/validation", "", gin.H{"room_code": "AB3D9K"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWatchRoomStreamsSnapshots(t *testing.T) {
	app := setupTestApp(t)
	ctx := context.Background()
	_, err := app.rooms.CreateRoom(ctx, "AB3D9K")
	require.NoError(t, err)

	srv := httptest.NewServer(app.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/rooms/AB3D9K/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() converter.SnapshotMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg converter.SnapshotMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	msg := read()
	assert.Equal(t, "snapshot", msg.Type)
	require.NotNil(t, msg.Room)
	assert.True(t, msg.Room.IsBuzzerActive)

	_, err = app.rooms.BuzzIn(ctx, "AB3D9K", domain.Team{ID: "green"})
	require.NoError(t, err)

	msg = read()
	require.NotNil(t, msg.Room)
	assert.False(t, msg.Room.IsBuzzerActive)
	assert.Equal(t, "Green Team", *msg.Room.BuzzedInTeamName)
}

func TestValidationResetReleasesDevice(t *testing.T) {
	app := setupTestApp(t)
	_, err := app.rooms.CreateRoom(context.Background(), "AB3D9K")
	require.NoError(t, err)

	w := app.do(t, http.MethodPost, "/api/validation", "student-1", gin.H{"room_code": "AB3D9K"})
	require.Equal(t, http.StatusOK, w.Code)
	before := app.validators.For("student-1")

	w = app.do(t, http.MethodDelete, "/api/validation", "student-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ValidationIdle, decode[converter.ValidationResponse](t, w).Status)

	assert.NotSame(t, before, app.validators.For("student-1"))
}

func TestWatchValidationStatus(t *testing.T) {
	app := setupTestApp(t)
	_, err := app.rooms.CreateRoom(context.Background(), "AB3D9K")
	require.NoError(t, err)

	srv := httptest.NewServer(app.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/validation/ws?device=student-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() domain.ValidationStatus {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg converter.ValidationResponse
		require.NoError(t, conn.ReadJSON(&msg))
		return msg.Status
	}

	assert.Equal(t, domain.ValidationIdle, read())

	w := app.do(t, http.MethodPost, "/api/validation", "student-1", gin.H{"room_code": "AB3D9K"})
	require.Equal(t, http.StatusOK, w.Code)

	// LOADING may be conflated away
	status := read()
	if status == domain.ValidationLoading {
		status = read()
	}
	assert.Equal(t, domain.ValidationSuccess, status)

	// a watched device survives reset
	watched := app.validators.For("student-1")
	app.do(t, http.MethodDelete, "/api/validation", "student-1", nil)
	assert.Equal(t, domain.ValidationIdle, read())
	assert.Same(t, watched, app.validators.For("student-1"))
}
