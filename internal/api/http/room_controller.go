package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/buzzer/internal/api/http/converter"
	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/immxrtalbeast/buzzer/internal/service"
)

type RoomController struct {
	rooms     service.RoomInteractor
	lifecycle service.LifecycleInteractor
	log       *slog.Logger
	upgrader  websocket.Upgrader
}

func NewRoomController(rooms service.RoomInteractor, lifecycle service.LifecycleInteractor, log *slog.Logger) *RoomController {
	if log == nil {
		log = slog.Default()
	}
	return &RoomController{
		rooms:     rooms,
		lifecycle: lifecycle,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *RoomController) ListTeams(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"teams": converter.TeamsToApi(domain.Teams())})
}

func (c *RoomController) CreateRoom(ctx *gin.Context) {
	device, ok := deviceID(ctx)
	if !ok {
		return
	}

	room, err := c.lifecycle.CreateRoom(ctx.Request.Context(), device)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"room": converter.RoomToApi(room)})
}

func (c *RoomController) GetRoom(ctx *gin.Context) {
	code, ok := roomCodeParam(ctx)
	if !ok {
		return
	}

	room, err := c.rooms.GetRoom(ctx.Request.Context(), code)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(room)})
}

func (c *RoomController) DeleteRoom(ctx *gin.Context) {
	code, ok := roomCodeParam(ctx)
	if !ok {
		return
	}

	if err := c.rooms.DeleteRoom(ctx.Request.Context(), code); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (c *RoomController) BuzzIn(ctx *gin.Context) {
	type BuzzRequest struct {
		TeamID string `json:"team_id" binding:"required"`
	}

	code, ok := roomCodeParam(ctx)
	if !ok {
		return
	}

	var req BuzzRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	team, ok := domain.FindTeam(req.TeamID)
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": service.ErrUnknownTeam.Error()})
		return
	}

	res, err := c.rooms.BuzzIn(ctx.Request.Context(), code, team)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"accepted": res.Accepted,
		"room":     converter.RoomToApi(res.Room),
	})
}

func (c *RoomController) ResetBuzzer(ctx *gin.Context) {
	code, ok := roomCodeParam(ctx)
	if !ok {
		return
	}

	room, err := c.rooms.ResetBuzzer(ctx.Request.Context(), code)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(room)})
}
