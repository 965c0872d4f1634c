package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/buzzer/internal/api/http/converter"
	"github.com/immxrtalbeast/buzzer/internal/service"
	"github.com/immxrtalbeast/buzzer/lib/logger/sl"
)

type ValidationController struct {
	validators service.ValidationInteractor
	log        *slog.Logger
	upgrader   websocket.Upgrader
}

func NewValidationController(validators service.ValidationInteractor, log *slog.Logger) *ValidationController {
	if log == nil {
		log = slog.Default()
	}
	return &ValidationController{
		validators: validators,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *ValidationController) Validate(ctx *gin.Context) {
	const op = "api.http.validation.validate"

	type ValidateRequest struct {
		RoomCode string `json:"room_code" binding:"required"`
	}

	device, ok := deviceID(ctx)
	if !ok {
		return
	}

	var req ValidateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	v := c.validators.For(device)
	status := v.Validate(ctx.Request.Context(), req.RoomCode)
	if err := v.LastError(); err != nil {
		c.log.Info("room code rejected",
			slog.String("op", op),
			slog.String("device", device),
			slog.Bool("not_found", v.IsNotFound()),
			sl.Err(err),
		)
	}

	ctx.JSON(http.StatusOK, converter.ValidationToApi(status))
}

func (c *ValidationController) Status(ctx *gin.Context) {
	device, ok := deviceID(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, converter.ValidationToApi(c.validators.For(device).Status()))
}

func (c *ValidationController) Reset(ctx *gin.Context) {
	device, ok := deviceID(ctx)
	if !ok {
		return
	}

	// Reset ends the join attempt, so the device's gate is released too.
	v := c.validators.For(device)
	v.Reset()
	c.validators.Forget(device)
	ctx.JSON(http.StatusOK, converter.ValidationToApi(v.Status()))
}

func (c *ValidationController) InputEdited(ctx *gin.Context) {
	device, ok := deviceID(ctx)
	if !ok {
		return
	}

	v := c.validators.For(device)
	v.InputEdited()
	ctx.JSON(http.StatusOK, converter.ValidationToApi(v.Status()))
}
