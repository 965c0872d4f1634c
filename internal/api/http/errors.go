package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/buzzer/internal/domain"
	"github.com/immxrtalbeast/buzzer/internal/prefs"
	"github.com/immxrtalbeast/buzzer/internal/repository"
	"github.com/immxrtalbeast/buzzer/internal/service"
)

const deviceHeader = "X-Device-ID"

var errMissingDevice = errors.New("missing " + deviceHeader + " header")

func writeError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRoomCode),
		errors.Is(err, service.ErrUnknownTeam),
		errors.Is(err, prefs.ErrEmptyDevice):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrTransactionConflict):
		status = http.StatusConflict
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}

// roomCodeParam reads :code, normalised. It writes a 400 and returns false
// when the code is malformed.
func roomCodeParam(ctx *gin.Context) (string, bool) {
	code := domain.NormalizeRoomCode(ctx.Param("code"))
	if err := domain.ValidateRoomCode(code); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid room code"})
		return "", false
	}
	return code, true
}

func deviceID(ctx *gin.Context) (string, bool) {
	device := strings.TrimSpace(ctx.GetHeader(deviceHeader))
	if device == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errMissingDevice.Error()})
		return "", false
	}
	return device, true
}
