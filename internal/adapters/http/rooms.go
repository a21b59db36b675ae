package http

import (
	"net/http"

	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

// RoomsHandler exposes read-only room introspection.
type RoomsHandler struct {
	Orch    *orch.Orchestrator
	JoinURL func(code string) string
}

func (h *RoomsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Orch.Rooms.List(), "sessions": h.Orch.Sessions.Len()})
}

func (h *RoomsHandler) Get(c *gin.Context) {
	code, err := domain.ParseRoomCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, ok := h.Orch.Rooms.Get(code)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrRoomNotFound.Error()})
		return
	}
	info := room.Info()
	c.JSON(http.StatusOK, gin.H{"room": info, "joinUrl": h.JoinURL(string(info.Code))})
}

// QR renders the viewer join URL of a live room as a PNG.
func (h *RoomsHandler) QR(c *gin.Context) {
	code, err := domain.ParseRoomCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := h.Orch.Rooms.Get(code); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrRoomNotFound.Error()})
		return
	}
	png, err := qrcode.Encode(h.JoinURL(string(code)), qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room", string(code)).Msg("qr generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr generation failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
