package http

import (
	"net/http"

	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

// Directory is the read-only view of signaling state served over REST.
type Directory interface {
	Rooms() []core.RoomInfo
	Members(room domain.RoomID) ([]core.MemberDTO, bool)
	Calls() []core.CallInfo
	Presence(identity domain.Identity) core.PresenceInfo
}

type handlers struct {
	dir Directory
	ice []webrtc.ICEServer
}

func health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (h *handlers) rooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.dir.Rooms()})
}

func (h *handlers) members(c *gin.Context) {
	room := domain.RoomID(c.Param("room"))
	members, ok := h.dir.Members(room)
	if !ok {
		lg := logging.Ctx(c.Request.Context())
		lg.Debug().Str(logging.FieldRoom, string(room)).Msg("room not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "members": members})
}

func (h *handlers) calls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": h.dir.Calls()})
}

func (h *handlers) presence(c *gin.Context) {
	c.JSON(http.StatusOK, h.dir.Presence(domain.Identity(c.Param("identity"))))
}

func (h *handlers) iceServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ice_servers": h.ice})
}

func iceServers(in []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	return out
}
