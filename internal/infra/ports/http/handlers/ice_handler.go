package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"

	"github.com/mkravets/signalhub/internal/application/config"
)

type IceHandler struct {
	cfg *config.Config
}

func NewIceHandler(cfg *config.Config) *IceHandler {
	return &IceHandler{cfg: cfg}
}

// IceServers hands clients the ICE server list for their peer
// connections: STUN always, plus time-limited TURN credentials when the
// relay is enabled. Credentials follow the TURN REST scheme: username
// is the expiry timestamp, password is its HMAC-SHA1 under the shared
// secret.
func (h *IceHandler) IceServers(c echo.Context) error {
	servers := []webrtc.ICEServer{h.cfg.StunServer}

	if h.cfg.Turn.Enabled {
		expiration := time.Now().Add(time.Hour).Unix()
		username := fmt.Sprintf("%d", expiration)

		mac := hmac.New(sha1.New, []byte(h.cfg.Turn.Secret))
		mac.Write([]byte(username))
		password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		servers = append(servers, webrtc.ICEServer{
			URLs:       h.cfg.TurnURLs(),
			Username:   username,
			Credential: password,
		})
	}

	return c.JSON(http.StatusOK, servers)
}
