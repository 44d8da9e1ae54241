package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/pion/turn/v4"

	"github.com/mkravets/signalhub/internal/application/config"
	"github.com/mkravets/signalhub/internal/application/constant"
)

// Server is the embedded STUN/TURN relay used by call peers that cannot
// connect directly. It authenticates the same time-limited credentials
// the ICE endpoint hands out.
type Server struct {
	inner *turn.Server
}

func Start(cfg *config.Config) (*Server, error) {
	tcpListener, err := net.Listen("tcp4", fmt.Sprintf("0.0.0.0:%d", cfg.Turn.Port))
	if err != nil {
		return nil, fmt.Errorf("tcp listen: %w", err)
	}

	udpListener, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", cfg.Turn.Port))
	if err != nil {
		return nil, fmt.Errorf("udp listen: %w", err)
	}

	relayAddressGenerator := &turn.RelayAddressGeneratorStatic{
		RelayAddress: net.ParseIP(cfg.Turn.PublicIP),
		Address:      "0.0.0.0",
	}

	secret := cfg.Turn.Secret
	realm := cfg.Turn.Realm

	server, err := turn.NewServer(
		turn.ServerConfig{
			Realm: realm,
			AuthHandler: func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
				password, ok := restCredential(secret, username)
				if !ok {
					return nil, false
				}

				return turn.GenerateAuthKey(username, realm, password), true
			},
			ListenerConfigs: []turn.ListenerConfig{
				{
					Listener:              tcpListener,
					RelayAddressGenerator: relayAddressGenerator,
				},
			},
			PacketConnConfigs: []turn.PacketConnConfig{
				{
					PacketConn:            udpListener,
					RelayAddressGenerator: relayAddressGenerator,
				},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("new turn server: %w", err)
	}

	slog.Info("TURN server started",
		slog.Int("port", cfg.Turn.Port),
		slog.String("realm", realm),
	)

	return &Server{inner: server}, nil
}

func (s *Server) Close() error {
	return s.inner.Close()
}

// restCredential recomputes the TURN REST password for a username of
// the form "<unix expiry>". Expired usernames are rejected.
func restCredential(secret, username string) (string, bool) {
	expiry, err := strconv.ParseInt(username, 10, 64)
	if err != nil {
		slog.Warn("turn auth: non-timestamp username", slog.Any(constant.Error, err))
		return "", false
	}

	if time.Now().Unix() > expiry {
		return "", false
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), true
}
