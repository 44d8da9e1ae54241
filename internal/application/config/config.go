package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	Debug  bool   `env:"DEBUG" envDefault:"false"`
	Port   string `env:"PORT" envDefault:"3000"`
	Domain string `env:"DOMAIN" envDefault:"http://localhost:3000"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	StaticDir string `env:"STATIC_DIR" envDefault:"web"`

	StunURL string `env:"STUN_URL" envDefault:"stun:stun.l.google.com:19302"`

	Turn TurnConfig

	// StunServer is derived from StunURL at parse time and handed out
	// by the ICE endpoint alongside the TURN credentials.
	StunServer webrtc.ICEServer
}

// TurnConfig describes the embedded TURN server. When Enabled is false
// only STUN is advertised and no relay listener is started.
type TurnConfig struct {
	Enabled  bool   `env:"TURN_ENABLED" envDefault:"false"`
	PublicIP string `env:"TURN_PUBLIC_IP"`
	Port     int    `env:"TURN_PORT" envDefault:"3478"`
	Realm    string `env:"TURN_REALM" envDefault:"signalhub"`

	// Secret signs the time-limited credentials handed to clients.
	Secret string `env:"TURN_SECRET"`
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if c.Turn.Enabled && c.Turn.Secret == "" {
		return nil, fmt.Errorf("TURN_SECRET is required when TURN_ENABLED is set")
	}

	c.StunServer = webrtc.ICEServer{
		URLs: []string{c.StunURL},
	}

	return &c, nil
}

// TurnURLs returns the advertised relay URLs for both transports.
func (c *Config) TurnURLs() []string {
	return []string{
		fmt.Sprintf("turn:%s:%d?transport=udp", c.Turn.PublicIP, c.Turn.Port),
		fmt.Sprintf("turn:%s:%d?transport=tcp", c.Turn.PublicIP, c.Turn.Port),
	}
}
