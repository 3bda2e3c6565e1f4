package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/termgate.db"`
	LogPath      string `envconfig:"LOG_PATH" default:""`

	// SecretKey is the base64-encoded 32-byte AES key used to encrypt host
	// credentials at rest. The server refuses to start without it.
	SecretKey string `envconfig:"SECRET_KEY" default:""`

	// TicketTTL bounds the window between ticket issuance over REST and its
	// consumption on the WebSocket or an SFTP endpoint.
	TicketTTL time.Duration `envconfig:"TICKET_TTL" default:"60s"`

	// SSHConnectTimeout bounds the TCP connect plus SSH handshake and auth
	// against a target host.
	SSHConnectTimeout time.Duration `envconfig:"SSH_CONNECT_TIMEOUT" default:"5s"`

	AuthDisabled bool `envconfig:"AUTH_DISABLED" default:"false"`

	// AllowDirectCredentials enables the legacy connect mode where the client
	// sends host and credentials inline over the control protocol instead of
	// a ticket. Off by default; the ticket flow is preferred.
	AllowDirectCredentials bool `envconfig:"ALLOW_DIRECT_CREDENTIALS" default:"false"`

	// HostsSeedPath optionally points at a YAML file of hosts imported into
	// the inventory at startup.
	HostsSeedPath string `envconfig:"HOSTS_SEED_PATH" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TERMGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
