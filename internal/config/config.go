package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Config is the parsed configuration document. The file is a flat INI
// document; every section below maps to one [Section] block.
type Config struct {
	Bot       BotConfig
	DB        DBConfig
	Core      CoreConfig
	Wireguard WireguardConfig
	Xray      XrayConfig
}

// BotConfig holds the [TelegramBot] section. Token and FAQURL belong to the
// front-end; the core only consumes Admins.
type BotConfig struct {
	Token  string `validate:"required"`
	Admins []int64
	FAQURL string
}

// DBConfig holds the [db] section. Path carries the database DSN.
type DBConfig struct {
	Path string `validate:"required"`
}

// CoreConfig holds the [core] section timers and logging knobs.
type CoreConfig struct {
	PeerActiveTime       time.Duration `validate:"gt=0"`
	ListenTimer          time.Duration `validate:"gt=0"`
	ConnectedListenTimer time.Duration `validate:"gt=0"`
	UpdateTimer          time.Duration `validate:"gt=0"`
	LogsPath             string
	Debug                bool
	MetricsPort          int `validate:"gte=0,lte=65535"`
}

// WireguardConfig holds the [WireguardServer] section. IP is the 3-octet
// subnet prefix; peers get addresses inside it. Junk is nil for stock
// WireGuard and set when the interface runs the Amnezia variant.
type WireguardConfig struct {
	Path         string `validate:"required"`
	IP           string `validate:"required"`
	IPMask       int    `validate:"gte=0,lte=32"`
	PrivateKey   string `validate:"required"`
	PublicKey    string `validate:"required"`
	EndpointIP   string `validate:"required"`
	EndpointPort int    `validate:"required,gt=0,lte=65535"`
	DNS          string
	Junk         *JunkParams
}

// JunkParams are the six Amnezia obfuscation constants from the Junk option,
// in S1 S2 H1 H2 H3 H4 order.
type JunkParams struct {
	S1, S2, H1, H2, H3, H4 string
}

// IsAmnezia reports whether the interface runs the Amnezia WireGuard variant.
func (c WireguardConfig) IsAmnezia() bool {
	return c.Junk != nil
}

// XrayConfig holds the [Xray] section locating the remote admin panel.
type XrayConfig struct {
	Host      string `validate:"required"`
	Port      int    `validate:"required,gt=0,lte=65535"`
	WebPath   string
	Username  string `validate:"required"`
	Password  string `validate:"required"`
	Token     string
	TLS       bool
	InboundID int64 `validate:"required"`
}

// Load reads and parses the INI configuration document at path. Defaults are
// applied for the [core] timers; call Validate before using the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	v.SetDefault("core.peer_active_time", 6)
	v.SetDefault("core.connection_listen_timer", 120)
	v.SetDefault("core.connection_connected_only_listen_timer", 60)
	v.SetDefault("core.connection_update_timer", 360)
	v.SetDefault("core.metrics_port", 9090)
	v.SetDefault("wireguardserver.ipmask", 24)
	v.SetDefault("xray.tls", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	admins, err := parseAdmins(v.GetString("telegrambot.admins"))
	if err != nil {
		return nil, fmt.Errorf("parse admins: %w", err)
	}

	junk, err := parseJunk(v.GetString("wireguardserver.junk"))
	if err != nil {
		return nil, fmt.Errorf("parse junk: %w", err)
	}

	cfg := &Config{
		Bot: BotConfig{
			Token:  v.GetString("telegrambot.token"),
			Admins: admins,
			FAQURL: v.GetString("telegrambot.faq_url"),
		},
		DB: DBConfig{
			Path: v.GetString("db.path"),
		},
		Core: CoreConfig{
			PeerActiveTime:       time.Duration(v.GetInt("core.peer_active_time")) * time.Hour,
			ListenTimer:          time.Duration(v.GetInt("core.connection_listen_timer")) * time.Second,
			ConnectedListenTimer: time.Duration(v.GetInt("core.connection_connected_only_listen_timer")) * time.Second,
			UpdateTimer:          time.Duration(v.GetInt("core.connection_update_timer")) * time.Second,
			LogsPath:             v.GetString("core.logs_path"),
			Debug:                v.GetBool("core.debug"),
			MetricsPort:          v.GetInt("core.metrics_port"),
		},
		Wireguard: WireguardConfig{
			Path:         v.GetString("wireguardserver.path"),
			IP:           v.GetString("wireguardserver.ip"),
			IPMask:       v.GetInt("wireguardserver.ipmask"),
			PrivateKey:   v.GetString("wireguardserver.privatekey"),
			PublicKey:    v.GetString("wireguardserver.publickey"),
			EndpointIP:   v.GetString("wireguardserver.endpointip"),
			EndpointPort: v.GetInt("wireguardserver.endpointport"),
			DNS:          v.GetString("wireguardserver.dns"),
			Junk:         junk,
		},
		Xray: XrayConfig{
			Host:      v.GetString("xray.host"),
			Port:      v.GetInt("xray.port"),
			WebPath:   v.GetString("xray.web_path"),
			Username:  v.GetString("xray.username"),
			Password:  v.GetString("xray.password"),
			Token:     v.GetString("xray.token"),
			TLS:       v.GetBool("xray.tls"),
			InboundID: v.GetInt64("xray.inbound_id"),
		},
	}

	return cfg, nil
}

// Validate checks the loaded configuration against the struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if strings.Count(c.Wireguard.IP, ".") != 2 {
		return fmt.Errorf("WireguardServer IP %q must be a 3-octet prefix like 10.9.0", c.Wireguard.IP)
	}
	return nil
}

func parseAdmins(csv string) ([]int64, error) {
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	admins := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("admin id %q is not numeric", p)
		}
		admins = append(admins, id)
	}
	return admins, nil
}

// parseJunk splits the Junk option into the six Amnezia parameters. An empty
// option means the interface is stock WireGuard.
func parseJunk(raw string) (*JunkParams, error) {
	if raw == "" {
		return nil, nil
	}
	fields := strings.Fields(raw)
	if len(fields) != 6 {
		return nil, fmt.Errorf("junk needs 6 whitespace-separated values, got %d", len(fields))
	}
	return &JunkParams{
		S1: fields[0], S2: fields[1],
		H1: fields[2], H2: fields[3], H3: fields[4], H4: fields[5],
	}, nil
}
