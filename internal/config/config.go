// Package config loads relay and peer configuration from the environment
// (optionally seeded from a .env file) with flag overrides.
//
// Every knob has a documented default; validation errors name the offending
// environment variable.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/vizlink/vizlink/internal/turnrest"
)

const (
	envVarListenAddr  = "VIZLINK_LISTEN_ADDR"
	envVarPort        = "PORT"
	envVarTLSCertFile = "VIZLINK_TLS_CERT_FILE"
	envVarTLSKeyFile  = "VIZLINK_TLS_KEY_FILE"

	envVarMode      = "VIZLINK_MODE"
	envVarLogFormat = "VIZLINK_LOG_FORMAT"
	envVarLogLevel  = "VIZLINK_LOG_LEVEL"

	envVarShutdownTimeout = "VIZLINK_SHUTDOWN_TIMEOUT"

	// WebSocket hardening.
	envVarWSIdleTimeout        = "VIZLINK_WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "VIZLINK_WS_PING_INTERVAL"
	envVarMaxMessageBytes      = "VIZLINK_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "VIZLINK_MAX_MESSAGES_PER_SECOND"

	// Document maintenance.
	envVarCompactInterval = "VIZLINK_COMPACT_INTERVAL"

	// Peer-side liveness sampling.
	envVarRTTSampleInterval = "VIZLINK_RTT_SAMPLE_INTERVAL"
	envVarRTTWindowSize     = "VIZLINK_RTT_WINDOW_SIZE"

	envVarSTUNURLs   = "VIZLINK_STUN_URLS"
	envVarTURNURLs   = "VIZLINK_TURN_URLS"
	envVarTURNSecret = "VIZLINK_TURN_SECRET"
	envVarTURNTTL    = "VIZLINK_TURN_TTL"

	envVarAllowedOrigins = "VIZLINK_ALLOWED_ORIGINS"
)

const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultMaxMessageBytes      = int64(1 << 20)
	DefaultMaxMessagesPerSecond = 200

	DefaultCompactInterval = 60 * time.Second

	DefaultRTTSampleInterval = 2 * time.Second
	DefaultRTTWindowSize     = 30

	DefaultSTUNURL = "stun:stun.l.google.com:19302"
	DefaultTURNTTL = time.Hour

	DefaultMode Mode = ModeDev
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string

	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	CompactInterval time.Duration

	RTTSampleInterval time.Duration
	RTTWindowSize     int

	STUNURLs []string

	// Optional TURN relaying with coturn-style REST credentials.
	TURNURLs   []string
	TURNSecret string
	TURNTTL    time.Duration

	// Origins allowed to open WebSocket connections. Empty means same-host.
	AllowedOrigins []string
}

// TLSEnabled reports whether the relay should serve TLS. Both the certificate
// and the key path must be configured.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// ICEServers builds the pion ICE server list for peer connections. When TURN
// is configured, each call mints fresh short-lived REST credentials.
func (c Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(c.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNURLs})
	}
	if len(c.TURNURLs) > 0 && c.TURNSecret != "" {
		gen, err := turnrest.NewGenerator(c.TURNSecret, c.TURNTTL)
		if err == nil {
			if creds, err := gen.GenerateRandom(); err == nil {
				servers = append(servers, webrtc.ICEServer{
					URLs:       c.TURNURLs,
					Username:   creds.Username,
					Credential: creds.Credential,
				})
			}
		}
	}
	return servers
}

// Load reads configuration from a .env file (when present), the process
// environment, and command-line flags, in increasing order of precedence.
func Load(args []string) (Config, error) {
	// A missing .env file is the common case, not an error.
	_ = godotenv.Load()
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := string(DefaultMode)
	if v, ok := lookup(envVarMode); ok && v != "" {
		modeDefault = v
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	listenAddrDefault := envOrDefault(lookup, envVarListenAddr, "")
	if listenAddrDefault == "" {
		if port, ok := lookup(envVarPort); ok && port != "" {
			listenAddrDefault = ":" + port
		} else {
			listenAddrDefault = DefaultListenAddr
		}
	}

	fs := flag.NewFlagSet("vizlink", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", listenAddrDefault, "TCP listen address")
	tlsCertFile := fs.String("tls-cert-file", envOrDefault(lookup, envVarTLSCertFile, ""), "TLS certificate path (TLS disabled when empty)")
	tlsKeyFile := fs.String("tls-key-file", envOrDefault(lookup, envVarTLSKeyFile, ""), "TLS private key path (TLS disabled when empty)")
	mode := fs.String("mode", modeDefault, "dev or prod")
	logFormat := fs.String("log-format", logFormatDefault, "log format: text or json")
	logLevel := fs.String("log-level", logLevelDefault, "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:  *listenAddr,
		TLSCertFile: *tlsCertFile,
		TLSKeyFile:  *tlsKeyFile,
	}

	switch Mode(strings.ToLower(strings.TrimSpace(*mode))) {
	case ModeDev:
		cfg.Mode = ModeDev
	case ModeProd, "production":
		cfg.Mode = ModeProd
	default:
		return Config{}, fmt.Errorf("invalid %s %q: want dev or prod", envVarMode, *mode)
	}

	switch LogFormat(strings.ToLower(strings.TrimSpace(*logFormat))) {
	case LogFormatText:
		cfg.LogFormat = LogFormatText
	case LogFormatJSON:
		cfg.LogFormat = LogFormatJSON
	default:
		return Config{}, fmt.Errorf("invalid %s %q: want text or json", envVarLogFormat, *logFormat)
	}

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSIdleTimeout, err = envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSPingInterval, err = envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval); err != nil {
		return Config{}, err
	}
	if cfg.CompactInterval, err = envDurationOrDefault(lookup, envVarCompactInterval, DefaultCompactInterval); err != nil {
		return Config{}, err
	}
	if cfg.RTTSampleInterval, err = envDurationOrDefault(lookup, envVarRTTSampleInterval, DefaultRTTSampleInterval); err != nil {
		return Config{}, err
	}

	maxBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, int(DefaultMaxMessageBytes))
	if err != nil {
		return Config{}, err
	}
	if maxBytes <= 0 {
		return Config{}, fmt.Errorf("invalid %s: must be positive", envVarMaxMessageBytes)
	}
	cfg.MaxMessageBytes = int64(maxBytes)

	if cfg.MaxMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("invalid %s: must be positive", envVarMaxMessagesPerSecond)
	}

	if cfg.RTTWindowSize, err = envIntOrDefault(lookup, envVarRTTWindowSize, DefaultRTTWindowSize); err != nil {
		return Config{}, err
	}
	if cfg.RTTWindowSize <= 0 {
		return Config{}, fmt.Errorf("invalid %s: must be positive", envVarRTTWindowSize)
	}

	if cfg.WSPingInterval >= cfg.WSIdleTimeout {
		return Config{}, fmt.Errorf("%s must be shorter than %s", envVarWSPingInterval, envVarWSIdleTimeout)
	}

	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return Config{}, fmt.Errorf("%s and %s must be set together", envVarTLSCertFile, envVarTLSKeyFile)
	}

	stun := envOrDefault(lookup, envVarSTUNURLs, DefaultSTUNURL)
	for _, u := range strings.Split(stun, ",") {
		if u = strings.TrimSpace(u); u != "" {
			cfg.STUNURLs = append(cfg.STUNURLs, u)
		}
	}

	cfg.TURNURLs = splitList(envOrDefault(lookup, envVarTURNURLs, ""))
	cfg.TURNSecret = envOrDefault(lookup, envVarTURNSecret, "")
	if cfg.TURNTTL, err = envDurationOrDefault(lookup, envVarTURNTTL, DefaultTURNTTL); err != nil {
		return Config{}, err
	}
	if (len(cfg.TURNURLs) == 0) != (cfg.TURNSecret == "") {
		return Config{}, fmt.Errorf("%s and %s must be set together", envVarTURNURLs, envVarTURNSecret)
	}

	cfg.AllowedOrigins = splitList(envOrDefault(lookup, envVarAllowedOrigins, ""))

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// NewLogger constructs the process logger per the configured format/level.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q", envVarLogLevel, s)
	}
}

func defaultLogFormatForMode(mode string) string {
	if strings.EqualFold(mode, string(ModeProd)) || strings.EqualFold(mode, "production") {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode string) string {
	if strings.EqualFold(mode, string(ModeProd)) || strings.EqualFold(mode, "production") {
		return "info"
	}
	return "debug"
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}
