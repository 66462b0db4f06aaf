// Package config loads GhostLink runtime configuration from the environment.
//
// Every knob is an environment variable with a sensible default, so a bare
// `ghostlink` invocation works out of the box:
//
//	cfg, err := config.FromEnv()
//	if err != nil {
//	    os.Exit(config.ExitBadConfig)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitBadConfig  = 2
	ExitBindFailed = 3
)

// Cipher identifies the preferred AEAD suite.
type Cipher string

const (
	CipherChaCha20 Cipher = "chacha20"
	CipherAES256   Cipher = "aes256"
)

// Environment variable names recognised by FromEnv.
const (
	EnvSTUNServers  = "GHOSTLINK_STUN_SERVERS"
	EnvHTTPPort     = "GHOSTLINK_HTTP_PORT"
	EnvUDPPort      = "GHOSTLINK_UDP_PORT"
	EnvPunchTimeout = "GHOSTLINK_PUNCH_TIMEOUT_SECS"
	EnvCipher       = "GHOSTLINK_CIPHER"
	EnvLogLevel     = "GHOSTLINK_LOG_LEVEL"
	EnvAlias        = "GHOSTLINK_ALIAS"
)

// Config holds all runtime settings for a GhostLink node.
type Config struct {
	// STUNServers is the ordered list of STUN servers used for public
	// address discovery. The first two entries drive NAT classification.
	STUNServers []string

	// HTTPPort is the loopback port the web surface listens on.
	HTTPPort uint16

	// UDPPort is the local UDP port to bind. Zero requests an ephemeral port.
	UDPPort uint16

	// PunchTimeout bounds a single hole-punching attempt.
	PunchTimeout time.Duration

	// Cipher is the preferred AEAD suite advertised in the handshake.
	Cipher Cipher

	// LogLevel is the logrus level, parsed from its name.
	LogLevel logrus.Level

	// Alias is an optional human-readable name shown next to the local node.
	Alias string
}

// FromEnv builds a Config from the process environment, applying defaults for
// unset variables and rejecting values that cannot be parsed.
func FromEnv() (*Config, error) {
	cfg := &Config{
		STUNServers:  []string{"stun.l.google.com:19302"},
		HTTPPort:     8080,
		UDPPort:      0,
		PunchTimeout: 30 * time.Second,
		Cipher:       CipherChaCha20,
		LogLevel:     logrus.InfoLevel,
		Alias:        os.Getenv(EnvAlias),
	}

	if v := os.Getenv(EnvSTUNServers); v != "" {
		servers, err := parseServerList(v)
		if err != nil {
			return nil, err
		}
		cfg.STUNServers = servers
	}

	if v := os.Getenv(EnvHTTPPort); v != "" {
		port, err := parsePort(EnvHTTPPort, v)
		if err != nil {
			return nil, err
		}
		if port == 0 {
			return nil, fmt.Errorf("%s: port must be 1-65535", EnvHTTPPort)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv(EnvUDPPort); v != "" {
		port, err := parsePort(EnvUDPPort, v)
		if err != nil {
			return nil, err
		}
		cfg.UDPPort = port
	}

	if v := os.Getenv(EnvPunchTimeout); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("%s: expected positive integer seconds, got %q", EnvPunchTimeout, v)
		}
		cfg.PunchTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv(EnvCipher); v != "" {
		switch Cipher(strings.ToLower(v)) {
		case CipherChaCha20:
			cfg.Cipher = CipherChaCha20
		case CipherAES256:
			cfg.Cipher = CipherAES256
		default:
			return nil, fmt.Errorf("%s: unknown cipher %q (want chacha20 or aes256)", EnvCipher, v)
		}
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		level, err := logrus.ParseLevel(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}

// parseServerList splits a comma-separated host:port list, trimming blanks.
func parseServerList(raw string) ([]string, error) {
	var servers []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		host, port, err := splitHostPort(entry)
		if err != nil {
			return nil, fmt.Errorf("%s: bad server %q: %w", EnvSTUNServers, entry, err)
		}
		if host == "" || port == 0 {
			return nil, fmt.Errorf("%s: bad server %q: missing host or port", EnvSTUNServers, entry)
		}
		servers = append(servers, entry)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("%s: no usable servers in %q", EnvSTUNServers, raw)
	}
	return servers, nil
}

// splitHostPort is a light wrapper that reports the port numerically.
func splitHostPort(entry string) (string, uint16, error) {
	idx := strings.LastIndex(entry, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("missing port")
	}
	host := entry[:idx]
	port, err := parsePort("port", entry[idx+1:])
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// parsePort parses a decimal port number in [0, 65535].
func parsePort(name, raw string) (uint16, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: expected port number, got %q", name, raw)
	}
	if n < 0 || n > 65535 {
		return 0, fmt.Errorf("%s: port %d out of range", name, n)
	}
	return uint16(n), nil
}
