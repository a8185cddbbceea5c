// Package config parses and validates trojan-relay's TOML
// configuration file.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Root is the top-level configuration document.
type Root struct {
	Mode       string             `toml:"mode"`
	Trojan     TrojanConfig       `toml:"trojan"`
	TLS        TLSConfig          `toml:"tls"`
	Outbound   OutboundConfig     `toml:"outbound"`
	Redis      *RedisConfig       `toml:"redis"`
	Bind       string             `toml:"bind"`
	TCPNoDelay bool               `toml:"tcp_nodelay"`
	Server     ClientServerConfig `toml:"server"`
}

// TrojanConfig holds server-mode credential and fallback settings.
type TrojanConfig struct {
	Password []string `toml:"password"`
	Fallback string   `toml:"fallback"`
}

// TLSConfig holds server-mode TLS listener settings.
type TLSConfig struct {
	Listen     string     `toml:"listen"`
	TCPNoDelay bool       `toml:"tcp_nodelay"`
	SNI        StringList `toml:"sni"`
	Cert       string     `toml:"cert"`
	Key        string     `toml:"key"`
}

// StringList is a []string that also accepts a single bare TOML string,
// so `sni = "example.com"` and `sni = ["a.com", "b.com"]` both parse.
type StringList []string

// UnmarshalTOML implements toml.Unmarshaler.
func (s *StringList) UnmarshalTOML(v interface{}) error {
	switch val := v.(type) {
	case string:
		*s = StringList{val}
	case []interface{}:
		out := make(StringList, 0, len(val))
		for _, e := range val {
			str, ok := e.(string)
			if !ok {
				return fmt.Errorf("expected string list element, got %T", e)
			}
			out = append(out, str)
		}
		*s = out
	default:
		return fmt.Errorf("expected string or string list, got %T", v)
	}
	return nil
}

// OutboundConfig holds server-mode direct-connect settings.
type OutboundConfig struct {
	BlockLocal bool `toml:"block_local"`
}

// RedisConfig enables the remote-KV Authenticator backend.
type RedisConfig struct {
	Server string `toml:"server"`
}

// ClientServerConfig describes the upstream Trojan server used in
// client mode.
type ClientServerConfig struct {
	Server         string `toml:"server"`
	Password       string `toml:"password"`
	UDP            bool   `toml:"udp"`
	SNI            string `toml:"sni"`
	SkipCertVerify bool   `toml:"skip_cert_verify"`
}

// Mode constants accepted in Root.Mode.
const (
	ModeServer = "server"
	ModeClient = "client"
)

const (
	defaultTLSListen   = "0.0.0.0:443"
	defaultClientBind  = "127.0.0.1:1080"
	defaultRedisServer = "127.0.0.1:6379"
)

// Load reads and parses path, applies defaults, and validates the
// result.
func Load(path string) (*Root, error) {
	var root Root
	if _, err := toml.DecodeFile(path, &root); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	root.applyDefaults()
	if err := root.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &root, nil
}

func (r *Root) applyDefaults() {
	if r.Mode == ModeServer {
		if r.TLS.Listen == "" {
			r.TLS.Listen = defaultTLSListen
		}
		if r.Redis != nil && r.Redis.Server == "" {
			r.Redis.Server = defaultRedisServer
		}
	}
	if r.Mode == ModeClient && r.Bind == "" {
		r.Bind = defaultClientBind
	}
}

func (r *Root) validate() error {
	switch r.Mode {
	case ModeServer:
		return r.validateServer()
	case ModeClient:
		return r.validateClient()
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeServer, ModeClient, r.Mode)
	}
}

func (r *Root) validateServer() error {
	if len(r.Trojan.Password) == 0 && r.Redis == nil {
		return fmt.Errorf("server mode requires trojan.password or a redis backend")
	}
	if r.TLS.Cert == "" || r.TLS.Key == "" {
		return fmt.Errorf("server mode requires tls.cert and tls.key")
	}
	return nil
}

func (r *Root) validateClient() error {
	if r.Server.Server == "" {
		return fmt.Errorf("client mode requires server.server")
	}
	if r.Server.Password == "" {
		return fmt.Errorf("client mode requires server.password")
	}
	return nil
}
