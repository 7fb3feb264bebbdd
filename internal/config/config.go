// Package config loads betterflyd configuration from the JSON files in a
// config directory: config.json (listener), database_config.json (MySQL),
// cos_config.json (object store) and apns_config.json (push). Files are
// parsed leniently; comments and trailing commas are allowed.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tinode/jsonco"
)

// Config holds the assembled betterflyd runtime configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	COS      COSConfig
	APNs     APNsConfig
}

// ServerConfig is the listener configuration (config.json).
type ServerConfig struct {
	// IP is the listen address. Empty binds all interfaces.
	IP string `json:"ip"`

	// Port is the TCP listen port.
	Port int `json:"port"`

	// MetricsAddr, when non-empty, serves Prometheus metrics on this
	// host:port.
	MetricsAddr string `json:"metrics_addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`
}

// Addr returns the host:port the server listens on.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// DatabaseConfig is the MySQL configuration (database_config.json).
type DatabaseConfig struct {
	User     string `json:"user"`
	Password string `json:"password"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	DB       string `json:"db"`
	Charset  string `json:"charset"`
}

// DSN renders the go-sql-driver data source name. Timestamps are
// exchanged as strings in the server's wire format, so parseTime stays
// off.
func (c DatabaseConfig) DSN() string {
	charset := c.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=%s",
		c.User, c.Password, net.JoinHostPort(c.IP, strconv.Itoa(c.Port)), c.DB, charset)
}

// COSConfig is the object-store configuration (cos_config.json).
type COSConfig struct {
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`

	// Bucket is the object bucket for chat attachments.
	Bucket string `json:"bucket"`
}

// Endpoint returns the regional COS endpoint.
func (c COSConfig) Endpoint() string {
	return "cos." + c.Region + ".myqcloud.com"
}

// APNsConfig is the push configuration (apns_config.json). The file is
// optional; defaults match the shipped Betterfly client.
type APNsConfig struct {
	TeamID string `json:"team_id"`
	KeyID  string `json:"key_id"`

	// Topic is the APNs topic, the client app's bundle id.
	Topic string `json:"topic"`

	// KeyFile is the path of the ES256 signing key (.p8). Relative
	// paths resolve against the config directory.
	KeyFile string `json:"key_file"`

	// Sandbox selects the APNs development host.
	Sandbox bool `json:"sandbox"`
}

// Default returns the configuration used when files omit fields.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     54342,
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			IP:      "127.0.0.1",
			Port:    3306,
			Charset: "utf8mb4",
		},
		COS: COSConfig{
			Bucket: "betterfly",
		},
		APNs: APNsConfig{
			TeamID:  "BYMJC965BC",
			KeyID:   "8UZN8NKG46",
			Topic:   "com.betterfly.betterflyclient",
			KeyFile: "key.p8",
			Sandbox: true,
		},
	}
}

// Load reads the config files under dir, applying defaults for absent
// optional files and fields. config.json and database_config.json are
// required.
func Load(dir string) (*Config, error) {
	cfg := Default()

	if err := decodeFile(filepath.Join(dir, "config.json"), &cfg.Server); err != nil {
		return nil, err
	}
	if err := decodeFile(filepath.Join(dir, "database_config.json"), &cfg.Database); err != nil {
		return nil, err
	}
	if err := decodeFile(filepath.Join(dir, "cos_config.json"), &cfg.COS); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := decodeFile(filepath.Join(dir, "apns_config.json"), &cfg.APNs); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("config.json: invalid port %d", cfg.Server.Port)
	}
	if cfg.Database.User == "" || cfg.Database.DB == "" {
		return nil, fmt.Errorf("database_config.json: user and db are required")
	}
	if !filepath.IsAbs(cfg.APNs.KeyFile) {
		cfg.APNs.KeyFile = filepath.Join(dir, cfg.APNs.KeyFile)
	}
	return cfg, nil
}

// decodeFile parses one JSON file through a comment-tolerant reader.
func decodeFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	jr := jsonco.New(f)
	if err := json.NewDecoder(jr).Decode(v); err != nil {
		if serr, ok := err.(*json.SyntaxError); ok {
			line, char, _ := jr.LineAndChar(serr.Offset)
			return fmt.Errorf("%s: syntax error at line %d char %d: %v",
				filepath.Base(path), line, char, err)
		}
		return fmt.Errorf("%s: %v", filepath.Base(path), err)
	}
	return nil
}
