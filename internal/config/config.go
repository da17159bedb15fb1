package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/matchctl/internal/rendezvous"
	"github.com/danmuck/matchctl/internal/session"
	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk TOML shape of the matchctl configuration.
type File struct {
	NodeID            string   `toml:"node_id"`
	ListenAddr        string   `toml:"listen_addr"`
	PeerAddress       string   `toml:"peer_address" comment:"host sends the bare IP, hostport sends ip:port"`
	WriteTimeout      string   `toml:"write_timeout" comment:"0 disables the per-line write deadline"`
	AdminAddr         string   `toml:"admin_addr" comment:"empty disables the admin HTTP surface"`
	AdminToken        string   `toml:"admin_token" comment:"bearer token for admin routes except /health; empty leaves them open"`
	CorsOrigins       []string `toml:"cors_origins"`
	HeartbeatInterval string   `toml:"heartbeat_interval" comment:"0 disables the heartbeat log line"`
	RecentPairs       int      `toml:"recent_pairs"`
	CheckInvariants   bool     `toml:"check_invariants"`
}

// Default mirrors rendezvous.DefaultServiceConfig in file form.
func Default() File {
	return FromService(rendezvous.DefaultServiceConfig())
}

func FromService(cfg rendezvous.ServiceConfig) File {
	return File{
		NodeID:            cfg.NodeID,
		ListenAddr:        cfg.ListenAddr,
		PeerAddress:       string(cfg.Session.AddressFormat),
		WriteTimeout:      cfg.Session.WriteTimeout.String(),
		AdminAddr:         cfg.AdminAddr,
		AdminToken:        cfg.AdminToken,
		CorsOrigins:       append([]string(nil), cfg.CorsOrigins...),
		HeartbeatInterval: cfg.HeartbeatInterval.String(),
		RecentPairs:       cfg.RecentPairs,
		CheckInvariants:   cfg.CheckInvariants,
	}
}

// ServiceConfig resolves the file into runtime configuration.
func (f File) ServiceConfig() (rendezvous.ServiceConfig, error) {
	if err := Validate(f); err != nil {
		return rendezvous.ServiceConfig{}, err
	}
	cfg := rendezvous.DefaultServiceConfig()
	cfg.NodeID = strings.TrimSpace(f.NodeID)
	cfg.ListenAddr = strings.TrimSpace(f.ListenAddr)
	cfg.AdminAddr = strings.TrimSpace(f.AdminAddr)
	cfg.AdminToken = strings.TrimSpace(f.AdminToken)
	cfg.CorsOrigins = normalizeList(f.CorsOrigins)
	cfg.RecentPairs = f.RecentPairs
	cfg.CheckInvariants = f.CheckInvariants

	format, _ := session.ParseAddressFormat(f.PeerAddress)
	cfg.Session.AddressFormat = format
	cfg.Session.WriteTimeout, _ = parseDuration(f.WriteTimeout)
	cfg.HeartbeatInterval, _ = parseDuration(f.HeartbeatInterval)
	return cfg, nil
}

func Validate(f File) error {
	var errs []error
	if strings.TrimSpace(f.NodeID) == "" {
		errs = append(errs, fmt.Errorf("node_id is required"))
	}
	if strings.TrimSpace(f.ListenAddr) == "" {
		errs = append(errs, fmt.Errorf("listen_addr is required"))
	}
	if _, err := session.ParseAddressFormat(f.PeerAddress); err != nil {
		errs = append(errs, fmt.Errorf("peer_address: %w", err))
	}
	if d, err := parseDuration(f.WriteTimeout); err != nil {
		errs = append(errs, fmt.Errorf("write_timeout: %w", err))
	} else if d < 0 {
		errs = append(errs, fmt.Errorf("write_timeout must not be negative"))
	}
	if d, err := parseDuration(f.HeartbeatInterval); err != nil {
		errs = append(errs, fmt.Errorf("heartbeat_interval: %w", err))
	} else if d < 0 {
		errs = append(errs, fmt.Errorf("heartbeat_interval must not be negative"))
	}
	if f.RecentPairs < 0 {
		errs = append(errs, fmt.Errorf("recent_pairs must not be negative"))
	}
	if err := rendezvous.ValidateCorsOrigins(normalizeList(f.CorsOrigins)); err != nil {
		errs = append(errs, fmt.Errorf("cors_origins: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %w", errors.Join(errs...))
	}
	return nil
}

// LoadStrict reads path and rejects keys that are not part of File.
func LoadStrict(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	f := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(f); err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

const templateHeader = "# matchctl rendezvous server configuration\n\n"

// Template renders the default configuration as TOML.
func Template() (string, error) {
	body, err := toml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("config template: %w", err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
