package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/matchctl/internal/config"
	"github.com/danmuck/matchctl/internal/rendezvous"
	"github.com/rs/zerolog/log"
)

// loadServiceConfig overlays the keys present in path onto the defaults.
// Unknown keys are reported but tolerated; `matchctl config validate` is strict.
func loadServiceConfig(path string) (rendezvous.ServiceConfig, error) {
	raw := config.Default()
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return rendezvous.ServiceConfig{}, fmt.Errorf("load matchctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		log.Warn().Str("path", path).Strs("keys", keys).Msg("matchctl.loadServiceConfig ignoring unknown keys")
	}
	cfg, err := raw.ServiceConfig()
	if err != nil {
		return rendezvous.ServiceConfig{}, fmt.Errorf("load matchctl config %s: %w", path, err)
	}
	return cfg, nil
}

// listenAddrFromPort turns the positional port argument into a listen address.
func listenAddrFromPort(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	port, err := strconv.Atoi(arg)
	if err != nil {
		return "", fmt.Errorf("invalid port %q", arg)
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("port %d out of range", port)
	}
	return fmt.Sprintf(":%d", port), nil
}
