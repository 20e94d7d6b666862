// Package config loads the operator configuration file and the
// watch-list files it references.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sudorandom/hijackwatch/internal/watch"
)

// Config is the decoded operator configuration file (config.yml).
type Config struct {
	WebsocketDataService                string              `yaml:"websocket-data-service"`
	ProxyHost                            string              `yaml:"proxy-host"`
	ProxyPort                            int                 `yaml:"proxy-port"`
	MonitoredPrefixesFiles               []string            `yaml:"monitored-prefixes-files"`
	NumberPeersBeforeHijackAlert        int                 `yaml:"number-peers-before-hijack-alert"`
	NumberPeersBeforeLowVisibilityAlert int                 `yaml:"number-peers-before-low-visibility-alert"`
	RepeatAlertAfterSeconds             int                 `yaml:"repeat-alert-after-seconds"`
	ResetAfterSeconds                   int                 `yaml:"reset-after-seconds"`
	RepeatStatusHeartbeatAfterSeconds   int                 `yaml:"repeat-status-heartbeat-after-seconds"`
	PermittedMoreSpecificAnnouncements  map[uint32][]string `yaml:"permitted-more-specific-announcements"`

	// SlackWebHook, SenderNotificationsEmail and NotifiedEmails mirror
	// the original project's sink configuration (see
	// internal/sink), which is a collaborator outside the core.
	SlackWebHook             string   `yaml:"slack-web-hook"`
	SenderNotificationsEmail string   `yaml:"sender-notifications-email"`
	NotifiedEmails           []string `yaml:"notified-emails"`
	SMTPAddr                 string   `yaml:"smtp-addr"`
}

// Load reads and decodes the config file at path, applying the
// documented defaults for any zero-valued numeric fields that have
// one.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.RepeatAlertAfterSeconds == 0 {
		cfg.RepeatAlertAfterSeconds = 10
	}
	if cfg.ResetAfterSeconds == 0 {
		cfg.ResetAfterSeconds = 600
	}
	// NumberPeersBeforeHijackAlert, NumberPeersBeforeLowVisibilityAlert
	// and RepeatStatusHeartbeatAfterSeconds default to 0, which is
	// already the Go zero value, so no assignment is needed for them.
}

// watchListEntry is one value in a watch-list YAML file, keyed by
// CIDR in the file itself.
type watchListEntry struct {
	BaseASN        uint32 `yaml:"base_asn"`
	Description    string `yaml:"description"`
	IgnoreMoreSpec bool   `yaml:"ignore_morespec"`
}

// LoadWatchList reads every file named in paths and merges them into
// one watch.Index. Later files override earlier ones on CIDR
// collision, matching a plain map-merge.
func LoadWatchList(paths []string) (*watch.Index, error) {
	merged := make(map[string]watchListEntry)
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading watch-list %s: %w", path, err)
		}
		var entries map[string]watchListEntry
		if err := yaml.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("config: parsing watch-list %s: %w", path, err)
		}
		for cidr, entry := range entries {
			merged[cidr] = entry
		}
	}

	prefixes := make([]watch.Prefix, 0, len(merged))
	for cidr, entry := range merged {
		p, err := watch.New(cidr, entry.BaseASN, entry.Description, !entry.IgnoreMoreSpec)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p)
	}
	return watch.NewIndex(prefixes), nil
}

// Whitelist converts the configured permitted-more-specific-announcements
// mapping into the set-of-sets shape the alert engine consumes.
func Whitelist(cfg map[uint32][]string) map[uint32]map[string]struct{} {
	out := make(map[uint32]map[string]struct{}, len(cfg))
	for originAS, cidrs := range cfg {
		set := make(map[string]struct{}, len(cidrs))
		for _, c := range cidrs {
			set[c] = struct{}{}
		}
		out[originAS] = set
	}
	return out
}
