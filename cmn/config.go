package cmn

import (
	"time"

	"github.com/pkg/errors"
)

// Config is the single JSON-loadable configuration struct for the server,
// following the teacher's cmn.Config convention of grouping related knobs
// into named sections, each with its own Validate.
type Config struct {
	Net       NetConf       `json:"net"`
	Storage   StorageConf   `json:"storage"`
	Auth      AuthConf      `json:"auth"`
	Sync      SyncConf      `json:"sync"`
	Processor ProcessorConf `json:"processor"`
	Search    SearchConf    `json:"search"`
}

type NetConf struct {
	ListenAddr string `json:"listen_addr"`
}

type StorageConf struct {
	// Root is the directory under which the SQLite DB, blob buckets and
	// temp-file staging area live.
	Root string `json:"root"`
	// MaxUploadBytes bounds a single non-chunked upload.
	MaxUploadBytes int64 `json:"max_upload_bytes"`
}

type AuthConf struct {
	// SessionSecret signs session tokens (HS256) and, separately, signed
	// URLs (HMAC-SHA256). Kept as one secret for a single-node deployment;
	// split if the coordination backend is ever swapped for a distributed
	// one, per spec.md §9.
	SessionSecret    string        `json:"session_secret"`
	SessionTTL       time.Duration `json:"session_ttl"`
	SignedURLMaxAge  time.Duration `json:"signed_url_max_age"`
	RegistrationOpen bool          `json:"registration_open"`
	LoginRateLimit   int           `json:"login_rate_limit"` // attempts per window
	LoginRateWindow  time.Duration `json:"login_rate_window"`
}

type SyncConf struct {
	LeaseTTL time.Duration `json:"lease_ttl"`
}

type ProcessorConf struct {
	Concurrency        int `json:"concurrency"`
	InferenceConcLimit int `json:"inference_concurrency_limit"`
}

type SearchConf struct {
	DefaultTopN int `json:"default_top_n"`
}

// DefaultConfig returns the spec's defaults: 15-minute signed-URL expiry,
// 5-minute sync lease, 2 concurrent inference calls (spec.md §4.4, §4.6, §4.7).
func DefaultConfig() *Config {
	return &Config{
		Net:     NetConf{ListenAddr: ":8080"},
		Storage: StorageConf{Root: "./data", MaxUploadBytes: 1 << 30},
		Auth: AuthConf{
			SessionTTL:       24 * time.Hour,
			SignedURLMaxAge:  15 * time.Minute,
			RegistrationOpen: true,
			LoginRateLimit:   10,
			LoginRateWindow:  time.Minute,
		},
		Sync:      SyncConf{LeaseTTL: 5 * time.Minute},
		Processor: ProcessorConf{Concurrency: 4, InferenceConcLimit: 2},
		Search:    SearchConf{DefaultTopN: 20},
	}
}

func (c *Config) Validate() error {
	if c.Net.ListenAddr == "" {
		return errors.New("net.listen_addr must be set")
	}
	if c.Storage.Root == "" {
		return errors.New("storage.root must be set")
	}
	if c.Auth.SessionSecret == "" {
		return errors.New("auth.session_secret must be set")
	}
	if c.Processor.Concurrency <= 0 {
		return errors.New("processor.concurrency must be positive")
	}
	if c.Processor.InferenceConcLimit <= 0 {
		return errors.New("processor.inference_concurrency_limit must be positive")
	}
	return nil
}

// LoadConfig reads a JSON config file written by SaveJSP, falling back to
// DefaultConfig merged with nothing if path is empty.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if err := LoadJSP(path, cfg); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return cfg, nil
}
