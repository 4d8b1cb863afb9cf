package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// AdminConfiguration for the status HTTP surface
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// StoreConfiguration points at the content store backing the bridge
type StoreConfiguration struct {
	Path string `toml:"path"` // SQLite database path
}

// SanitizeConfiguration extends the built-in sensitive-field fragments
type SanitizeConfiguration struct {
	ExtraFields []string `toml:"extra_fields"`
}

// SubscriptionConfiguration declares one monitored content type: which write
// actions to emit for and what related data to include in re-fetches.
// Loaded once at process start and immutable for the process lifetime.
type SubscriptionConfiguration struct {
	Model          string   `toml:"model"`    // content type UID, e.g. "api::article.article"
	Singular       string   `toml:"singular"` // singular name used in subjects
	Actions        []string `toml:"actions"`  // subset of create/update/delete
	Populate       any      `toml:"populate"` // "*", list of relations, or nested shape
	RefetchDelayMS int      `toml:"refetch_delay_ms"`
	BulkDelayMS    int      `toml:"bulk_delay_ms"`
	DeleteDelayMS  int      `toml:"delete_delay_ms"`
}

// RelationConfiguration declares a to-one relation on a model: the FK column
// on the model's table pointing at the target model.
type RelationConfiguration struct {
	Field  string `toml:"field"`
	Target string `toml:"target"`
	Column string `toml:"column"`
}

// ModelConfiguration maps a content type UID onto its store table
type ModelConfiguration struct {
	UID           string                  `toml:"uid"`
	Table         string                  `toml:"table"`
	PrivateFields []string                `toml:"private_fields"`
	Relations     []RelationConfiguration `toml:"relation"`
}

// SinkConfiguration describes one publish destination
type SinkConfiguration struct {
	Name          string   `toml:"name"`
	Type          string   `toml:"type"`   // "nats" or "kafka"
	Format        string   `toml:"format"` // "json" or "msgpack"
	NatsURL       string   `toml:"nats_url"`
	Brokers       []string `toml:"brokers"`
	SubjectPrefix string   `toml:"subject_prefix"`
	FilterModels  []string `toml:"filter_models"` // glob patterns over singular names
}

// Configuration is the root config structure
type Configuration struct {
	NodeID uint64 `toml:"node_id"`

	Logging       LoggingConfiguration        `toml:"logging"`
	Prometheus    PrometheusConfiguration     `toml:"prometheus"`
	Admin         AdminConfiguration          `toml:"admin"`
	Store         StoreConfiguration          `toml:"store"`
	Sanitize      SanitizeConfiguration       `toml:"sanitize"`
	Models        []ModelConfiguration        `toml:"model"`
	Subscriptions []SubscriptionConfiguration `toml:"subscription"`
	Sinks         []SinkConfiguration         `toml:"sink"`
}

// Config is the global configuration instance
var Config = defaultConfiguration()

// CLI flags
var (
	ConfigPathFlag = flag.String("config", "", "Path to TOML config file")
	StorePathFlag  = flag.String("store", "", "Path to SQLite content store")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging")
)

func defaultConfiguration() *Configuration {
	return &Configuration{
		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},
		Prometheus: PrometheusConfiguration{
			Enabled: false,
			Address: "0.0.0.0",
			Port:    9100,
		},
		Admin: AdminConfiguration{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			Port:        8090,
		},
		Store: StoreConfiguration{
			Path: "content.db",
		},
	}
}

// Load reads the config file (if given) and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *StorePathFlag != "" {
		Config.Store.Path = *StorePathFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	// Auto-generate node ID if not set
	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("contentwire")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}

	if Config.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	for i, model := range Config.Models {
		if model.UID == "" {
			return fmt.Errorf("model %d: uid is required", i)
		}
		if model.Table == "" {
			return fmt.Errorf("model %d (%s): table is required", i, model.UID)
		}
		for _, rel := range model.Relations {
			if rel.Field == "" || rel.Target == "" || rel.Column == "" {
				return fmt.Errorf("model %s: relations need field, target and column", model.UID)
			}
		}
	}

	validActions := map[string]bool{"create": true, "update": true, "delete": true}
	for i, sub := range Config.Subscriptions {
		if sub.Model == "" {
			return fmt.Errorf("subscription %d: model is required", i)
		}
		if len(sub.Actions) == 0 {
			return fmt.Errorf("subscription %d (%s): at least one action is required", i, sub.Model)
		}
		for _, a := range sub.Actions {
			if !validActions[a] {
				return fmt.Errorf("subscription %d (%s): invalid action %q", i, sub.Model, a)
			}
		}
		if sub.RefetchDelayMS < 0 || sub.BulkDelayMS < 0 || sub.DeleteDelayMS < 0 {
			return fmt.Errorf("subscription %d (%s): delays must be >= 0", i, sub.Model)
		}
	}

	validFormats := map[string]bool{"json": true, "msgpack": true, "": true}
	for i, sink := range Config.Sinks {
		if sink.Name == "" {
			return fmt.Errorf("sink %d: name is required", i)
		}
		if sink.Type == "" {
			return fmt.Errorf("sink %d (%s): type is required", i, sink.Name)
		}
		if !validFormats[sink.Format] {
			return fmt.Errorf("sink %d (%s): invalid format %q", i, sink.Name, sink.Format)
		}
	}

	return nil
}
