package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// SourceType selects the snapshot fetcher implementation
type SourceType string

const (
	SourceSymcon  SourceType = "symcon"  // IP-Symcon JSON-RPC snapshot API
	SourceJournal SourceType = "journal" // Local Pebble-backed event journal
	SourceKafka   SourceType = "kafka"   // Single Kafka topic partition
	SourceNats    SourceType = "nats"    // NATS JetStream stream
)

// Filter fields accepted in exclude filters
const (
	FieldSender = "Sender"
	FieldText   = "Text"
)

// Filter expression syntaxes
const (
	SyntaxRegex = "regex"
	SyntaxGlob  = "glob"
)

// MessageTypeConfig enables or disables forwarding for one record category
type MessageTypeConfig struct {
	Category string `toml:"category"` // MESSAGE, SUCCESS, NOTIFY, WARNING, ERROR, DEBUG, CUSTOM
	Title    string `toml:"title"`
	Active   bool   `toml:"active"`
}

// ExcludeFilter suppresses records whose field matches the expression
type ExcludeFilter struct {
	Field      string `toml:"field"`      // "Sender" or "Text"
	Expression string `toml:"expression"` // Bare or /delimited/flags regular expression
	Syntax     string `toml:"syntax"`     // "regex" (default) or "glob"
}

// SymconConfiguration for the IP-Symcon JSON-RPC source
type SymconConfiguration struct {
	URL            string `toml:"url"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// JournalConfiguration for the local journal source
type JournalConfiguration struct {
	BatchSize int `toml:"batch_size"`
}

// KafkaConfiguration for the Kafka source
type KafkaConfiguration struct {
	Brokers   []string `toml:"brokers"`
	Topic     string   `toml:"topic"`
	Partition int      `toml:"partition"`
	MaxBytes  int      `toml:"max_bytes"`
}

// NatsConfiguration for the NATS JetStream source
type NatsConfiguration struct {
	URL       string `toml:"url"`
	Stream    string `toml:"stream"`
	BatchSize int    `toml:"batch_size"`
}

// SourceConfiguration selects and configures the snapshot fetcher
type SourceConfiguration struct {
	Type    SourceType           `toml:"type"`
	Symcon  SymconConfiguration  `toml:"symcon"`
	Journal JournalConfiguration `toml:"journal"`
	Kafka   KafkaConfiguration   `toml:"kafka"`
	Nats    NatsConfiguration    `toml:"nats"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration for the HTTP admin API
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Server          string `toml:"server"`
	Port            int    `toml:"port"`
	DefaultSeverity string `toml:"default_severity"`
	DefaultFacility string `toml:"default_facility"`
	DefaultProgram  string `toml:"default_program"`
	UpdateInterval  int    `toml:"update_interval"` // Seconds, 0 disables the timer
	WithTstampVars  bool   `toml:"with_tstamp_vars"`

	// Unset means "detect from the platform"
	ExtendedFacilities *bool `toml:"extended_facilities"`

	MessageTypes   []MessageTypeConfig `toml:"message_types"`
	ExcludeFilters []ExcludeFilter     `toml:"exclude_filters"`

	Source     SourceConfiguration     `toml:"source"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	InstanceIDFlag = flag.Uint64("instance-id", 0, "Instance ID (overrides config, 0=auto)")
	ServerFlag     = flag.String("server", "", "Syslog server (overrides config)")
	PortFlag       = flag.Int("port", 0, "Syslog server port (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin API port (overrides config)")
)

// DefaultMessageTypes mirrors the category set a fresh installation starts with
func DefaultMessageTypes() []MessageTypeConfig {
	return []MessageTypeConfig{
		{Category: "MESSAGE", Title: "MESSAGE", Active: true},
		{Category: "SUCCESS", Title: "SUCCESS", Active: true},
		{Category: "NOTIFY", Title: "NOTIFY", Active: true},
		{Category: "WARNING", Title: "WARNING", Active: true},
		{Category: "ERROR", Title: "ERROR", Active: true},
		{Category: "DEBUG", Title: "DEBUG", Active: false},
		{Category: "CUSTOM", Title: "CUSTOM", Active: true},
	}
}

// DefaultExcludeFilters keeps variable update chatter out of syslog
func DefaultExcludeFilters() []ExcludeFilter {
	return []ExcludeFilter{
		{Field: FieldSender, Expression: "VariableManager", Syntax: SyntaxRegex},
	}
}

// Default configuration
var Config = &Configuration{
	InstanceID: 0, // Auto-generate
	DataDir:    "./sysfwd-data",

	Server:          "",
	Port:            514,
	DefaultSeverity: "info",
	DefaultFacility: "", // Resolved in Load from the facility capability
	DefaultProgram:  "ipsymcon",
	UpdateInterval:  0,

	MessageTypes:   DefaultMessageTypes(),
	ExcludeFilters: DefaultExcludeFilters(),

	Source: SourceConfiguration{
		Type: SourceSymcon,
		Symcon: SymconConfiguration{
			URL:            "http://127.0.0.1:3777/api/",
			TimeoutSeconds: 10,
		},
		Journal: JournalConfiguration{
			BatchSize: 1000,
		},
		Kafka: KafkaConfiguration{
			MaxBytes: 10 << 20, // 10MB
		},
		Nats: NatsConfiguration{
			BatchSize: 1000,
		},
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "127.0.0.1",
		Port:        8514,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
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
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *InstanceIDFlag != 0 {
		Config.InstanceID = *InstanceIDFlag
	}
	if *ServerFlag != "" {
		Config.Server = *ServerFlag
	}
	if *PortFlag != 0 {
		Config.Port = *PortFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate instance ID if not set
	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Info().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	// The facility capability is resolved exactly once, here
	if Config.ExtendedFacilities == nil {
		extended := platformHasExtendedFacilities()
		Config.ExtendedFacilities = &extended
	}
	if Config.DefaultFacility == "" {
		if *Config.ExtendedFacilities {
			Config.DefaultFacility = "local0"
		} else {
			Config.DefaultFacility = "user"
		}
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID creates a stable instance ID based on machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("sysfwd")
	if err != nil {
		// Containers often lack /etc/machine-id; the hostname is stable enough there
		hostname, herr := os.Hostname()
		if herr != nil {
			return 0, err
		}
		log.Warn().Err(err).Str("hostname", hostname).Msg("Machine ID unavailable, deriving instance ID from hostname")
		id = hostname
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// platformHasExtendedFacilities reports whether the local0..local7 facilities exist
// on this platform. Windows event logging has no local facilities.
func platformHasExtendedFacilities() bool {
	return runtime.GOOS != "windows"
}

// HasExtendedFacilities returns the resolved facility capability
func HasExtendedFacilities() bool {
	if Config.ExtendedFacilities == nil {
		return platformHasExtendedFacilities()
	}
	return *Config.ExtendedFacilities
}

// IsAdminAuthEnabled reports whether admin endpoints require the shared secret
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}

// GetAdminSecret returns the admin shared secret
func GetAdminSecret() string {
	return Config.Admin.Secret
}

// Validate checks process-level configuration for errors. Forwarding settings
// (severity, facility, program, filters) are checked when they are applied, so
// a bad value there disables forwarding instead of stopping the process.
func Validate() error {
	if Config.Port < 0 || Config.Port > 65535 {
		return &ConfigError{Field: "port", Reason: fmt.Sprintf("invalid port: %d", Config.Port)}
	}

	if Config.UpdateInterval < 0 {
		return &ConfigError{Field: "update_interval", Reason: "must be >= 0"}
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return &ConfigError{Field: "admin.port", Reason: fmt.Sprintf("invalid admin port: %d", Config.Admin.Port)}
	}

	if Config.Logging.Format != "" && Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return &ConfigError{Field: "logging.format", Reason: fmt.Sprintf("unknown format %q", Config.Logging.Format)}
	}

	src := Config.Source
	switch src.Type {
	case SourceSymcon:
		if src.Symcon.URL == "" {
			return &ConfigError{Field: "source.symcon.url", Reason: "required for symcon source"}
		}
		if src.Symcon.TimeoutSeconds < 0 {
			return &ConfigError{Field: "source.symcon.timeout_seconds", Reason: "must be >= 0"}
		}
	case SourceJournal:
		if src.Journal.BatchSize < 0 {
			return &ConfigError{Field: "source.journal.batch_size", Reason: "must be >= 0"}
		}
	case SourceKafka:
		if len(src.Kafka.Brokers) == 0 {
			return &ConfigError{Field: "source.kafka.brokers", Reason: "at least one broker is required"}
		}
		if src.Kafka.Topic == "" {
			return &ConfigError{Field: "source.kafka.topic", Reason: "required for kafka source"}
		}
		if src.Kafka.Partition < 0 {
			return &ConfigError{Field: "source.kafka.partition", Reason: "must be >= 0"}
		}
	case SourceNats:
		if src.Nats.URL == "" {
			return &ConfigError{Field: "source.nats.url", Reason: "required for nats source"}
		}
		if src.Nats.Stream == "" {
			return &ConfigError{Field: "source.nats.stream", Reason: "required for nats source"}
		}
	default:
		return &ConfigError{Field: "source.type", Reason: fmt.Sprintf("unknown source type %q", src.Type)}
	}

	return nil
}
