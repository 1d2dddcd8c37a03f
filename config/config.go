package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"

	// DefaultLogLevel defines a default log level as INFO.
	DefaultLogLevel = "info"

	// DefaultLedgerQueue is the queue the ledger consumes.
	DefaultLedgerQueue = "LedgerQueue"
	// DefaultOffersTopic is the topic catalogs are broadcast on.
	DefaultOffersTopic = "Offers"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
// NOTE: libs/cli must know to look in the config dir!
var (
	DefaultBazaarDir  = ".bazaar"
	defaultConfigDir  = "config"
	defaultDataDir    = "data"
	defaultConfigName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigName)
)

// Config defines the top level configuration for the bazaar processes: the
// broker, the ledger and the participants all read the same file.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Bus             *BusConfig             `mapstructure:"bus"`
	Ledger          *LedgerConfig          `mapstructure:"ledger"`
	Participant     *ParticipantConfig     `mapstructure:"participant"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Bus:             DefaultBusConfig(),
		Ledger:          DefaultLedgerConfig(),
		Participant:     DefaultParticipantConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Bus:             TestBusConfig(),
		Ledger:          TestLedgerConfig(),
		Participant:     TestParticipantConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Bus.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [bus] section: %w", err)
	}
	if err := cfg.Ledger.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [ledger] section: %w", err)
	}
	if err := cfg.Participant.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [participant] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration shared by every process.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// Database backend: memdb | goleveldb
	// * memdb
	//   - the ledger forgets every account when it stops
	// * goleveldb (github.com/syndtr/goleveldb)
	//   - pure go
	//   - accounts survive restarts of the ledger
	DBBackend string `mapstructure:"db_backend"`

	// Database directory
	DBPath string `mapstructure:"db_dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		DBBackend: "memdb",
		DBPath:    defaultDataDir,
		LogLevel:  DefaultLogLevel,
		LogFormat: LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.LogLevel = "debug"
	return cfg
}

// DBDir returns the full path to the database directory
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ConfigFile returns the full path to the config.toml file.
func (cfg BaseConfig) ConfigFile() string {
	return rootify(defaultConfigFilePath, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log_format (must be 'plain' or 'json')")
	}
	switch cfg.DBBackend {
	case "memdb", "goleveldb":
	default:
		return fmt.Errorf("unsupported db_backend %q (must be 'memdb' or 'goleveldb')", cfg.DBBackend)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BusConfig

// BusConfig defines how processes reach the message bus.
type BusConfig struct {
	// Address of the broker that participants and the ledger dial.
	// Empty runs an in-process bus, which only makes sense for `simulate`.
	Broker string `mapstructure:"broker"`

	// TCP address the broker listens on.
	ListenAddress string `mapstructure:"laddr"`

	// Maximum number of simultaneous client connections to the broker.
	// 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max_open_connections"`

	// A list of origins a cross-domain request can be executed from.
	// Default value '[]' disables cors support.
	// Use '["*"]' to allow any origin.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// Number of messages a queue holds before senders block.
	QueueCapacity int `mapstructure:"queue_capacity"`

	// Number of undelivered messages a client buffers per subscription.
	SubscriptionCapacity int `mapstructure:"subscription_capacity"`
}

// DefaultBusConfig returns a default configuration for the bus.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		Broker:               "127.0.0.1:26680",
		ListenAddress:        "127.0.0.1:26680",
		MaxOpenConnections:   900,
		CORSAllowedOrigins:   []string{},
		QueueCapacity:        1000,
		SubscriptionCapacity: 1000,
	}
}

// TestBusConfig returns a configuration for an in-process bus.
func TestBusConfig() *BusConfig {
	cfg := DefaultBusConfig()
	cfg.Broker = ""
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.QueueCapacity = 100
	cfg.SubscriptionCapacity = 100
	return cfg
}

// IsCorsEnabled returns true if cross-origin websocket upgrades are allowed
// from at least one origin.
func (cfg *BusConfig) IsCorsEnabled() bool {
	return len(cfg.CORSAllowedOrigins) != 0
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *BusConfig) ValidateBasic() error {
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max_open_connections can't be negative")
	}
	if cfg.QueueCapacity <= 0 {
		return errors.New("queue_capacity must be positive")
	}
	if cfg.SubscriptionCapacity <= 0 {
		return errors.New("subscription_capacity must be positive")
	}
	if cfg.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
			return fmt.Errorf("invalid laddr: %w", err)
		}
	}
	return nil
}

//-----------------------------------------------------------------------------
// LedgerConfig

// LedgerConfig defines the configuration of the ledger service.
type LedgerConfig struct {
	// Queue the ledger consumes. Participants send their orders here.
	Queue string `mapstructure:"queue"`

	// Number assigned to the first account opened.
	FirstAccount int64 `mapstructure:"first_account"`

	// Balance every new account starts with.
	InitialBalance int64 `mapstructure:"initial_balance"`

	// When true a successful transfer moves money from the sender to the
	// receiver. When false the ledger only checks that the sender could pay
	// and balances never change.
	DebitOnTransfer bool `mapstructure:"debit_on_transfer"`
}

// DefaultLedgerConfig returns a default configuration for the ledger.
func DefaultLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		Queue:           DefaultLedgerQueue,
		FirstAccount:    1000000,
		InitialBalance:  1000,
		DebitOnTransfer: true,
	}
}

// TestLedgerConfig returns a configuration for testing the ledger.
func TestLedgerConfig() *LedgerConfig {
	return DefaultLedgerConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *LedgerConfig) ValidateBasic() error {
	if cfg.Queue == "" {
		return errors.New("queue can't be empty")
	}
	if cfg.FirstAccount <= 0 {
		return errors.New("first_account must be positive")
	}
	if cfg.InitialBalance < 0 {
		return errors.New("initial_balance can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// ParticipantConfig

// ParticipantConfig defines the configuration of a participant.
type ParticipantConfig struct {
	// Name of the participant. It must be unique on the bus: it names the
	// ledger account and the participant's sale queue.
	Name string `mapstructure:"name"`

	// Topic catalogs are broadcast on.
	OffersTopic string `mapstructure:"offers_topic"`

	// How long a buyer waits for each reply before giving up.
	ReplyTimeout time.Duration `mapstructure:"reply_timeout"`

	// Share of the asking price, in percent, a haggling buyer pays.
	HagglePercent int64 `mapstructure:"haggle_percent"`

	// Number of goods generated for the catalog at startup.
	CatalogSize int `mapstructure:"catalog_size"`

	// Highest price a generated item can have.
	MaxPrice int64 `mapstructure:"max_price"`

	// Broadcast the catalog again after every reservation and release.
	RepublishOnChange bool `mapstructure:"republish_on_change"`
}

// DefaultParticipantConfig returns a default configuration for a
// participant.
func DefaultParticipantConfig() *ParticipantConfig {
	return &ParticipantConfig{
		OffersTopic:       DefaultOffersTopic,
		ReplyTimeout:      10 * time.Second,
		HagglePercent:     50,
		CatalogSize:       10,
		MaxPrice:          10000,
		RepublishOnChange: false,
	}
}

// TestParticipantConfig returns a configuration for testing participants.
func TestParticipantConfig() *ParticipantConfig {
	cfg := DefaultParticipantConfig()
	cfg.ReplyTimeout = 2 * time.Second
	return cfg
}

// SaleQueue returns the name of the queue the participant receives
// purchase requests on.
func (cfg *ParticipantConfig) SaleQueue() string {
	return SaleQueueName(cfg.Name)
}

// SaleQueueName returns the name of the sale queue of participant name.
func SaleQueueName(name string) string {
	return name + "SaleQueue"
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails. An empty name is accepted: commands
// that run a participant require it themselves.
func (cfg *ParticipantConfig) ValidateBasic() error {
	if strings.ContainsAny(cfg.Name, " \t\n/") {
		return fmt.Errorf("name %q can't contain whitespace or '/'", cfg.Name)
	}
	if cfg.OffersTopic == "" {
		return errors.New("offers_topic can't be empty")
	}
	if cfg.ReplyTimeout <= 0 {
		return errors.New("reply_timeout must be positive")
	}
	if cfg.HagglePercent < 0 || cfg.HagglePercent > 100 {
		return errors.New("haggle_percent must be between 0 and 100")
	}
	if cfg.CatalogSize < 0 {
		return errors.New("catalog_size can't be negative")
	}
	if cfg.MaxPrice < 0 {
		return errors.New("max_price can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	// Check out the documentation for the list of available metrics.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Maximum number of simultaneous connections.
	// If you want to accept a larger number than the default, make sure
	// you increase your OS limits.
	// 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max_open_connections"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		MaxOpenConnections:   3,
		Namespace:            "bazaar",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max_open_connections can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
