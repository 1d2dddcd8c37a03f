package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/creachadair/atomicfile"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate")
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't
// exist, and writes a default config file when there is none.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{
		rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
	} {
		if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
			return fmt.Errorf("could not create directory %q: %w", dir, err)
		}
	}
	return writeDefaultConfigFileIfNone(rootDir)
}

// WriteConfigFile renders config using the template and writes it to
// the config file under rootDir.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all. The file is replaced atomically.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := atomicfile.WriteAll(path, &buffer, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func writeDefaultConfigFileIfNone(rootDir string) error {
	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if _, err := os.Stat(configFilePath); errors.Is(err, os.ErrNotExist) {
		return WriteConfigFile(rootDir, DefaultConfig())
	} else if err != nil {
		return err
	}
	return nil
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/bazaar/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.bazaar" by default, but could be changed via $BAZAAR_HOME env
# variable or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# Database backend: memdb | goleveldb
# * memdb
#   - the ledger forgets every account when it stops
# * goleveldb (github.com/syndtr/goleveldb)
#   - pure go
#   - accounts survive restarts of the ledger
db_backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db_dir = "{{ js .BaseConfig.DBPath }}"

# Output level for logging: debug | info | error
log_level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log_format = "{{ .BaseConfig.LogFormat }}"

#######################################################
###          Message Bus Configuration Options      ###
#######################################################
[bus]

# Address of the broker that participants and the ledger dial.
# Empty runs an in-process bus, which only makes sense for 'simulate'.
broker = "{{ .Bus.Broker }}"

# TCP address the broker listens on
laddr = "{{ .Bus.ListenAddress }}"

# Maximum number of simultaneous client connections to the broker.
# 0 - unlimited.
max_open_connections = {{ .Bus.MaxOpenConnections }}

# A list of origins a cross-domain request can be executed from
# Default value '[]' disables cors support
# Use '["*"]' to allow any origin
cors_allowed_origins = [{{ range .Bus.CORSAllowedOrigins }}{{ printf "%q, " . }}{{end}}]

# Number of messages a queue holds before senders block
queue_capacity = {{ .Bus.QueueCapacity }}

# Number of undelivered messages a client buffers per subscription
subscription_capacity = {{ .Bus.SubscriptionCapacity }}

#######################################################
###           Ledger Configuration Options          ###
#######################################################
[ledger]

# Queue the ledger consumes
queue = "{{ .Ledger.Queue }}"

# Number assigned to the first account opened
first_account = {{ .Ledger.FirstAccount }}

# Balance every new account starts with
initial_balance = {{ .Ledger.InitialBalance }}

# When true a successful transfer moves money from the sender to the
# receiver. When false the ledger only checks that the sender could pay
# and balances never change.
debit_on_transfer = {{ .Ledger.DebitOnTransfer }}

#######################################################
###        Participant Configuration Options        ###
#######################################################
[participant]

# Name of the participant, unique on the bus
name = "{{ .Participant.Name }}"

# Topic catalogs are broadcast on
offers_topic = "{{ .Participant.OffersTopic }}"

# How long a buyer waits for each reply before giving up
reply_timeout = "{{ .Participant.ReplyTimeout }}"

# Share of the asking price, in percent, a haggling buyer pays
haggle_percent = {{ .Participant.HagglePercent }}

# Number of goods generated for the catalog at startup
catalog_size = {{ .Participant.CatalogSize }}

# Highest price a generated item can have
max_price = {{ .Participant.MaxPrice }}

# Broadcast the catalog again after every reservation and release
republish_on_change = {{ .Participant.RepublishOnChange }}

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
# Check out the documentation for the list of available metrics.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Maximum number of simultaneous connections.
# If you want to accept a larger number than the default, make sure
# you increase your OS limits.
# 0 - unlimited.
max_open_connections = {{ .Instrumentation.MaxOpenConnections }}

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
