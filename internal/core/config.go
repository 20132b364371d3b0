package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tcpserve/tcpserve/server"
)

// Config contains all of the configuration options available to the
// tcpserve binary. Library embedders construct a server.Config directly;
// this wrapper exists so the binary can load everything from one yaml file
// or the environment.
type Config struct {
	// Hostname or IP address on which the server will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Port on which the server will listen.
	Port int `mapstructure:"port"`

	// Socket and session lifecycle options passed through to the server.
	Server server.Config `mapstructure:"server"`

	Logging struct {
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
	} `mapstructure:"logging"`

	Web struct {
		// Port on which the Prometheus metrics endpoint will be served.
		MetricsPort int `mapstructure:"metrics_port"`
	} `mapstructure:"web"`
}

const envVarPrefix = "TCPSERVE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("hostname", "")
	v.SetDefault("port", 9050)
	v.SetDefault("server.pending_connection_backlog", 128)
	v.SetDefault("server.allow_nat_traversal", false)
	v.SetDefault("server.exclusive_address_use", true)
	v.SetDefault("server.initial_buffer_allocation_count", 64)
	v.SetDefault("server.receive_buffer_size", 2048)
	v.SetDefault("server.drain_on_stop", false)
	v.SetDefault("server.recent_disconnect_ttl", 30*time.Second)
	v.SetDefault("logging.log_level", "info")
	v.SetDefault("logging.log_file_path", "")
	v.SetDefault("web.metrics_port", 9100)
}

// LoadConfig initializes Viper with the contents of the config file under
// configPath, falling back to the defaults for anything left unset. A
// missing config file is not an error; the defaults and environment carry.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, server.receive_buffer_size can be set using:
	// <envVarPrefix>_SERVER_RECEIVE_BUFFER_SIZE
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

// ListenAddress returns the host:port string the server should bind to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}
