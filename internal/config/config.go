package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const DefaultPath = "config.json"

type DatabaseConfig struct {
	Enabled            bool   `json:"enabled" mapstructure:"enabled"`
	Host               string `json:"host" mapstructure:"host"`
	Port               uint64 `json:"port" mapstructure:"port"`
	Username           string `json:"username" mapstructure:"username"`
	Password           string `json:"password" mapstructure:"password"`
	Database           string `json:"database" mapstructure:"database"`
	UseTLS             bool   `json:"use_tls" mapstructure:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout" mapstructure:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout" mapstructure:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout" mapstructure:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout" mapstructure:"operation_timeout"`
	Heartbeat          string `json:"heartbeat" mapstructure:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size" mapstructure:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size" mapstructure:"max_pool_size"`
}

type BrokerConfig struct {
	Listen            string `json:"listen" mapstructure:"listen"`
	MaxConnections    int    `json:"max_connections" mapstructure:"max_connections"`
	ConnectTimeout    string `json:"connect_timeout" mapstructure:"connect_timeout"`
	WriteTimeout      string `json:"write_timeout" mapstructure:"write_timeout"`
	MaxPacketSize     int    `json:"max_packet_size" mapstructure:"max_packet_size"`
	MaxQueuedMessages int    `json:"max_queued_messages" mapstructure:"max_queued_messages"`
	MaxInflight       int    `json:"max_inflight" mapstructure:"max_inflight"`
	QueueBlockTimeout string `json:"queue_block_timeout" mapstructure:"queue_block_timeout"`
	RetryInterval     string `json:"retry_interval" mapstructure:"retry_interval"`
	RetryMaxInterval  string `json:"retry_max_interval" mapstructure:"retry_max_interval"`
	MaxRetries        int    `json:"max_retries" mapstructure:"max_retries"`
	SessionExpiry     string `json:"session_expiry" mapstructure:"session_expiry"`
	JanitorSchedule   string `json:"janitor_schedule" mapstructure:"janitor_schedule"`
}

type AuthConfig struct {
	AllowedClientIDs []string `json:"allowed_client_ids" mapstructure:"allowed_client_ids"`
	AllowedUsernames []string `json:"allowed_usernames" mapstructure:"allowed_usernames"`
	UseDatabase      bool     `json:"use_database" mapstructure:"use_database"`
}

type AdminConfig struct {
	HTTPListen string `json:"http_listen" mapstructure:"http_listen"`
	GRPCListen string `json:"grpc_listen" mapstructure:"grpc_listen"`
}

type Config struct {
	Database  DatabaseConfig `json:"database" mapstructure:"database"`
	Broker    BrokerConfig   `json:"broker" mapstructure:"broker"`
	Auth      AuthConfig     `json:"auth" mapstructure:"auth"`
	Admin     AdminConfig    `json:"admin" mapstructure:"admin"`
	DebugMode bool           `json:"debug_mode" mapstructure:"debug_mode"`
	AppName   string         `json:"app_name" mapstructure:"app_name"`
	LogDir    string         `json:"log_dir" mapstructure:"log_dir"`
}

var config Config
var initialized = false

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "life-stream-mqtt")
	v.SetDefault("debug_mode", false)
	v.SetDefault("log_dir", "logs")

	v.SetDefault("broker.listen", ":1883")
	v.SetDefault("broker.max_connections", 10000)
	v.SetDefault("broker.connect_timeout", "10s")
	v.SetDefault("broker.write_timeout", "10s")
	v.SetDefault("broker.max_packet_size", 1048576)
	v.SetDefault("broker.max_queued_messages", 1024)
	v.SetDefault("broker.max_inflight", 32)
	v.SetDefault("broker.queue_block_timeout", "5s")
	v.SetDefault("broker.retry_interval", "20s")
	v.SetDefault("broker.retry_max_interval", "5m")
	v.SetDefault("broker.max_retries", 0)
	v.SetDefault("broker.session_expiry", "0s")
	v.SetDefault("broker.janitor_schedule", "@every 1m")

	v.SetDefault("auth.allowed_client_ids", []string{})
	v.SetDefault("auth.allowed_usernames", []string{})
	v.SetDefault("auth.use_database", false)

	v.SetDefault("admin.http_listen", ":8080")
	v.SetDefault("admin.grpc_listen", ":9090")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 27017)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "mqtt")
	v.SetDefault("database.use_tls", false)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.socket_timeout", "30s")
	v.SetDefault("database.connect_idle_timeout", "5m")
	v.SetDefault("database.operation_timeout", "5s")
	v.SetDefault("database.heartbeat", "10s")
	v.SetDefault("database.min_pool_size", 1)
	v.SetDefault("database.max_pool_size", 16)
}

// ReadConfig loads the JSON config file at path, layering MQTT_* environment variables on top.
// A missing file is created with the default values.
func ReadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("MQTT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	missing := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return config, fmt.Errorf("the configuration file does not contain valid JSON: %w", err)
		}
		missing = true
	}

	var result Config
	if err := v.Unmarshal(&result); err != nil {
		return config, fmt.Errorf("unable to decode configuration: %w", err)
	}

	if missing {
		data, _ := json.MarshalIndent(result, "", "\t")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return config, fmt.Errorf("unable to create default configuration file %s: %w", path, err)
		}
	}

	config = result
	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig(DefaultPath)
}
