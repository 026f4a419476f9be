// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Store         StoreConfig             `mapstructure:"store"`
	Feed          FeedConfig              `mapstructure:"feed"`
	Sync          SyncConfig              `mapstructure:"sync"`
	Transition    TransitionConfig        `mapstructure:"transition"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Search        SearchConfig            `mapstructure:"search"`
	Analytics     AnalyticsConfig         `mapstructure:"analytics"`
	Server        ServerConfig            `mapstructure:"server"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Domain Configuration Sections ---

// StoreConfig selects the remote store implementation and its table names.
type StoreConfig struct {
	Driver            string `mapstructure:"driver"` // postgres | memory
	ApplicationsTable string `mapstructure:"applications_table"`
	ApprovedTable     string `mapstructure:"approved_table"`
	RejectedTable     string `mapstructure:"rejected_table"`
	PaymentsTable     string `mapstructure:"payments_table"`
	AdminLogsTable    string `mapstructure:"admin_logs_table"`
	AutoMigrate       bool   `mapstructure:"auto_migrate"`
	ListenReconnectMS int    `mapstructure:"listen_reconnect"` // milliseconds
}

// FeedConfig points at the published spreadsheet export.
type FeedConfig struct {
	URL     string `mapstructure:"url"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// SyncConfig drives the polling runner.
type SyncConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Interval       int    `mapstructure:"interval"`      // milliseconds
	BackoffStart   int    `mapstructure:"backoff_start"` // milliseconds
	BackoffMax     int    `mapstructure:"backoff_max"`   // milliseconds
	PauseWhenIdle  bool   `mapstructure:"pause_when_idle"`
	StateBackend   string `mapstructure:"state_backend"` // redis | memory
	StateKeyPrefix string `mapstructure:"state_key_prefix"`
}

// TransitionConfig holds approve/reject defaults.
type TransitionConfig struct {
	DefaultTotalInstallments int    `mapstructure:"default_total_installments"`
	NotifyTimeout            int    `mapstructure:"notify_timeout"` // milliseconds
	DefaultUsername          string `mapstructure:"default_username"`
}

// NotificationConfig holds settings for decision notifications.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// SearchConfig toggles the admin log mirror in Elasticsearch.
type SearchConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// AnalyticsConfig holds dashboard statistic settings.
type AnalyticsConfig struct {
	CourseCapacity int      `mapstructure:"course_capacity"`
	Courses        []string `mapstructure:"courses"`
	Timezone       string   `mapstructure:"timezone"` // IANA name deciding "today"
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int    `mapstructure:"write_timeout"` // milliseconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
