package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvAppEnv          = "ENV"
	EnvLogLevel        = "LOGLEVEL"
	EnvLogFile         = "LOG_FILE"
	EnvQueueDBPath     = "QUEUE_DB_PATH"
	EnvSpreadsheetID   = "SPREADSHEET_ID"
	EnvDriveFolderID   = "DRIVE_FOLDER_ID"
	EnvClientID        = "GOOGLE_CLIENT_ID"
	EnvClientSecret    = "GOOGLE_CLIENT_SECRET"
	EnvCredentialsFile = "GOOGLE_CREDENTIALS_FILE"
	EnvTokenFile       = "GOOGLE_TOKEN_FILE"
	EnvAllowedMembers  = "ALLOWED_MEMBERS"
	EnvMaxRetries      = "SYNC_MAX_RETRIES"
	EnvPollInterval    = "SYNC_POLL_INTERVAL"
	EnvHTTPAddr        = "HTTP_ADDR"

	AppEnvProd = "production"
)

type Config struct {
	App           AppConfig
	Store         StoreConfig
	Google        GoogleConfig
	Sheets        SheetsConfig
	Sync          SyncConfig
	Connectivity  ConnectivityConfig
	Notifications NotificationsConfig
	HTTP          HTTPConfig
}

// Load reads the configuration from the environment. Call it after the .env
// file has been loaded.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("%s must not be negative", EnvMaxRetries)
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive", EnvPollInterval)
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("%s is required", EnvQueueDBPath)
	}
	return nil
}

type AppConfig struct {
	Env           string `envconfig:"ENV" default:"development"`
	LogLevel      string `envconfig:"LOGLEVEL"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"10"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"28"`
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type StoreConfig struct {
	Path string `envconfig:"QUEUE_DB_PATH" default:"data/expense-sync.db"`
}

type GoogleConfig struct {
	SpreadsheetID   string `envconfig:"SPREADSHEET_ID"`
	DriveFolderID   string `envconfig:"DRIVE_FOLDER_ID"`
	ClientID        string `envconfig:"GOOGLE_CLIENT_ID"`
	ClientSecret    string `envconfig:"GOOGLE_CLIENT_SECRET"`
	CredentialsFile string `envconfig:"GOOGLE_CREDENTIALS_FILE"`
	TokenFile       string `envconfig:"GOOGLE_TOKEN_FILE" default:"data/token.json"`
	AllowedMembers  string `envconfig:"ALLOWED_MEMBERS"`
}

type SheetsConfig struct {
	TransactionsTab string `envconfig:"SHEET_TRANSACTIONS_TAB" default:"Transactions (1065)"`
	ListsTab        string `envconfig:"SHEET_LISTS_TAB" default:"Lists"`
	SummaryTab      string `envconfig:"SHEET_SUMMARY_TAB" default:"Summary Dashboard"`
}

type SyncConfig struct {
	MaxRetries     int           `envconfig:"SYNC_MAX_RETRIES" default:"5"`
	PollInterval   time.Duration `envconfig:"SYNC_POLL_INTERVAL" default:"30s"`
	AddVendors     bool          `envconfig:"SYNC_ADD_VENDORS" default:"true"`
	CaptureTimeout time.Duration `envconfig:"CAPTURE_TIMEOUT" default:"30s"`
}

type ConnectivityConfig struct {
	ProbeURL      string        `envconfig:"CONNECTIVITY_PROBE_URL" default:"https://www.googleapis.com/generate_204"`
	ProbeInterval time.Duration `envconfig:"CONNECTIVITY_PROBE_INTERVAL" default:"15s"`
	ProbeTimeout  time.Duration `envconfig:"CONNECTIVITY_PROBE_TIMEOUT" default:"5s"`
}

type NotificationsConfig struct {
	Enabled   bool   `envconfig:"NTFY_ENABLED" default:"false"`
	URL       string `envconfig:"NTFY_URL" default:"https://ntfy.sh"`
	Topic     string `envconfig:"NTFY_TOPIC" default:"expense-sync"`
	BatchMode bool   `envconfig:"NTFY_BATCH_MODE" default:"true"`
	Priority  string `envconfig:"NTFY_PRIORITY" default:"default"`
}

type HTTPConfig struct {
	Addr string `envconfig:"HTTP_ADDR" default:"127.0.0.1:8080"`
}
