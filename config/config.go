/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"SETTLE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"SETTLE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SETTLE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"SETTLE_SERVER_DOMAIN"`
	Email     string `json:"email" envconfig:"SETTLE_SERVER_EMAIL"`
	Port      string `json:"port" envconfig:"SETTLE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SETTLE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"SETTLE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"SETTLE_REDIS_SKIP_TLS_VERIFY"`
}

// StoreConfig selects the document store backing orders, locks and tallies.
type StoreConfig struct {
	Driver       string `json:"driver" envconfig:"SETTLE_STORE_DRIVER"`
	MaxTxRetries int    `json:"max_tx_retries" envconfig:"SETTLE_STORE_MAX_TX_RETRIES"`
}

type QueueConfig struct {
	WebhookQueue     string `json:"webhook_queue" envconfig:"SETTLE_QUEUE_WEBHOOK"`
	SpendQueue       string `json:"spend_queue" envconfig:"SETTLE_QUEUE_SPEND"`
	StakeExpiryQueue string `json:"stake_expiry_queue" envconfig:"SETTLE_QUEUE_STAKE_EXPIRY"`
	Concurrency      int    `json:"concurrency" envconfig:"SETTLE_QUEUE_CONCURRENCY"`
}

type ReconciliationConfig struct {
	IntervalSec     int   `json:"interval_sec" envconfig:"SETTLE_RECONCILIATION_INTERVAL_SEC"`
	RetryBackoffSec []int `json:"retry_backoff_sec" envconfig:"SETTLE_RECONCILIATION_BACKOFF_SEC"`
	MaxWorkers      int   `json:"max_workers" envconfig:"SETTLE_RECONCILIATION_MAX_WORKERS"`
	BatchSize       int   `json:"batch_size" envconfig:"SETTLE_RECONCILIATION_BATCH_SIZE"`
	LeaseSec        int   `json:"lease_sec" envconfig:"SETTLE_RECONCILIATION_LEASE_SEC"`
}

// LedgerConfig points at the gateway that signs and submits transfers.
type LedgerConfig struct {
	Url    string `json:"url" envconfig:"SETTLE_LEDGER_URL"`
	ApiKey string `json:"api_key" envconfig:"SETTLE_LEDGER_API_KEY"`
}

type OrderConfig struct {
	ExpiresInSec int `json:"expires_in_sec" envconfig:"SETTLE_ORDER_EXPIRES_IN_SEC"`
}

// NetworkConfig holds per-network amount rules applied when pricing orders.
type NetworkConfig struct {
	MinAmount    int64 `json:"min_amount"`
	Denomination int64 `json:"denomination"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SETTLE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SETTLE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SETTLE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"SETTLE_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"SETTLE_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName        string                   `json:"project_name" envconfig:"SETTLE_PROJECT_NAME"`
	TokenizationSecret string                   `json:"tokenization_secret" envconfig:"SETTLE_TOKENIZATION_SECRET"`
	EnableTelemetry    bool                     `json:"enable_telemetry" envconfig:"SETTLE_ENABLE_TELEMETRY"`
	Server             ServerConfig             `json:"server"`
	DataSource         DataSourceConfig         `json:"data_source"`
	Redis              RedisConfig              `json:"redis"`
	Store              StoreConfig              `json:"store"`
	Queue              QueueConfig              `json:"queue"`
	Reconciliation     ReconciliationConfig     `json:"reconciliation"`
	Orders             OrderConfig              `json:"orders"`
	Ledger             LedgerConfig             `json:"ledger"`
	Networks           map[string]NetworkConfig `json:"networks"`
	Notification       Notification             `json:"notification"`
	RateLimit          RateLimitConfig          `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("settle", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called settle.json with your config")
	}
	return c, nil
}

// RetryBackoff returns the reconciliation backoff table; its length is the retry ceiling.
func (cnf *Configuration) RetryBackoff() []time.Duration {
	table := make([]time.Duration, len(cnf.Reconciliation.RetryBackoffSec))
	for i, sec := range cnf.Reconciliation.RetryBackoffSec {
		table[i] = time.Duration(sec) * time.Second
	}
	return table
}

// Network returns the amount rules for a network, falling back to the defaults.
func (cnf *Configuration) Network(name string) NetworkConfig {
	if n, ok := cnf.Networks[name]; ok {
		return n
	}
	return defaultNetworks[name]
}

var defaultNetworks = map[string]NetworkConfig{
	"iota": {MinAmount: 1_000_000, Denomination: 1000},
	"smr":  {MinAmount: 1_000_000, Denomination: 1000},
	"rms":  {MinAmount: 1_000_000, Denomination: 1000},
	"atoi": {MinAmount: 1_000_000, Denomination: 1000},
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Settle Server"
	}

	if cnf.Store.Driver == "" {
		cnf.Store.Driver = "postgres"
	}
	cnf.Store.Driver = strings.ToLower(strings.TrimSpace(cnf.Store.Driver))
	if cnf.Store.Driver != "postgres" && cnf.Store.Driver != "redis" {
		return errors.New("store driver must be postgres or redis")
	}

	if cnf.Store.Driver == "postgres" && cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Ledger.Url = strings.TrimRight(strings.TrimSpace(cnf.Ledger.Url), "/")

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Store.MaxTxRetries <= 0 {
		cnf.Store.MaxTxRetries = 25
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "settle:webhook"
	}
	if cnf.Queue.SpendQueue == "" {
		cnf.Queue.SpendQueue = "settle:spend"
	}
	if cnf.Queue.StakeExpiryQueue == "" {
		cnf.Queue.StakeExpiryQueue = "settle:stake_expiry"
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 5
	}

	if cnf.Reconciliation.IntervalSec <= 0 {
		cnf.Reconciliation.IntervalSec = 60
	}
	if len(cnf.Reconciliation.RetryBackoffSec) == 0 {
		cnf.Reconciliation.RetryBackoffSec = []int{60, 120, 240, 480, 960}
	}
	for _, sec := range cnf.Reconciliation.RetryBackoffSec {
		if sec <= 0 {
			return errors.New("retry backoff entries must be positive")
		}
	}
	if cnf.Reconciliation.MaxWorkers <= 0 {
		cnf.Reconciliation.MaxWorkers = 10
	}
	if cnf.Reconciliation.BatchSize <= 0 {
		cnf.Reconciliation.BatchSize = cnf.Reconciliation.MaxWorkers * 100
	}
	if cnf.Reconciliation.LeaseSec <= 0 {
		cnf.Reconciliation.LeaseSec = 2 * cnf.Reconciliation.IntervalSec
	}

	if cnf.Orders.ExpiresInSec <= 0 {
		cnf.Orders.ExpiresInSec = 3600
	}

	for name, network := range cnf.Networks {
		if network.Denomination <= 0 {
			network.Denomination = 1
			cnf.Networks[name] = network
		}
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
