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
	"github.com/wacul/ptr"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"LEADFLOW_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"LEADFLOW_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"LEADFLOW_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"LEADFLOW_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"LEADFLOW_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"LEADFLOW_SERVER_PORT"`

	// ApiKeys maps additional keys to the scopes they grant, e.g. "leads:read".
	ApiKeys map[string][]string `json:"api_keys"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"LEADFLOW_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"LEADFLOW_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"LEADFLOW_REDIS_SKIP_TLS_VERIFY"`
}

type TypeSenseConfig struct {
	Dns string `json:"dns" envconfig:"LEADFLOW_TYPESENSE_DNS"`
}

type DirectoryConfig struct {
	Url        string `json:"url" envconfig:"LEADFLOW_DIRECTORY_URL"`
	ApiKey     string `json:"api_key" envconfig:"LEADFLOW_DIRECTORY_API_KEY"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"LEADFLOW_DIRECTORY_TIMEOUT_SEC"`
}

type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"LEADFLOW_QUEUE_WEBHOOK"`
	IndexQueue     string `json:"index_queue" envconfig:"LEADFLOW_QUEUE_INDEX"`
	MonitoringPort string `json:"monitoring_port" envconfig:"LEADFLOW_QUEUE_MONITORING_PORT"`
}

// DistributionConfig holds the knobs of the lead queue: response windows and the fairness cap.
type DistributionConfig struct {
	SLAWindowMinutes       int            `json:"sla_window_minutes" envconfig:"LEADFLOW_SLA_WINDOW_MINUTES"`
	UrgentSLAWindowMinutes int            `json:"urgent_sla_window_minutes" envconfig:"LEADFLOW_URGENT_SLA_WINDOW_MINUTES"`
	CategorySLAMinutes     map[string]int `json:"category_sla_minutes"`
	FairnessCap            int            `json:"fairness_cap" envconfig:"LEADFLOW_FAIRNESS_CAP"`
	FairnessWindowMinutes  int            `json:"fairness_window_minutes" envconfig:"LEADFLOW_FAIRNESS_WINDOW_MINUTES"`
	ProblematicAfter       int            `json:"problematic_after" envconfig:"LEADFLOW_PROBLEMATIC_AFTER"`
}

type LedgerConfig struct {
	MaxRetries       int `json:"max_retries" envconfig:"LEADFLOW_LEDGER_MAX_RETRIES"`
	RetryIntervalMs  int `json:"retry_interval_ms" envconfig:"LEADFLOW_LEDGER_RETRY_INTERVAL_MS"`
	MaxRetryElapseMs int `json:"max_retry_elapse_ms" envconfig:"LEADFLOW_LEDGER_MAX_RETRY_ELAPSE_MS"`
}

type SchedulerConfig struct {
	SweepIntervalSec     int     `json:"sweep_interval_sec" envconfig:"LEADFLOW_SCHEDULER_SWEEP_INTERVAL_SEC"`
	RefundIntervalSec    int     `json:"refund_interval_sec" envconfig:"LEADFLOW_SCHEDULER_REFUND_INTERVAL_SEC"`
	ScoreIntervalSec     int     `json:"score_interval_sec" envconfig:"LEADFLOW_SCHEDULER_SCORE_INTERVAL_SEC"`
	ContactWindowMinutes int     `json:"contact_window_minutes" envconfig:"LEADFLOW_SCHEDULER_CONTACT_WINDOW_MINUTES"`
	ReminderFraction     float64 `json:"reminder_fraction" envconfig:"LEADFLOW_SCHEDULER_REMINDER_FRACTION"`
	BatchSize            int     `json:"batch_size" envconfig:"LEADFLOW_SCHEDULER_BATCH_SIZE"`
	MaxWorkers           int     `json:"max_workers" envconfig:"LEADFLOW_SCHEDULER_MAX_WORKERS"`
	UseLease             bool    `json:"use_lease" envconfig:"LEADFLOW_SCHEDULER_USE_LEASE"`
}

// ScoringConfig is the versioned weight/threshold set used by the scoring service.
// Bumping Version and reloading the file retunes ranking without a redeploy.
type ScoringConfig struct {
	Version                 string  `json:"version" envconfig:"LEADFLOW_SCORING_VERSION"`
	ResponsivenessWeight    float64 `json:"responsiveness_weight"`
	CompletionWeight        float64 `json:"completion_weight"`
	RatingWeight            float64 `json:"rating_weight"`
	ComplianceWeight        float64 `json:"compliance_weight"`
	FreshnessWeight         float64 `json:"freshness_weight"`
	TopTierThreshold        float64 `json:"top_tier_threshold"`
	MidTierThreshold        float64 `json:"mid_tier_threshold"`
	FreshnessHalfLifeHours  float64 `json:"freshness_half_life_hours"`
	SnapshotMaxAgeMinutes   int     `json:"snapshot_max_age_minutes"`
	SnapshotCacheTTLSeconds int     `json:"snapshot_cache_ttl_seconds"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type ContactEventsConfig struct {
	Channel string `json:"channel" envconfig:"LEADFLOW_CONTACT_EVENTS_CHANNEL"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"LEADFLOW_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"LEADFLOW_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"LEADFLOW_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName     string              `json:"project_name" envconfig:"LEADFLOW_PROJECT_NAME"`
	EnableTelemetry bool                `json:"enable_telemetry" envconfig:"LEADFLOW_ENABLE_TELEMETRY"`
	Server          ServerConfig        `json:"server"`
	DataSource      DataSourceConfig    `json:"data_source"`
	Redis           RedisConfig         `json:"redis"`
	TypeSense       TypeSenseConfig     `json:"typesense"`
	TypeSenseKey    string              `json:"type_sense_key" envconfig:"LEADFLOW_TYPESENSE_KEY"`
	Directory       DirectoryConfig     `json:"directory"`
	Queue           QueueConfig         `json:"queue"`
	Distribution    DistributionConfig  `json:"distribution"`
	Ledger          LedgerConfig        `json:"ledger"`
	Scheduler       SchedulerConfig     `json:"scheduler"`
	Scoring         ScoringConfig       `json:"scoring"`
	Notification    Notification        `json:"notification"`
	ContactEvents   ContactEventsConfig `json:"contact_events"`
	RateLimit       RateLimitConfig     `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("leadflow", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called leadflow.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Leadflow"
	}

	if cnf.DataSource.Dns == "" {
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
	cnf.Directory.Url = strings.TrimSpace(cnf.Directory.Url)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.setQueueDefaults()
	cnf.setDistributionDefaults()
	cnf.setLedgerDefaults()
	cnf.setSchedulerDefaults()
	if err := cnf.setScoringDefaults(); err != nil {
		return err
	}

	if cnf.Directory.TimeoutSec <= 0 {
		cnf.Directory.TimeoutSec = 5
	}
	if cnf.ContactEvents.Channel == "" {
		cnf.ContactEvents.Channel = "lead_contact"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = ptr.Int(defaultBurst)
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = ptr.Float64(defaultRPS)
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		cnf.RateLimit.CleanupIntervalSec = ptr.Int(10800) // 3 hours in seconds
	}

	return nil
}

func (cnf *Configuration) setQueueDefaults() {
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.IndexQueue == "" {
		cnf.Queue.IndexQueue = "new:index"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}
}

func (cnf *Configuration) setDistributionDefaults() {
	d := &cnf.Distribution
	if d.SLAWindowMinutes <= 0 {
		d.SLAWindowMinutes = 24 * 60
	}
	if d.UrgentSLAWindowMinutes <= 0 {
		d.UrgentSLAWindowMinutes = 4 * 60
	}
	if d.FairnessCap <= 0 {
		d.FairnessCap = 10
	}
	if d.FairnessWindowMinutes <= 0 {
		d.FairnessWindowMinutes = 24 * 60
	}
	if d.ProblematicAfter <= 0 {
		d.ProblematicAfter = 3
	}
}

func (cnf *Configuration) setLedgerDefaults() {
	if cnf.Ledger.MaxRetries <= 0 {
		cnf.Ledger.MaxRetries = 5
	}
	if cnf.Ledger.RetryIntervalMs <= 0 {
		cnf.Ledger.RetryIntervalMs = 20
	}
	if cnf.Ledger.MaxRetryElapseMs <= 0 {
		cnf.Ledger.MaxRetryElapseMs = 2000
	}
}

func (cnf *Configuration) setSchedulerDefaults() {
	s := &cnf.Scheduler
	if s.SweepIntervalSec <= 0 {
		s.SweepIntervalSec = 3600
	}
	// sweeps faster than once a minute only add contention on the assignment table
	if s.SweepIntervalSec < 60 {
		log.Printf("Warning: scheduler sweep interval %ds is below the 60s minimum. Using 60s.", s.SweepIntervalSec)
		s.SweepIntervalSec = 60
	}
	if s.RefundIntervalSec <= 0 {
		s.RefundIntervalSec = 86400
	}
	if s.ScoreIntervalSec <= 0 {
		s.ScoreIntervalSec = 3600
	}
	if s.ContactWindowMinutes <= 0 {
		s.ContactWindowMinutes = 48 * 60
	}
	if s.ReminderFraction <= 0 || s.ReminderFraction >= 1 {
		s.ReminderFraction = 0.5
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 500
	}
	if s.MaxWorkers <= 0 {
		s.MaxWorkers = 10
	}
}

func (cnf *Configuration) setScoringDefaults() error {
	s := &cnf.Scoring
	if s.Version == "" {
		s.Version = "v1"
	}
	if s.ResponsivenessWeight == 0 && s.CompletionWeight == 0 && s.RatingWeight == 0 && s.ComplianceWeight == 0 && s.FreshnessWeight == 0 {
		s.ResponsivenessWeight = 0.30
		s.CompletionWeight = 0.25
		s.RatingWeight = 0.25
		s.ComplianceWeight = 0.10
		s.FreshnessWeight = 0.10
	}
	for _, w := range []float64{s.ResponsivenessWeight, s.CompletionWeight, s.RatingWeight, s.ComplianceWeight, s.FreshnessWeight} {
		if w < 0 {
			return errors.New("scoring weights must not be negative")
		}
	}
	if s.TopTierThreshold == 0 {
		s.TopTierThreshold = 80
	}
	if s.MidTierThreshold == 0 {
		s.MidTierThreshold = 60
	}
	if s.MidTierThreshold > s.TopTierThreshold {
		return errors.New("mid tier threshold must not exceed top tier threshold")
	}
	if s.FreshnessHalfLifeHours <= 0 {
		s.FreshnessHalfLifeHours = 72
	}
	if s.SnapshotMaxAgeMinutes <= 0 {
		s.SnapshotMaxAgeMinutes = 3 * 60
	}
	if s.SnapshotCacheTTLSeconds <= 0 {
		s.SnapshotCacheTTLSeconds = 300
	}
	return nil
}

// SLAWindow returns the response window for a lead of the given category.
// Urgent leads always get the urgent window; a category override wins otherwise.
func (d DistributionConfig) SLAWindow(category string, urgent bool) time.Duration {
	if urgent {
		return time.Duration(d.UrgentSLAWindowMinutes) * time.Minute
	}
	if minutes, ok := d.CategorySLAMinutes[strings.ToLower(category)]; ok && minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return time.Duration(d.SLAWindowMinutes) * time.Minute
}

func (d DistributionConfig) FairnessWindow() time.Duration {
	return time.Duration(d.FairnessWindowMinutes) * time.Minute
}

func (s SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSec) * time.Second
}

func (s SchedulerConfig) RefundInterval() time.Duration {
	return time.Duration(s.RefundIntervalSec) * time.Second
}

func (s SchedulerConfig) ScoreInterval() time.Duration {
	return time.Duration(s.ScoreIntervalSec) * time.Second
}

func (s SchedulerConfig) ContactWindow() time.Duration {
	return time.Duration(s.ContactWindowMinutes) * time.Minute
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

// MockDefaults stores a configuration with every default applied, for tests that only care about a few fields.
func MockDefaults(mutate func(c *Configuration)) *Configuration {
	cnf := &Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432/leadflow?sslmode=disable"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
	if mutate != nil {
		mutate(cnf)
	}
	if err := cnf.validateAndAddDefaults(); err != nil {
		logrus.Fatalf("invalid mock config: %v", err)
	}
	ConfigStore.Store(cnf)
	return cnf
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
