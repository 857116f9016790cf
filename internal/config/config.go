package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/assetvault/custodyd/internal/core/application"
	"github.com/assetvault/custodyd/internal/core/ports"
	"github.com/assetvault/custodyd/internal/infrastructure/custodyprovider"
	"github.com/assetvault/custodyd/internal/infrastructure/db"
	"github.com/assetvault/custodyd/internal/infrastructure/eventbus"
	inmemorylivestore "github.com/assetvault/custodyd/internal/infrastructure/live-store/inmemory"
	redislivestore "github.com/assetvault/custodyd/internal/infrastructure/live-store/redis"
	"github.com/assetvault/custodyd/internal/infrastructure/metrics"
	timescheduler "github.com/assetvault/custodyd/internal/infrastructure/scheduler/gocron"
	tickerscheduler "github.com/assetvault/custodyd/internal/infrastructure/scheduler/ticker"
	"github.com/assetvault/custodyd/internal/infrastructure/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	gasCacheSize          = 1024
	auditStreamBufferSize = 256
)

var (
	supportedAuditDbs = supportedType{
		"badger":   {},
		"sqlite":   {},
		"postgres": {},
	}
	supportedDbs = supportedType{
		"sqlite":   {},
		"postgres": {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
		"ticker": {},
	}
	supportedLiveStores = supportedType{
		"inmemory": {},
		"redis":    {},
	}
	supportedProviders = supportedType{
		"http":      {},
		"simulated": {},
	}
)

type Config struct {
	Datadir     string
	LogLevel    int
	MetricsPort uint32

	DbType              string
	AuditDbType         string
	DbDir               string
	DbUrl               string
	AuditDbUrl          string
	SchedulerType       string
	LiveStoreType       string
	RedisUrl            string
	RedisTxNumOfRetries int

	ProviderType           string
	ProviderUrl            string
	ProviderApiKey         string
	ProviderTimeout        time.Duration
	ProviderRateLimit      float64
	SimulatedCompleteAfter int

	Blockchain             string
	FundingVaultId         string
	GasAssetSymbol         string
	GasThreshold           decimal.Decimal
	GasTopUpAmount         decimal.Decimal
	GasFundingPollInterval time.Duration
	GasFundingMaxAttempts  int
	GasCacheTTL            time.Duration

	MonitorInitialDelay   time.Duration
	MonitorStepDelay      time.Duration
	MonitorMaxDelay       time.Duration
	MonitorMaxAttempts    int
	TransientCooldown     time.Duration
	RateLimitCooldown     time.Duration
	MilestoneSubmitted    int
	MilestonePropagating  int
	MilestoneFinalizing   int
	ResyncCooldown        time.Duration
	ResyncInterval        time.Duration
	ExecutionWorkers      int
	WebhookUrl            string
	WebhookTimeout        time.Duration
	OtelCollectorEndpoint string
	OtelPushInterval      time.Duration

	metricsRegistry *prometheus.Registry
	repo            ports.RepoManager
	svc             application.Service
	provider        ports.CustodyProvider
	scheduler       ports.SchedulerService
	liveStore       ports.LiveStore
	notifier        ports.Notifier
	auditStream     ports.AuditStream
	metrics         ports.Metrics
}

func (c *Config) String() string {
	clone := *c
	if clone.ProviderApiKey != "" {
		clone.ProviderApiKey = "••••••"
	}
	if clone.DbUrl != "" {
		clone.DbUrl = maskUrl(clone.DbUrl)
	}
	if clone.AuditDbUrl != "" {
		clone.AuditDbUrl = maskUrl(clone.AuditDbUrl)
	}
	if clone.RedisUrl != "" {
		clone.RedisUrl = maskUrl(clone.RedisUrl)
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultDatadir                = appDataDir("custodyd")
	defaultLogLevel               = 4
	defaultMetricsPort            = 9090
	defaultDbType                 = "sqlite"
	defaultAuditDbType            = "sqlite"
	defaultSchedulerType          = "gocron"
	defaultLiveStoreType          = "inmemory"
	defaultRedisTxNumOfRetries    = 10
	defaultProviderType           = "simulated"
	defaultProviderTimeout        = 15 * time.Second
	defaultProviderRateLimit      = 10.0
	defaultSimulatedCompleteAfter = 3
	defaultBlockchain             = "ETH_TEST5"
	defaultGasAssetSymbol         = "ETH_TEST5"
	defaultGasThreshold           = "0.01"
	defaultGasTopUpAmount         = "0.05"
	defaultGasFundingPollInterval = 5 * time.Second
	defaultGasFundingMaxAttempts  = 24
	defaultGasCacheTTL            = 10 * time.Minute
	defaultMonitorInitialDelay    = 5 * time.Second
	defaultMonitorStepDelay       = 2 * time.Second
	defaultMonitorMaxDelay        = 30 * time.Second
	defaultMonitorMaxAttempts     = 30
	defaultTransientCooldown      = 10 * time.Second
	defaultRateLimitCooldown      = 60 * time.Second
	defaultMilestoneSubmitted     = 1
	defaultMilestonePropagating   = 5
	defaultMilestoneFinalizing    = 10
	defaultResyncCooldown         = 30 * time.Second
	defaultResyncInterval         = 5 * time.Minute
	defaultExecutionWorkers       = 4
	defaultWebhookTimeout         = 5 * time.Second
	defaultOtelPushInterval       = 10 * time.Second
)

// env returns a list of strings prefixed with `CUSTODYD_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("CUSTODYD_%s", value)
	}

	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	MetricsPort = &cli.UintFlag{
		Usage: "Port to expose prometheus metrics on, 0 disables the endpoint",
		Name:  "metrics-port", EnvVars: env("METRICS_PORT"),
		Value: uint(defaultMetricsPort),
	}

	DbType = &cli.StringFlag{
		Usage: "Database type (sqlite, postgres)",
		Name:  "db-type", EnvVars: env("DB_TYPE"),
		Value: defaultDbType,
	}

	DbUrl = &cli.StringFlag{
		Usage: "Postgres connection url if CUSTODYD_DB_TYPE is set to postgres",
		Name:  "pg-db-url", EnvVars: env("PG_DB_URL"),
	}

	AuditDbType = &cli.StringFlag{
		Usage: "Audit log database type (badger, sqlite, postgres)",
		Name:  "audit-db-type", EnvVars: env("AUDIT_DB_TYPE"),
		Value: defaultAuditDbType,
	}

	AuditDbUrl = &cli.StringFlag{
		Usage: "Postgres connection url if CUSTODYD_AUDIT_DB_TYPE is set to postgres",
		Name:  "pg-audit-db-url", EnvVars: env("PG_AUDIT_DB_URL"),
		DefaultText: "value of `CUSTODYD_PG_DB_URL`",
	}

	SchedulerType = &cli.StringFlag{
		Usage: "Scheduler type (gocron, ticker)",
		Name:  "scheduler-type", EnvVars: env("SCHEDULER_TYPE"),
		Value: defaultSchedulerType,
	}

	LiveStoreType = &cli.StringFlag{
		Usage: "Live store type (redis, inmemory) for monitor registrations and gas balances",
		Name:  "live-store-type", EnvVars: env("LIVE_STORE_TYPE"),
		Value: defaultLiveStoreType,
	}

	RedisUrl = &cli.StringFlag{
		Usage: "Redis db connection url if CUSTODYD_LIVE_STORE_TYPE is set to redis",
		Name:  "redis-url", EnvVars: env("REDIS_URL"),
	}

	RedisTxNumOfRetries = &cli.IntFlag{
		Usage: "Maximum number of retries for Redis write operations in case of conflicts",
		Name:  "redis-num-of-retries", EnvVars: env("REDIS_NUM_OF_RETRIES"),
		Value: defaultRedisTxNumOfRetries,
	}

	ProviderType = &cli.StringFlag{
		Usage: "Custody provider type (http, simulated)",
		Name:  "provider-type", EnvVars: env("PROVIDER_TYPE"),
		Value: defaultProviderType,
	}

	ProviderUrl = &cli.StringFlag{
		Usage: "Custody provider api url if CUSTODYD_PROVIDER_TYPE is set to http",
		Name:  "provider-url", EnvVars: env("PROVIDER_URL"),
	}

	ProviderApiKey = &cli.StringFlag{
		Usage: "Custody provider api key",
		Name:  "provider-api-key", EnvVars: env("PROVIDER_API_KEY"),
	}

	ProviderTimeout = &cli.DurationFlag{
		Usage: "Timeout of a single custody provider request",
		Name:  "provider-timeout", EnvVars: env("PROVIDER_TIMEOUT"),
		Value: defaultProviderTimeout,
	}

	ProviderRateLimit = &cli.Float64Flag{
		Usage: "Maximum number of custody provider requests per second, 0 disables the limit",
		Name:  "provider-rate-limit", EnvVars: env("PROVIDER_RATE_LIMIT"),
		Value: defaultProviderRateLimit,
	}

	SimulatedCompleteAfter = &cli.IntFlag{
		Usage: "Number of status polls after which a simulated provider task settles",
		Name:  "simulated-complete-after", EnvVars: env("SIMULATED_COMPLETE_AFTER"),
		Value: defaultSimulatedCompleteAfter,
	}

	Blockchain = &cli.StringFlag{
		Usage: "Default blockchain of linked assets",
		Name:  "blockchain", EnvVars: env("BLOCKCHAIN"),
		Value: defaultBlockchain,
	}

	FundingVaultId = &cli.StringFlag{
		Usage: "Vault funding the gas of asset vaults, gas management is disabled if unset",
		Name:  "funding-vault-id", EnvVars: env("FUNDING_VAULT_ID"),
	}

	GasAssetSymbol = &cli.StringFlag{
		Usage: "Symbol of the asset paying for gas",
		Name:  "gas-asset", EnvVars: env("GAS_ASSET"),
		Value: defaultGasAssetSymbol,
	}

	GasThreshold = &cli.StringFlag{
		Usage: "Gas balance below which a vault is funded before minting or burning",
		Name:  "gas-threshold", EnvVars: env("GAS_THRESHOLD"),
		Value: defaultGasThreshold,
	}

	GasTopUpAmount = &cli.StringFlag{
		Usage: "Amount of gas sent to an underfunded vault",
		Name:  "gas-top-up-amount", EnvVars: env("GAS_TOP_UP_AMOUNT"),
		Value: defaultGasTopUpAmount,
	}

	GasFundingPollInterval = &cli.DurationFlag{
		Usage: "Interval between status polls of a gas funding transfer",
		Name:  "gas-funding-poll-interval", EnvVars: env("GAS_FUNDING_POLL_INTERVAL"),
		Value: defaultGasFundingPollInterval,
	}

	GasFundingMaxAttempts = &cli.IntFlag{
		Usage: "Maximum number of status polls of a gas funding transfer",
		Name:  "gas-funding-max-attempts", EnvVars: env("GAS_FUNDING_MAX_ATTEMPTS"),
		Value: defaultGasFundingMaxAttempts,
	}

	GasCacheTTL = &cli.DurationFlag{
		Usage: "How long a vault gas balance is cached",
		Name:  "gas-cache-ttl", EnvVars: env("GAS_CACHE_TTL"),
		Value: defaultGasCacheTTL,
	}

	MonitorInitialDelay = &cli.DurationFlag{
		Usage: "Delay before the first status poll of a provider task",
		Name:  "monitor-initial-delay", EnvVars: env("MONITOR_INITIAL_DELAY"),
		Value: defaultMonitorInitialDelay,
	}

	MonitorStepDelay = &cli.DurationFlag{
		Usage: "Delay added after every status poll of a provider task",
		Name:  "monitor-step-delay", EnvVars: env("MONITOR_STEP_DELAY"),
		Value: defaultMonitorStepDelay,
	}

	MonitorMaxDelay = &cli.DurationFlag{
		Usage: "Upper bound of the delay between status polls",
		Name:  "monitor-max-delay", EnvVars: env("MONITOR_MAX_DELAY"),
		Value: defaultMonitorMaxDelay,
	}

	MonitorMaxAttempts = &cli.IntFlag{
		Usage: "Number of status polls after which reconciliation gives up",
		Name:  "monitor-max-attempts", EnvVars: env("MONITOR_MAX_ATTEMPTS"),
		Value: defaultMonitorMaxAttempts,
	}

	TransientCooldown = &cli.DurationFlag{
		Usage: "Extra delay after a transient provider error",
		Name:  "monitor-transient-cooldown", EnvVars: env("MONITOR_TRANSIENT_COOLDOWN"),
		Value: defaultTransientCooldown,
	}

	RateLimitCooldown = &cli.DurationFlag{
		Usage: "Delay after a rate limited or unauthorized provider response",
		Name:  "monitor-rate-limit-cooldown", EnvVars: env("MONITOR_RATE_LIMIT_COOLDOWN"),
		Value: defaultRateLimitCooldown,
	}

	MilestoneSubmitted = &cli.IntFlag{
		Usage: "Poll attempt at which a pending task is reported as submitted",
		Name:  "milestone-submitted", EnvVars: env("MILESTONE_SUBMITTED"),
		Value: defaultMilestoneSubmitted,
	}

	MilestonePropagating = &cli.IntFlag{
		Usage: "Poll attempt at which a pending task is reported as propagating",
		Name:  "milestone-propagating", EnvVars: env("MILESTONE_PROPAGATING"),
		Value: defaultMilestonePropagating,
	}

	MilestoneFinalizing = &cli.IntFlag{
		Usage: "Poll attempt at which a pending task is reported as finalizing",
		Name:  "milestone-finalizing", EnvVars: env("MILESTONE_FINALIZING"),
		Value: defaultMilestoneFinalizing,
	}

	ResyncCooldown = &cli.DurationFlag{
		Usage: "Minimum age of a custody record before a read resyncs it with the provider",
		Name:  "resync-cooldown", EnvVars: env("RESYNC_COOLDOWN"),
		Value: defaultResyncCooldown,
	}

	ResyncInterval = &cli.DurationFlag{
		Usage: "Interval of the background resync sweep, 0 disables it",
		Name:  "resync-interval", EnvVars: env("RESYNC_INTERVAL"),
		Value: defaultResyncInterval,
	}

	ExecutionWorkers = &cli.IntFlag{
		Usage: "Number of workers executing approved operations in background",
		Name:  "execution-workers", EnvVars: env("EXECUTION_WORKERS"),
		Value: defaultExecutionWorkers,
	}

	WebhookUrl = &cli.StringFlag{
		Usage: "Url notified of custody and operation events, notifications are disabled if unset",
		Name:  "webhook-url", EnvVars: env("WEBHOOK_URL"),
	}

	WebhookTimeout = &cli.DurationFlag{
		Usage: "Timeout of a webhook delivery attempt",
		Name:  "webhook-timeout", EnvVars: env("WEBHOOK_TIMEOUT"),
		Value: defaultWebhookTimeout,
	}

	OtelCollectorEndpoint = &cli.StringFlag{
		Usage: "OpenTelemetry collector endpoint",
		Name:  "collector-endpoint", EnvVars: env("COLLECTOR_ENDPOINT"),
	}

	OtelPushInterval = &cli.DurationFlag{
		Usage: "OpenTelemetry push interval",
		Name:  "otel-push-interval", EnvVars: env("OTEL_PUSH_INTERVAL"),
		Value: defaultOtelPushInterval,
	}
)

var Flags = []cli.Flag{
	Datadir,
	LogLevel,
	MetricsPort,
	DbType,
	DbUrl,
	AuditDbType,
	AuditDbUrl,
	SchedulerType,
	LiveStoreType,
	RedisUrl,
	RedisTxNumOfRetries,
	ProviderType,
	ProviderUrl,
	ProviderApiKey,
	ProviderTimeout,
	ProviderRateLimit,
	SimulatedCompleteAfter,
	Blockchain,
	FundingVaultId,
	GasAssetSymbol,
	GasThreshold,
	GasTopUpAmount,
	GasFundingPollInterval,
	GasFundingMaxAttempts,
	GasCacheTTL,
	MonitorInitialDelay,
	MonitorStepDelay,
	MonitorMaxDelay,
	MonitorMaxAttempts,
	TransientCooldown,
	RateLimitCooldown,
	MilestoneSubmitted,
	MilestonePropagating,
	MilestoneFinalizing,
	ResyncCooldown,
	ResyncInterval,
	ExecutionWorkers,
	WebhookUrl,
	WebhookTimeout,
	OtelCollectorEndpoint,
	OtelPushInterval,
}

func LoadConfig(c *cli.Context) (*Config, error) {
	if err := initDatadir(c); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbPath := filepath.Join(c.String(Datadir.Name), "db")

	var dbUrl string
	if c.String(DbType.Name) == "postgres" {
		dbUrl = c.String(DbUrl.Name)
		if dbUrl == "" {
			return nil, fmt.Errorf("db type set to 'postgres' but db url is missing")
		}
	}

	var auditDbUrl string
	if c.String(AuditDbType.Name) == "postgres" {
		auditDbUrl = c.String(AuditDbUrl.Name)
		if auditDbUrl == "" {
			auditDbUrl = c.String(DbUrl.Name)
		}
		if auditDbUrl == "" {
			return nil, fmt.Errorf("audit db type set to 'postgres' but audit db url is missing")
		}
	}

	var redisUrl string
	if c.String(LiveStoreType.Name) == "redis" {
		redisUrl = c.String(RedisUrl.Name)
		if redisUrl == "" {
			return nil, fmt.Errorf("live store type set to 'redis' but redis url is missing")
		}
	}

	var providerUrl string
	if c.String(ProviderType.Name) == "http" {
		providerUrl = c.String(ProviderUrl.Name)
		if providerUrl == "" {
			return nil, fmt.Errorf("provider type set to 'http' but provider url is missing")
		}
	}

	gasThreshold, err := decimal.NewFromString(c.String(GasThreshold.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid gas threshold: %s", err)
	}
	gasTopUpAmount, err := decimal.NewFromString(c.String(GasTopUpAmount.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid gas top up amount: %s", err)
	}

	return &Config{
		Datadir:                c.String(Datadir.Name),
		LogLevel:               c.Int(LogLevel.Name),
		MetricsPort:            uint32(c.Uint(MetricsPort.Name)),
		DbType:                 c.String(DbType.Name),
		AuditDbType:            c.String(AuditDbType.Name),
		DbDir:                  dbPath,
		DbUrl:                  dbUrl,
		AuditDbUrl:             auditDbUrl,
		SchedulerType:          c.String(SchedulerType.Name),
		LiveStoreType:          c.String(LiveStoreType.Name),
		RedisUrl:               redisUrl,
		RedisTxNumOfRetries:    c.Int(RedisTxNumOfRetries.Name),
		ProviderType:           c.String(ProviderType.Name),
		ProviderUrl:            providerUrl,
		ProviderApiKey:         c.String(ProviderApiKey.Name),
		ProviderTimeout:        c.Duration(ProviderTimeout.Name),
		ProviderRateLimit:      c.Float64(ProviderRateLimit.Name),
		SimulatedCompleteAfter: c.Int(SimulatedCompleteAfter.Name),
		Blockchain:             c.String(Blockchain.Name),
		FundingVaultId:         c.String(FundingVaultId.Name),
		GasAssetSymbol:         c.String(GasAssetSymbol.Name),
		GasThreshold:           gasThreshold,
		GasTopUpAmount:         gasTopUpAmount,
		GasFundingPollInterval: c.Duration(GasFundingPollInterval.Name),
		GasFundingMaxAttempts:  c.Int(GasFundingMaxAttempts.Name),
		GasCacheTTL:            c.Duration(GasCacheTTL.Name),
		MonitorInitialDelay:    c.Duration(MonitorInitialDelay.Name),
		MonitorStepDelay:       c.Duration(MonitorStepDelay.Name),
		MonitorMaxDelay:        c.Duration(MonitorMaxDelay.Name),
		MonitorMaxAttempts:     c.Int(MonitorMaxAttempts.Name),
		TransientCooldown:      c.Duration(TransientCooldown.Name),
		RateLimitCooldown:      c.Duration(RateLimitCooldown.Name),
		MilestoneSubmitted:     c.Int(MilestoneSubmitted.Name),
		MilestonePropagating:   c.Int(MilestonePropagating.Name),
		MilestoneFinalizing:    c.Int(MilestoneFinalizing.Name),
		ResyncCooldown:         c.Duration(ResyncCooldown.Name),
		ResyncInterval:         c.Duration(ResyncInterval.Name),
		ExecutionWorkers:       c.Int(ExecutionWorkers.Name),
		WebhookUrl:             c.String(WebhookUrl.Name),
		WebhookTimeout:         c.Duration(WebhookTimeout.Name),
		OtelCollectorEndpoint:  c.String(OtelCollectorEndpoint.Name),
		OtelPushInterval:       c.Duration(OtelPushInterval.Name),
	}, nil
}

func initDatadir(c *cli.Context) error {
	datadir := c.String(Datadir.Name)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0o755)
	}
	return nil
}

func (c *Config) Validate() error {
	if !supportedAuditDbs.supports(c.AuditDbType) {
		return fmt.Errorf(
			"audit db type not supported, please select one of: %s",
			supportedAuditDbs,
		)
	}
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf(
			"scheduler type not supported, please select one of: %s",
			supportedSchedulers,
		)
	}
	if !supportedLiveStores.supports(c.LiveStoreType) {
		return fmt.Errorf(
			"live store type not supported, please select one of: %s",
			supportedLiveStores,
		)
	}
	if !supportedProviders.supports(c.ProviderType) {
		return fmt.Errorf(
			"provider type not supported, please select one of: %s",
			supportedProviders,
		)
	}
	if c.MonitorMaxAttempts < 1 {
		return fmt.Errorf("invalid monitor max attempts, must be at least 1")
	}
	if c.MonitorInitialDelay <= 0 {
		return fmt.Errorf("invalid monitor initial delay, must be positive")
	}
	if c.MonitorStepDelay < 0 {
		return fmt.Errorf("invalid monitor step delay, must not be negative")
	}
	if c.MonitorMaxDelay < c.MonitorInitialDelay {
		return fmt.Errorf("monitor max delay must be greater than or equal to initial delay")
	}
	if c.GasThreshold.IsNegative() {
		return fmt.Errorf("gas threshold must not be negative")
	}
	if c.FundingVaultId != "" && !c.GasTopUpAmount.IsPositive() {
		return fmt.Errorf("gas top up amount must be positive when a funding vault is set")
	}
	if c.GasFundingMaxAttempts < 1 {
		return fmt.Errorf("invalid gas funding max attempts, must be at least 1")
	}
	if c.ExecutionWorkers < 1 {
		return fmt.Errorf("invalid number of execution workers, must be at least 1")
	}
	if c.ResyncInterval <= 0 {
		log.Debugf("resync sweep is disabled")
	}
	if c.FundingVaultId == "" {
		log.Debugf("gas management is disabled")
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.liveStoreService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	if err := c.providerService(); err != nil {
		return err
	}
	if err := c.notifierService(); err != nil {
		return err
	}
	if err := c.metricsService(); err != nil {
		return err
	}
	c.auditStream = eventbus.NewInMemoryAuditStream(auditStreamBufferSize)
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) RepoManager() ports.RepoManager {
	return c.repo
}

func (c *Config) MetricsRegistry() *prometheus.Registry {
	return c.metricsRegistry
}

func (c *Config) repoManager() error {
	var svc ports.RepoManager
	var err error
	var auditStoreConfig []interface{}
	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.DbType {
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir}
	case "postgres":
		dataStoreConfig = []interface{}{c.DbUrl, true}
	default:
		return fmt.Errorf("unknown db type")
	}

	switch c.AuditDbType {
	case "badger":
		auditStoreConfig = []interface{}{filepath.Join(c.DbDir, "audit"), logger}
	case "sqlite":
		auditStoreConfig = []interface{}{c.DbDir}
	case "postgres":
		auditStoreConfig = []interface{}{c.AuditDbUrl, true}
	default:
		return fmt.Errorf("unknown audit db type")
	}

	svc, err = db.NewService(db.ServiceConfig{
		AuditStoreType:   c.AuditDbType,
		DataStoreType:    c.DbType,
		AuditStoreConfig: auditStoreConfig,
		DataStoreConfig:  dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) liveStoreService() error {
	var liveStoreSvc ports.LiveStore
	var err error
	switch c.LiveStoreType {
	case "inmemory":
		liveStoreSvc = inmemorylivestore.NewLiveStore(gasCacheSize, c.GasCacheTTL)
	case "redis":
		redisOpts, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		liveStoreSvc = redislivestore.NewLiveStore(
			rdb, c.RedisTxNumOfRetries, c.monitorLifetime(), c.GasCacheTTL,
		)
	default:
		err = fmt.Errorf("unknown liveStore type")
	}
	if err != nil {
		return err
	}

	c.liveStore = liveStoreSvc
	return nil
}

func (c *Config) schedulerService() error {
	var svc ports.SchedulerService
	var err error
	switch c.SchedulerType {
	case "gocron":
		svc = timescheduler.NewScheduler()
	case "ticker":
		svc = tickerscheduler.NewScheduler()
	default:
		err = fmt.Errorf("unknown scheduler type")
	}
	if err != nil {
		return err
	}

	c.scheduler = svc
	return nil
}

func (c *Config) providerService() error {
	var svc ports.CustodyProvider
	var err error
	switch c.ProviderType {
	case "http":
		svc, err = custodyprovider.NewClient(
			c.ProviderUrl, c.ProviderApiKey,
			custodyprovider.WithTimeout(c.ProviderTimeout),
			custodyprovider.WithRateLimit(c.ProviderRateLimit, int(c.ProviderRateLimit)),
		)
	case "simulated":
		opts := []custodyprovider.SimulatedOption{
			custodyprovider.WithCompleteAfter(c.SimulatedCompleteAfter),
		}
		if c.FundingVaultId != "" {
			// enough gas to fund a thousand vaults.
			opts = append(opts, custodyprovider.WithFundedVault(
				c.FundingVaultId, c.GasAssetSymbol, c.GasTopUpAmount.Mul(decimal.NewFromInt(1000)),
			))
		}
		svc = custodyprovider.NewSimulatedProvider(opts...)
	default:
		err = fmt.Errorf("unknown provider type")
	}
	if err != nil {
		return err
	}

	c.provider = svc
	return nil
}

func (c *Config) notifierService() error {
	if c.WebhookUrl == "" {
		return nil
	}

	svc, err := webhook.NewNotifier(c.WebhookUrl, webhook.WithTimeout(c.WebhookTimeout))
	if err != nil {
		return err
	}
	c.notifier = svc
	return nil
}

func (c *Config) metricsService() error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	c.metricsRegistry = reg
	c.metrics = metrics.NewCollector(reg)
	return nil
}

func (c *Config) appService() error {
	if c.repo == nil {
		return fmt.Errorf("config not validated")
	}

	svc, err := application.NewService(
		c.repo, c.provider, c.liveStore, c.scheduler, c.notifier, c.auditStream, c.metrics,
		application.Config{
			Blockchain:             c.Blockchain,
			FundingVaultId:         c.FundingVaultId,
			GasAssetSymbol:         c.GasAssetSymbol,
			GasThreshold:           c.GasThreshold,
			GasTopUpAmount:         c.GasTopUpAmount,
			GasFundingPollInterval: c.GasFundingPollInterval,
			GasFundingMaxAttempts:  c.GasFundingMaxAttempts,
			Monitor: application.MonitorConfig{
				InitialDelay:      c.MonitorInitialDelay,
				StepDelay:         c.MonitorStepDelay,
				MaxDelay:          c.MonitorMaxDelay,
				MaxAttempts:       c.MonitorMaxAttempts,
				TransientCooldown: c.TransientCooldown,
				RateLimitCooldown: c.RateLimitCooldown,
				Milestones: application.DefaultMilestones(
					c.MilestoneSubmitted, c.MilestonePropagating, c.MilestoneFinalizing,
				),
			},
			ResyncCooldown:   c.ResyncCooldown,
			ResyncInterval:   c.ResyncInterval,
			ExecutionWorkers: c.ExecutionWorkers,
		},
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

// monitorLifetime bounds how long a monitor can run, so that registrations of a
// crashed instance eventually expire.
// A transient error adds its cooldown on top of the step delay.
func (c *Config) monitorLifetime() time.Duration {
	worstDelay := c.MonitorMaxDelay + c.TransientCooldown
	if c.RateLimitCooldown > worstDelay {
		worstDelay = c.RateLimitCooldown
	}
	return c.MonitorInitialDelay + time.Duration(c.MonitorMaxAttempts)*worstDelay + time.Minute
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
