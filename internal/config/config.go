package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverMySQL  = "mysql"
	StoreDriverSQLite = "sqlite"
)

type Config struct {
	RPCURL         string
	StoreDriver    string
	DBDSN          string
	SQLitePath     string
	HTTPAddr       string
	MetricsAddr    string
	RedisAddr      string
	CacheTTL       time.Duration
	OtelEndpoint   string
	GatewayAddress string
	Topic0         string
	ChainID        uint64
	StartBlock     uint64
	Confirmations  uint64
	BatchSize      uint64
	PollInterval   time.Duration
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroupID   string
	LogLevel       string
	LogFile        string
	LogMaxSizeMB   int
	LogMaxBackups  int
	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL, ok := source.Lookup("RPC_URL")
	if !ok || rpcURL == "" {
		return Config{}, errors.New("RPC_URL is required")
	}

	chainID, err := parseUintEnv(source, "CHAIN_ID", 0)
	if err != nil {
		return Config{}, err
	}
	if chainID == 0 {
		return Config{}, errors.New("CHAIN_ID is required")
	}

	startBlock, err := parseUintEnv(source, "START_BLOCK", 0)
	if err != nil {
		return Config{}, err
	}
	confirmations, err := parseUintEnv(source, "CONFIRMATIONS", 0)
	if err != nil {
		return Config{}, err
	}
	batchSize, err := parseUintEnv(source, "BATCH_SIZE", 1000)
	if err != nil {
		return Config{}, err
	}

	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	confirmTimeout, err := parseDurationEnv(source, "CONFIRM_TIMEOUT", 2*time.Minute)
	if err != nil {
		return Config{}, err
	}
	confirmPoll, err := parseDurationEnv(source, "CONFIRM_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDurationEnv(source, "CACHE_TTL", time.Hour)
	if err != nil {
		return Config{}, err
	}

	storeDriver := StoreDriverMySQL
	if raw, ok := source.Lookup("STORE_DRIVER"); ok && strings.TrimSpace(raw) != "" {
		storeDriver = strings.ToLower(strings.TrimSpace(raw))
	}
	switch storeDriver {
	case StoreDriverMySQL, StoreDriverSQLite:
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER: %q", storeDriver)
	}

	dbDSN, ok := source.Lookup("DB_DSN")
	if !ok || strings.TrimSpace(dbDSN) == "" {
		dbDSN = "root:@tcp(127.0.0.1:3306)/paylink?parseTime=true&multiStatements=true"
	}
	sqlitePath, ok := source.Lookup("SQLITE_PATH")
	if !ok || strings.TrimSpace(sqlitePath) == "" {
		sqlitePath = "paylink.db"
	}

	httpAddr := ":8080"
	if raw, ok := source.Lookup("HTTP_ADDR"); ok && raw != "" {
		httpAddr = raw
	}

	// Standalone scrape address for binaries without the read API.
	metricsAddr := ":9091"
	if raw, ok := source.Lookup("METRICS_ADDR"); ok && raw != "" {
		metricsAddr = raw
	}

	redisAddr := ""
	if raw, ok := source.Lookup("REDIS_ADDR"); ok {
		redisAddr = strings.TrimSpace(raw)
	}

	otelEndpoint, _ := source.Lookup("OTEL_EXPORTER_OTLP_ENDPOINT")
	otelEndpoint = strings.TrimSpace(otelEndpoint)

	gatewayAddress, _ := source.Lookup("GATEWAY_ADDRESS")
	gatewayAddress = strings.ToLower(strings.TrimSpace(gatewayAddress))
	topic0, _ := source.Lookup("TOPIC0")
	topic0 = strings.ToLower(strings.TrimSpace(topic0))

	kafkaBrokers, err := parseList(source, "KAFKA_BROKERS", "localhost:9092")
	if err != nil {
		return Config{}, err
	}
	kafkaTopic, ok := source.Lookup("KAFKA_TOPIC")
	if !ok || kafkaTopic == "" {
		kafkaTopic = "paylink-payments"
	}
	kafkaGroupID, ok := source.Lookup("KAFKA_GROUP_ID")
	if !ok || kafkaGroupID == "" {
		kafkaGroupID = "paylink-indexer"
	}

	logLevel, _ := source.Lookup("LOG_LEVEL")
	logFile, _ := source.Lookup("LOG_FILE")
	logMaxSize, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 3)
	if err != nil {
		return Config{}, err
	}

	return Config{
		RPCURL:         rpcURL,
		StoreDriver:    storeDriver,
		DBDSN:          dbDSN,
		SQLitePath:     sqlitePath,
		HTTPAddr:       httpAddr,
		MetricsAddr:    metricsAddr,
		RedisAddr:      redisAddr,
		CacheTTL:       cacheTTL,
		OtelEndpoint:   otelEndpoint,
		GatewayAddress: gatewayAddress,
		Topic0:         topic0,
		ChainID:        chainID,
		StartBlock:     startBlock,
		Confirmations:  confirmations,
		BatchSize:      batchSize,
		PollInterval:   pollInterval,
		KafkaBrokers:   kafkaBrokers,
		KafkaTopic:     kafkaTopic,
		KafkaGroupID:   kafkaGroupID,
		LogLevel:       logLevel,
		LogFile:        logFile,
		LogMaxSizeMB:   int(logMaxSize),
		LogMaxBackups:  int(logMaxBackups),
		ConfirmTimeout: confirmTimeout,
		ConfirmPoll:    confirmPoll,
	}, nil
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}

func parseList(source EnvSource, key string, defaultValue string) ([]string, error) {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = defaultValue
	}
	items := strings.Split(raw, ",")
	var values []string
	for _, item := range items {
		value := strings.TrimSpace(item)
		if value == "" {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	return values, nil
}
