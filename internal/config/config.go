package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string
	// WSAllowedOrigins restricts dashboard websocket origins; empty allows any.
	WSAllowedOrigins []string

	BoardHost             string
	BoardPort             int
	BoardConnectTimeout   time.Duration
	BoardReadyTimeout     time.Duration
	BoardSamplingInterval time.Duration
	TempPin               int
	MoisturePin           int
	LightPin              int

	Driver          string
	DSN             string
	Path            string
	DBHost          string
	DBPort          int
	DBName          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogSQL          bool

	PersistPolicy       string
	PersistQueueSize    int
	PersistMaxRetries   int
	PersistWriteTimeout time.Duration

	RedisAddr string

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTTopic    string
}

// BoardAddr is the host:port of the board's Firmata listener.
func (c Config) BoardAddr() string {
	return net.JoinHostPort(c.BoardHost, strconv.Itoa(c.BoardPort))
}

// PostgresDSN returns DB_DSN, or a URL built from DB_HOST, DB_PORT and DB_NAME.
func (c Config) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s/%s", net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)), c.DBName)
}

func LoadFromEnv() (Config, error) {
	appEnv := envString("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:       appEnv,
		LogLevel:     level,
		HTTPAddr:     envString("HTTP_ADDR", ":3000"),
		BoardHost:    envString("BOARD_HOST", "192.168.1.9"),
		Driver:       envString("DB_DRIVER", "sqlite3"),
		DSN:          envString("DB_DSN", ""),
		Path:         envString("SQLITE_PATH", "data/plant_monitoring_system.db"),
		DBHost:       envString("DB_HOST", "localhost"),
		DBName:       envString("DB_NAME", "plant_monitoring_system"),
		RedisAddr:    envString("REDIS_ADDR", ""),
		MQTTBroker:   envString("MQTT_BROKER", ""),
		MQTTClientID: envString("MQTT_CLIENT_ID", "mkr1000-server"),
		MQTTTopic:    envString("MQTT_TOPIC", "plants/measurements"),
	}

	switch cfg.Driver {
	case "sqlite3", "pgx":
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: sqlite3, pgx)", cfg.Driver)
	}

	cfg.WSAllowedOrigins = envList("WS_ALLOWED_ORIGINS")

	cfg.PersistPolicy = strings.ToLower(envString("PERSIST_POLICY", "drop"))
	switch cfg.PersistPolicy {
	case "drop", "retry":
	default:
		return Config{}, fmt.Errorf("invalid PERSIST_POLICY %q (allowed: drop, retry)", cfg.PersistPolicy)
	}

	ints := []struct {
		name string
		def  int
		min  int
		dst  *int
	}{
		{"BOARD_PORT", 3030, 1, &cfg.BoardPort},
		{"BOARD_TEMP_PIN", 1, 0, &cfg.TempPin},
		{"BOARD_MOISTURE_PIN", 2, 0, &cfg.MoisturePin},
		{"BOARD_LIGHT_PIN", 3, 0, &cfg.LightPin},
		{"DB_PORT", 5432, 1, &cfg.DBPort},
		{"DB_MAX_OPEN_CONNS", 1, 0, &cfg.MaxOpenConns},
		{"DB_MAX_IDLE_CONNS", 1, 0, &cfg.MaxIdleConns},
		{"PERSIST_QUEUE_SIZE", 256, 1, &cfg.PersistQueueSize},
		{"PERSIST_MAX_RETRIES", 5, 0, &cfg.PersistMaxRetries},
		{"MQTT_PORT", 1883, 1, &cfg.MQTTPort},
	}
	for _, v := range ints {
		n, err := envInt(v.name, v.def)
		if err != nil {
			return Config{}, err
		}
		if n < v.min {
			return Config{}, fmt.Errorf("invalid %s %d (must be >= %d)", v.name, n, v.min)
		}
		*v.dst = n
	}
	for _, pin := range []struct {
		name string
		val  int
	}{
		{"BOARD_TEMP_PIN", cfg.TempPin},
		{"BOARD_MOISTURE_PIN", cfg.MoisturePin},
		{"BOARD_LIGHT_PIN", cfg.LightPin},
	} {
		if pin.val > 15 {
			return Config{}, fmt.Errorf("invalid %s %d (analog pins are 0-15)", pin.name, pin.val)
		}
	}
	if cfg.TempPin == cfg.MoisturePin || cfg.TempPin == cfg.LightPin || cfg.MoisturePin == cfg.LightPin {
		return Config{}, fmt.Errorf("sensor pins must be distinct (temp A%d, moisture A%d, light A%d)",
			cfg.TempPin, cfg.MoisturePin, cfg.LightPin)
	}

	durations := []struct {
		name string
		def  string
		dst  *time.Duration
	}{
		{"BOARD_CONNECT_TIMEOUT", "10s", &cfg.BoardConnectTimeout},
		{"BOARD_READY_TIMEOUT", "30s", &cfg.BoardReadyTimeout},
		{"BOARD_SAMPLING_INTERVAL", "250ms", &cfg.BoardSamplingInterval},
		{"DB_CONN_MAX_LIFETIME", "0s", &cfg.ConnMaxLifetime},
		{"PERSIST_WRITE_TIMEOUT", "5s", &cfg.PersistWriteTimeout},
	}
	for _, v := range durations {
		d, err := envDuration(v.name, v.def)
		if err != nil {
			return Config{}, err
		}
		*v.dst = d
	}

	logSQL := envString("DB_LOG_SQL", "false")
	cfg.LogSQL, err = strconv.ParseBool(logSQL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_LOG_SQL %q: %w", logSQL, err)
	}

	return cfg, nil
}

func envString(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

// envList splits a comma-separated variable, dropping blank entries.
func envList(name string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(name), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envInt(name string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return n, nil
}

func envDuration(name, def string) (time.Duration, error) {
	s := envString(name, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q (must not be negative)", name, s)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
