package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g. FLEET_TICK_INTERVAL.
const EnvPrefix = "FLEET_"

type Config struct {
	HTTPAddr string `koanf:"http_addr"`

	// Topology sources. DatabaseURL wins over TopologyDir when both are set.
	DatabaseURL string `koanf:"database_url"`
	TopologyDir string `koanf:"topology_dir"`

	// Optional road graph file. Empty means straight-line routing only.
	RoadGraphFile string `koanf:"road_graph_file"`

	NATSURL           string `koanf:"nats_url"`
	NATSSubjectPrefix string `koanf:"nats_subject_prefix"`
	LogNATSSubjects   bool   `koanf:"log_nats_subjects"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// Metrics listen address (e.g. ":9102"). Empty keeps /metrics on the API server only.
	MetricsAddr string `koanf:"metrics_addr"`

	TickInterval      time.Duration `koanf:"tick_interval"`
	BroadcastInterval time.Duration `koanf:"broadcast_interval"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`
	ErrorBackoff      time.Duration `koanf:"error_backoff"`

	UrbanSpeedKmh     float64 `koanf:"urban_speed_kmh"`
	FallbackWaypoints int     `koanf:"fallback_waypoints"`

	// Comma separated CORS origins.
	AllowedOrigins string `koanf:"allowed_origins"`
	LogLevel       string `koanf:"log_level"`
	TZ             string `koanf:"tz"`

	Location *time.Location `koanf:"-"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		HTTPAddr:          ":8000",
		TopologyDir:       "./networks",
		NATSSubjectPrefix: "fleet",
		TickInterval:      time.Second,
		BroadcastInterval: 2 * time.Second,
		SweepInterval:     30 * time.Second,
		ErrorBackoff:      5 * time.Second,
		UrbanSpeedKmh:     25,
		FallbackWaypoints: 10,
		AllowedOrigins:    "*",
		LogLevel:          "info",
		Location:          time.Local,
	}
}

// Load reads .env, the optional config file at path, then FLEET_* variables.
// The plain DATABASE_URL, PG_DSN, NATS_URL, REDIS_ADDR and METRICS_ADDR
// variables fill whatever is still unset.
func Load(path string) (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	k := koanf.New(".")
	if path != "" {
		parser, err := FileParser(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	}
	if cfg.NATSURL == "" {
		cfg.NATSURL = os.Getenv("NATS_URL")
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = os.Getenv("LOG_LEVEL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and resolves the time zone.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("invalid http_addr: %q", c.HTTPAddr)
	}
	for name, d := range map[string]time.Duration{
		"tick_interval":      c.TickInterval,
		"broadcast_interval": c.BroadcastInterval,
		"sweep_interval":     c.SweepInterval,
		"error_backoff":      c.ErrorBackoff,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %q", name, d.String())
		}
	}
	if c.UrbanSpeedKmh <= 0 {
		return fmt.Errorf("invalid urban_speed_kmh: %q", fmt.Sprint(c.UrbanSpeedKmh))
	}
	if c.FallbackWaypoints < 1 {
		return fmt.Errorf("invalid fallback_waypoints: %q", fmt.Sprint(c.FallbackWaypoints))
	}
	if c.DatabaseURL == "" && c.TopologyDir == "" {
		return fmt.Errorf("invalid topology source: set database_url or topology_dir")
	}
	if c.TZ == "" {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.TZ)
		if err != nil {
			return fmt.Errorf("invalid TZ: %v", err)
		}
		c.Location = loc
	}
	return nil
}

// Origins splits AllowedOrigins.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// FileParser picks a koanf parser from the file extension.
func FileParser(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
