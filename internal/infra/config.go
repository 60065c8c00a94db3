package infra

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix namespaces environment overrides, e.g. MEDIAFLOW_WORKER_SIZE.
const EnvPrefix = "MEDIAFLOW_"

// Config represents the merged application configuration.
type Config struct {
	App       AppConfig       `koanf:"app"`
	HTTP      HTTPConfig      `koanf:"http"`
	Store     StoreConfig     `koanf:"store"`
	Blob      BlobConfig      `koanf:"blob"`
	Quota     QuotaConfig     `koanf:"quota"`
	Retention RetentionConfig `koanf:"retention"`
	Worker    WorkerConfig    `koanf:"worker"`
	Auth      AuthConfig      `koanf:"auth"`
	GeoIP     GeoIPConfig     `koanf:"geoip"`
	RemoveBG  RemoveBGConfig  `koanf:"removebg"`
	Tools     ToolsConfig     `koanf:"tools"`
}

type AppConfig struct {
	Env      string `koanf:"env"`
	LogLevel string `koanf:"log_level"`
}

type HTTPConfig struct {
	Port            string        `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimitPerMin int           `koanf:"rate_limit_per_min"`
	PublicBaseURL   string        `koanf:"public_base_url"`
}

// StoreConfig selects the job/account/asset repository backend.
type StoreConfig struct {
	Backend     string `koanf:"backend"`
	DatabaseURL string `koanf:"database_url"`
	PebblePath  string `koanf:"pebble_path"`
	MaxConns    int32  `koanf:"max_conns"`
}

// BlobConfig selects where uploaded inputs and results live.
type BlobConfig struct {
	Backend string    `koanf:"backend"`
	Dir     string    `koanf:"dir"`
	S3      S3Config  `koanf:"s3"`
	GCS     GCSConfig `koanf:"gcs"`
}

type S3Config struct {
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Prefix    string `koanf:"prefix"`
	PathStyle bool   `koanf:"path_style"`
}

type GCSConfig struct {
	Bucket          string `koanf:"bucket"`
	Prefix          string `koanf:"prefix"`
	CredentialsFile string `koanf:"credentials_file"`
}

// PlanQuota holds the limits of one plan. Daily <= 0 means unlimited.
type PlanQuota struct {
	Daily      int `koanf:"daily"`
	Concurrent int `koanf:"concurrent"`
}

type QuotaConfig struct {
	Free PlanQuota `koanf:"free"`
	Pro  PlanQuota `koanf:"pro"`
}

type RetentionConfig struct {
	Window    time.Duration `koanf:"window"`
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
}

type WorkerConfig struct {
	Size         int           `koanf:"size"`
	MaxAttempts  int           `koanf:"max_attempts"`
	DeadTimeout  time.Duration `koanf:"dead_timeout"`
	BackoffBase  time.Duration `koanf:"backoff_base"`
	BackoffMax   time.Duration `koanf:"backoff_max"`
	ImageTimeout time.Duration `koanf:"image_timeout"`
	VideoTimeout time.Duration `koanf:"video_timeout"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
	Audience  string `koanf:"audience"`
	DevHeader bool   `koanf:"dev_header"`

	// OIDCIssuer enables RS256 ID tokens from an OpenID provider.
	OIDCIssuer   string `koanf:"oidc_issuer"`
	OIDCAudience string `koanf:"oidc_audience"`
}

type GeoIPConfig struct {
	DBPath string `koanf:"db_path"`
}

type RemoveBGConfig struct {
	URL     string        `koanf:"url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// ToolsConfig overrides the executables used by video and codec functions.
type ToolsConfig struct {
	FFmpeg  string `koanf:"ffmpeg"`
	FFprobe string `koanf:"ffprobe"`
	Cwebp   string `koanf:"cwebp"`
	Avifenc string `koanf:"avifenc"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		App: AppConfig{Env: "development", LogLevel: "info"},
		HTTP: HTTPConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitPerMin: 60,
		},
		Store: StoreConfig{Backend: "memory", PebblePath: "data/mediaflow.db", MaxConns: 10},
		Blob:  BlobConfig{Backend: "filesystem", Dir: "data/blobs", S3: S3Config{Region: "us-east-1"}},
		Quota: QuotaConfig{
			Free: PlanQuota{Daily: 3, Concurrent: 1},
			Pro:  PlanQuota{Daily: 0, Concurrent: 5},
		},
		Retention: RetentionConfig{Window: 24 * time.Hour, Interval: 10 * time.Minute, BatchSize: 500},
		Worker: WorkerConfig{
			Size:         4,
			MaxAttempts:  3,
			DeadTimeout:  2 * time.Minute,
			BackoffBase:  500 * time.Millisecond,
			BackoffMax:   10 * time.Second,
			ImageTimeout: 30 * time.Second,
			VideoTimeout: 60 * time.Second,
		},
		Auth:     AuthConfig{DevHeader: true},
		RemoveBG: RemoveBGConfig{Timeout: 30 * time.Second},
		Tools:    ToolsConfig{FFmpeg: "ffmpeg", FFprobe: "ffprobe", Cwebp: "cwebp", Avifenc: "avifenc"},
	}
}

// DefaultConfigAsMap flattens DefaultConfig into koanf keys.
func DefaultConfigAsMap() map[string]any {
	def := DefaultConfig()
	return map[string]any{
		"app.env":       def.App.Env,
		"app.log_level": def.App.LogLevel,

		"http.port":               def.HTTP.Port,
		"http.read_timeout":       def.HTTP.ReadTimeout,
		"http.write_timeout":      def.HTTP.WriteTimeout,
		"http.idle_timeout":       def.HTTP.IdleTimeout,
		"http.shutdown_timeout":   def.HTTP.ShutdownTimeout,
		"http.rate_limit_per_min": def.HTTP.RateLimitPerMin,
		"http.public_base_url":    def.HTTP.PublicBaseURL,

		"store.backend":      def.Store.Backend,
		"store.database_url": def.Store.DatabaseURL,
		"store.pebble_path":  def.Store.PebblePath,
		"store.max_conns":    def.Store.MaxConns,

		"blob.backend":              def.Blob.Backend,
		"blob.dir":                  def.Blob.Dir,
		"blob.s3.bucket":            def.Blob.S3.Bucket,
		"blob.s3.region":            def.Blob.S3.Region,
		"blob.s3.endpoint":          def.Blob.S3.Endpoint,
		"blob.s3.access_key":        def.Blob.S3.AccessKey,
		"blob.s3.secret_key":        def.Blob.S3.SecretKey,
		"blob.s3.prefix":            def.Blob.S3.Prefix,
		"blob.s3.path_style":        def.Blob.S3.PathStyle,
		"blob.gcs.bucket":           def.Blob.GCS.Bucket,
		"blob.gcs.prefix":           def.Blob.GCS.Prefix,
		"blob.gcs.credentials_file": def.Blob.GCS.CredentialsFile,

		"quota.free.daily":      def.Quota.Free.Daily,
		"quota.free.concurrent": def.Quota.Free.Concurrent,
		"quota.pro.daily":       def.Quota.Pro.Daily,
		"quota.pro.concurrent":  def.Quota.Pro.Concurrent,

		"retention.window":     def.Retention.Window,
		"retention.interval":   def.Retention.Interval,
		"retention.batch_size": def.Retention.BatchSize,

		"worker.size":          def.Worker.Size,
		"worker.max_attempts":  def.Worker.MaxAttempts,
		"worker.dead_timeout":  def.Worker.DeadTimeout,
		"worker.backoff_base":  def.Worker.BackoffBase,
		"worker.backoff_max":   def.Worker.BackoffMax,
		"worker.image_timeout": def.Worker.ImageTimeout,
		"worker.video_timeout": def.Worker.VideoTimeout,

		"auth.jwt_secret": def.Auth.JWTSecret,
		"auth.issuer":     def.Auth.Issuer,
		"auth.audience":   def.Auth.Audience,
		"auth.dev_header": def.Auth.DevHeader,

		"auth.oidc_issuer":   def.Auth.OIDCIssuer,
		"auth.oidc_audience": def.Auth.OIDCAudience,

		"geoip.db_path": def.GeoIP.DBPath,

		"removebg.url":     def.RemoveBG.URL,
		"removebg.api_key": def.RemoveBG.APIKey,
		"removebg.timeout": def.RemoveBG.Timeout,

		"tools.ffmpeg":  def.Tools.FFmpeg,
		"tools.ffprobe": def.Tools.FFprobe,
		"tools.cwebp":   def.Tools.Cwebp,
		"tools.avifenc": def.Tools.Avifenc,
	}
}

// legacyEnv keeps the unprefixed variable names deployments already set.
var legacyEnv = map[string]string{
	"APP_ENV":        "app.env",
	"PORT":           "http.port",
	"DATABASE_URL":   "store.database_url",
	"JWT_SECRET":     "auth.jwt_secret",
	"GEOIP_DB_PATH":  "geoip.db_path",
	"REMOVEBG_URL":   "removebg.url",
	"REMOVEBG_TOKEN": "removebg.api_key",
}

// LoadOptions controls where LoadConfig reads from.
type LoadOptions struct {
	// File is an optional YAML file; a missing file is skipped.
	File string
	// Flags are applied last. Only flags the user changed override values.
	Flags *pflag.FlagSet
	// DotEnv files are loaded into the process environment first.
	DotEnv []string
}

// LoadConfig merges defaults, the YAML file, environment variables and flags,
// in that order, and validates the result.
func LoadConfig(opts LoadOptions) (*Config, error) {
	_ = godotenv.Load(opts.DotEnv...)

	k := koanf.New(".")
	defaults := DefaultConfigAsMap()
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if opts.File != "" {
		if _, err := os.Stat(opts.File); err == nil {
			if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: load %s: %w", opts.File, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", opts.File, err)
		}
	}

	legacy := map[string]any{}
	for name, key := range legacyEnv {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			legacy[key] = v
		}
	}
	if len(legacy) > 0 {
		if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
			return nil, fmt.Errorf("config: load legacy env: %w", err)
		}
	}

	envKeys := envKeyIndex(defaults)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(name string) string {
		return envKeys[strings.ToLower(strings.TrimPrefix(name, EnvPrefix))]
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.Provider(opts.Flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("config: load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKeyIndex maps "worker_dead_timeout" style suffixes back to their dotted
// keys, so segments that contain underscores survive the env round trip.
// Unknown names map to "" and are dropped by koanf.
func envKeyIndex(defaults map[string]any) map[string]string {
	idx := make(map[string]string, len(defaults))
	for key := range defaults {
		idx[strings.ReplaceAll(key, ".", "_")] = key
	}
	return idx
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string
	switch c.Store.Backend {
	case "memory", "pebble":
	case "postgres":
		if strings.TrimSpace(c.Store.DatabaseURL) == "" {
			errs = append(errs, "store.database_url is required for the postgres backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store.backend %q", c.Store.Backend))
	}
	switch c.Blob.Backend {
	case "filesystem", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, "blob.s3.bucket is required for the s3 backend")
		}
	case "gcs":
		if c.Blob.GCS.Bucket == "" {
			errs = append(errs, "blob.gcs.bucket is required for the gcs backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown blob.backend %q", c.Blob.Backend))
	}
	if c.Quota.Free.Concurrent < 1 || c.Quota.Pro.Concurrent < 1 {
		errs = append(errs, "quota concurrency limits must be at least 1")
	}
	if c.Worker.Size < 1 {
		errs = append(errs, "worker.size must be at least 1")
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, "worker.max_attempts must be at least 1")
	}
	if c.Worker.DeadTimeout <= 0 {
		errs = append(errs, "worker.dead_timeout must be positive")
	}
	if c.Retention.Window <= 0 || c.Retention.Interval <= 0 {
		errs = append(errs, "retention.window and retention.interval must be positive")
	}
	if !c.Auth.DevHeader && strings.TrimSpace(c.Auth.JWTSecret) == "" && strings.TrimSpace(c.Auth.OIDCIssuer) == "" {
		errs = append(errs, "auth.jwt_secret or auth.oidc_issuer is required when auth.dev_header is disabled")
	}
	if c.App.Env == "production" && c.Auth.DevHeader {
		errs = append(errs, "auth.dev_header must be disabled in production")
	}
	if len(errs) == 0 {
		return nil
	}
	sort.Strings(errs)
	return errors.New("config: " + strings.Join(errs, "; "))
}
