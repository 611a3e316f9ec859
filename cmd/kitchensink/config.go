package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "KITCHENSINK"

// config is the resolved configuration shared by every subcommand.
type config struct {
	Backend    string
	PageSize   int
	QdrantAddr string
	Collection string
	Neo4jURL   string
	Neo4jUser  string
	Neo4jPass  string
	Neo4jDB    string
	NATSURL    string

	Listen     string
	CORSOrigin string
	Rate       float64
	Burst      int

	BreakerThreshold int
	BreakerTimeout   time.Duration

	AssetBackend string
	AssetDir     string
	S3Endpoint   string
	S3Region     string
	S3Bucket     string
	S3Prefix     string
	S3AccessKey  string
	S3SecretKey  string
	S3Insecure   bool

	Directory string
	Prefs     string

	LogLevel  string
	LogFormat string
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "kitchensink")
	}
	return ".kitchensink"
}

// addConfigFlags registers every configuration key as a persistent flag and
// binds it to v, so that each key can also come from a config file or a
// KITCHENSINK_* environment variable.
func addConfigFlags(cmd *cobra.Command, v *viper.Viper) {
	data := defaultDataDir()
	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML config file")
	flags.String("backend", "memory", "record store backend (memory, qdrant, neo4j)")
	flags.Int("page-size", 50, "records fetched per page")
	flags.String("qdrant-addr", "localhost:6334", "Qdrant gRPC address")
	flags.String("collection", "kitchensink", "Qdrant collection")
	flags.String("neo4j-url", "neo4j://localhost:7687", "Neo4j URL")
	flags.String("neo4j-user", "neo4j", "Neo4j user")
	flags.String("neo4j-pass", "password", "Neo4j password")
	flags.String("neo4j-db", "", "Neo4j database (empty selects the default)")
	flags.String("nats-url", "", "NATS URL for subscription notifications (empty logs them instead)")
	flags.String("listen", ":8080", "HTTP listen address")
	flags.String("cors-origin", "*", "allowed CORS origin")
	flags.Float64("rate", 50, "API requests per second (0 disables limiting)")
	flags.Int("burst", 100, "API request burst")
	flags.Int("breaker-threshold", 5, "consecutive store failures that open the circuit breaker")
	flags.Duration("breaker-timeout", 30*time.Second, "how long the circuit breaker stays open")
	flags.String("asset-backend", "disk", "asset store backend (disk, s3)")
	flags.String("asset-dir", filepath.Join(data, "assets"), "disk asset directory")
	flags.String("s3-endpoint", "localhost:9000", "S3 endpoint host[:port]")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-bucket", "kitchensink", "S3 bucket")
	flags.String("s3-prefix", "assets", "S3 object key prefix")
	flags.String("s3-access-key", "", "S3 access key (falls back to AWS_/MINIO_ environment)")
	flags.String("s3-secret-key", "", "S3 secret key")
	flags.Bool("s3-insecure", false, "use plain HTTP for S3")
	flags.String("directory", filepath.Join(data, "users.yaml"), "YAML user directory")
	flags.String("prefs", filepath.Join(data, "prefs.yaml"), "YAML preferences file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	flags.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// loadConfig reads the optional config file and resolves every key.
func loadConfig(v *viper.Viper) (config, error) {
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := config{
		Backend:          strings.ToLower(v.GetString("backend")),
		PageSize:         v.GetInt("page-size"),
		QdrantAddr:       v.GetString("qdrant-addr"),
		Collection:       v.GetString("collection"),
		Neo4jURL:         v.GetString("neo4j-url"),
		Neo4jUser:        v.GetString("neo4j-user"),
		Neo4jPass:        v.GetString("neo4j-pass"),
		Neo4jDB:          v.GetString("neo4j-db"),
		NATSURL:          v.GetString("nats-url"),
		Listen:           v.GetString("listen"),
		CORSOrigin:       v.GetString("cors-origin"),
		Rate:             v.GetFloat64("rate"),
		Burst:            v.GetInt("burst"),
		BreakerThreshold: v.GetInt("breaker-threshold"),
		BreakerTimeout:   v.GetDuration("breaker-timeout"),
		AssetBackend:     strings.ToLower(v.GetString("asset-backend")),
		AssetDir:         v.GetString("asset-dir"),
		S3Endpoint:       v.GetString("s3-endpoint"),
		S3Region:         v.GetString("s3-region"),
		S3Bucket:         v.GetString("s3-bucket"),
		S3Prefix:         v.GetString("s3-prefix"),
		S3AccessKey:      v.GetString("s3-access-key"),
		S3SecretKey:      v.GetString("s3-secret-key"),
		S3Insecure:       v.GetBool("s3-insecure"),
		Directory:        v.GetString("directory"),
		Prefs:            v.GetString("prefs"),
		LogLevel:         v.GetString("log-level"),
		LogFormat:        strings.ToLower(v.GetString("log-format")),
	}
	switch cfg.Backend {
	case "memory", "qdrant", "neo4j":
	default:
		return config{}, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	switch cfg.AssetBackend {
	case "disk", "s3":
	default:
		return config{}, fmt.Errorf("unknown asset backend %q", cfg.AssetBackend)
	}
	return cfg, nil
}

// newLogger builds the slog handler selected by --log-format and --log-level.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
