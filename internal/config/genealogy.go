package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/genealogy/pkg/db"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// GenealogyConfig holds the tunables that may change without a restart.
type GenealogyConfig struct {
	Mutation    MutationConfig    `mapstructure:"mutation"`
	Traversal   TraversalConfig   `mapstructure:"traversal"`
	PublicToken PublicTokenConfig `mapstructure:"publicToken"`
	Lookup      LookupConfig      `mapstructure:"lookup"`
}

type MutationConfig struct {
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	InitialBackoff time.Duration `mapstructure:"initialBackoff"`
	MaxBackoff     time.Duration `mapstructure:"maxBackoff"`
}

// RetryPolicy converts the mutation settings for db.WithRetry.
func (c MutationConfig) RetryPolicy() db.RetryPolicy {
	return db.RetryPolicy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialBackoff,
		MaxInterval:     c.MaxBackoff,
	}
}

type TraversalConfig struct {
	// MaxDepth bounds the cycle check performed before an edge is written.
	MaxDepth int `mapstructure:"maxDepth"`
	// MaxNodes bounds a single read traversal. Zero disables the bound.
	MaxNodes int `mapstructure:"maxNodes"`
}

type PublicTokenConfig struct {
	// StaleReadWindow is how long a superseded token stays readable.
	StaleReadWindow time.Duration `mapstructure:"staleReadWindow"`
	// TTL expires current tokens after issuance. Zero disables expiry.
	TTL time.Duration `mapstructure:"ttl"`
}

type LookupConfig struct {
	CacheTTL time.Duration `mapstructure:"cacheTTL"`
}

func DefaultGenealogyConfig() GenealogyConfig {
	return GenealogyConfig{
		Mutation: MutationConfig{
			MaxAttempts:    3,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     200 * time.Millisecond,
		},
		Traversal: TraversalConfig{
			MaxDepth: 64,
			MaxNodes: 100_000,
		},
		PublicToken: PublicTokenConfig{
			StaleReadWindow: 30 * 24 * time.Hour,
		},
		Lookup: LookupConfig{
			CacheTTL: 5 * time.Minute,
		},
	}
}

type GenealogyConfigHolder struct {
	current atomic.Value // holds GenealogyConfig
}

// NewStaticGenealogyConfigHolder returns a holder that never reloads.
func NewStaticGenealogyConfigHolder(cfg GenealogyConfig) *GenealogyConfigHolder {
	holder := &GenealogyConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewGenealogyConfigHolder(cfg Config, log *zap.Logger) (*GenealogyConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("genealogy-config")

	v := viper.New()
	if cfg.GenealogyConfigPath != "" {
		v.SetConfigFile(cfg.GenealogyConfigPath)
	} else {
		v.SetConfigName("genealogy")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/genealogy/config")
		v.AddConfigPath("/etc/genealogy")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GENEALOGY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultGenealogyConfig()
	v.SetDefault("genealogy.mutation.maxAttempts", defaults.Mutation.MaxAttempts)
	v.SetDefault("genealogy.mutation.initialBackoff", defaults.Mutation.InitialBackoff)
	v.SetDefault("genealogy.mutation.maxBackoff", defaults.Mutation.MaxBackoff)
	v.SetDefault("genealogy.traversal.maxDepth", defaults.Traversal.MaxDepth)
	v.SetDefault("genealogy.traversal.maxNodes", defaults.Traversal.MaxNodes)
	v.SetDefault("genealogy.publicToken.staleReadWindow", defaults.PublicToken.StaleReadWindow)
	v.SetDefault("genealogy.publicToken.ttl", defaults.PublicToken.TTL)
	v.SetDefault("genealogy.lookup.cacheTTL", defaults.Lookup.CacheTTL)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	current, err := decodeGenealogyConfig(v)
	if err != nil {
		return nil, err
	}
	if err := validateGenealogyConfig(current); err != nil {
		return nil, err
	}

	holder := &GenealogyConfigHolder{}
	holder.current.Store(current)

	if !fileLoaded {
		log.Info("genealogy config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeGenealogyConfig(v)
		if err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateGenealogyConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// decodeGenealogyConfig goes through AllSettings so defaults are merged
// key by key with a partial file.
func decodeGenealogyConfig(v *viper.Viper) (GenealogyConfig, error) {
	var wrapper struct {
		Genealogy GenealogyConfig `mapstructure:"genealogy"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return GenealogyConfig{}, err
	}
	return wrapper.Genealogy, nil
}

func (h *GenealogyConfigHolder) Get() GenealogyConfig {
	if h == nil {
		return DefaultGenealogyConfig()
	}
	cfg, ok := h.current.Load().(GenealogyConfig)
	if !ok {
		return DefaultGenealogyConfig()
	}
	return cfg
}

func validateGenealogyConfig(cfg GenealogyConfig) error {
	if cfg.Mutation.MaxAttempts < 1 {
		return errors.New("genealogy.mutation.maxAttempts must be at least 1")
	}
	if cfg.Mutation.InitialBackoff < 0 || cfg.Mutation.MaxBackoff < 0 {
		return errors.New("genealogy.mutation backoff cannot be negative")
	}
	if cfg.Traversal.MaxDepth < 1 {
		return errors.New("genealogy.traversal.maxDepth must be at least 1")
	}
	if cfg.Traversal.MaxNodes < 0 {
		return errors.New("genealogy.traversal.maxNodes cannot be negative")
	}
	if cfg.PublicToken.StaleReadWindow < 0 {
		return errors.New("genealogy.publicToken.staleReadWindow cannot be negative")
	}
	if cfg.PublicToken.TTL < 0 {
		return errors.New("genealogy.publicToken.ttl cannot be negative")
	}
	if cfg.Lookup.CacheTTL < 0 {
		return errors.New("genealogy.lookup.cacheTTL cannot be negative")
	}
	return nil
}
