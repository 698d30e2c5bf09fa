package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const EnvPrefix = "MAINZELHANDLER"

type ServerConfig struct {
	Address string `mapstructure:"address"`
	// URL under which the Mainzelliste reaches this server. Only needed for
	// the callback mode.
	URL         string `mapstructure:"url"`
	Prefix      string `mapstructure:"prefix"`
	APIKey      string `mapstructure:"apiKey"`
	UseCallback bool   `mapstructure:"useCallback"`
	CallbackURL string `mapstructure:"callbackUrl"`
}

type MainzellisteConfig struct {
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"apiKey"`
	APIVersion string `mapstructure:"apiVersion"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type ClientConfig struct {
	ServerURL         string        `mapstructure:"serverUrl"`
	APIKey            string        `mapstructure:"apiKey"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	APIVersion        string        `mapstructure:"apiVersion"`
	VerifyCertificate bool          `mapstructure:"verifyCertificate"`
	Timeout           time.Duration `mapstructure:"timeout"`
	IDATFields        models.Schema `mapstructure:"idatFields"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server           ServerConfig       `mapstructure:"server"`
	Mainzelliste     MainzellisteConfig `mapstructure:"mainzelliste"`
	Redis            RedisConfig        `mapstructure:"redis"`
	PseudonymTimeout time.Duration      `mapstructure:"pseudonymTimeout"`
	Client           ClientConfig       `mapstructure:"client"`
	Log              LogConfig          `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.prefix", "")
	v.SetDefault("mainzelliste.apiVersion", "3.0")
	v.SetDefault("redis.prefix", "mainzelhandler:pseudonym:")
	v.SetDefault("pseudonymTimeout", "10m")
	v.SetDefault("client.apiVersion", "3.0")
	v.SetDefault("client.verifyCertificate", true)
	v.SetDefault("client.timeout", "0s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

var envKeys = []string{
	"server.address", "server.url", "server.prefix", "server.apiKey", "server.useCallback", "server.callbackUrl",
	"mainzelliste.url", "mainzelliste.apiKey", "mainzelliste.apiVersion",
	"redis.addr", "redis.password", "redis.db", "redis.prefix",
	"pseudonymTimeout",
	"client.serverUrl", "client.apiKey", "client.username", "client.password", "client.apiVersion",
	"client.verifyCertificate", "client.timeout",
	"log.level", "log.format",
}

// Load reads the configuration from the given yaml file, if any, and from
// MAINZELHANDLER_* environment variables, e.g. MAINZELHANDLER_SERVER_ADDRESS.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Client.IDATFields == nil {
		cfg.Client.IDATFields = models.DefaultSchema()
	}
	return cfg, nil
}

// CallbackURL is the URL the Mainzelliste posts pseudonyms to.
func (c *Config) CallbackURL() string {
	if c.Server.CallbackURL != "" {
		return c.Server.CallbackURL
	}
	return strings.TrimRight(c.Server.URL, "/") + strings.TrimRight(c.Server.Prefix, "/") + "/" + models.CallbackURL
}

// ValidateServer checks the settings needed by the serve command.
func (c *Config) ValidateServer() error {
	if c.Mainzelliste.URL == "" {
		return errors.New("mainzelliste.url is required")
	}
	if c.Mainzelliste.APIKey == "" {
		return errors.New("mainzelliste.apiKey is required")
	}
	if c.Server.UseCallback && c.Server.URL == "" && c.Server.CallbackURL == "" {
		return errors.New("server.url or server.callbackUrl is required when useCallback is set")
	}
	return nil
}

// Logger builds the logger described by the log section.
func (c *Config) Logger() (zerolog.Logger, error) {
	return NewLogger(c.Log, os.Stdout)
}

func NewLogger(cfg LogConfig, out io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level \"%s\": %w", cfg.Level, err)
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
