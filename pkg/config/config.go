package config

import (
	"context"
	"os"
	"strings"
	"time"

	"voiceplane/pkg/hashistack/secretmanager"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Session struct {
		// Secret verifies the JWS session tokens minted by the external
		// auth engine. Overridden from Vault in production.
		Secret     string `mapstructure:"SECRET"`
		CookieName string `mapstructure:"COOKIE_NAME"`
	} `mapstructure:"SESSION"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Vault struct {
		Enable    bool   `mapstructure:"ENABLE"`
		MountPath string `mapstructure:"MOUNT_PATH"`
	} `mapstructure:"VAULT"`
	LiveKit struct {
		URL       string `mapstructure:"URL"`
		APIKey    string `mapstructure:"API_KEY"`
		APISecret string `mapstructure:"API_SECRET"`
	} `mapstructure:"LIVEKIT"`
	EphemeralKeys struct {
		// CreatePerMinute bounds key creation per user on the HTTP surface.
		CreatePerMinute int `mapstructure:"CREATE_PER_MINUTE"`
	} `mapstructure:"EPHEMERAL_KEYS"`
	Rooms struct {
		// TTL is how long a room may stay active before the cleanup
		// worker closes it.
		TTL time.Duration `mapstructure:"TTL"`
	} `mapstructure:"ROOMS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	applyDefaults(&cfg)

	if cfg.Vault.Enable && p.Vault != nil {
		mount := cfg.Vault.MountPath
		if mount == "" {
			mount = "secret"
		}

		ctx := context.Background()

		zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
		data, err := secretmanager.ReadKV(ctx, p.Vault, mount, cfg.AppEnv)
		if err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("Success Get Secret")

		get := func(key string) string {
			if val, ok := data[key].(string); ok {
				return val
			}
			return ""
		}

		cfg.Database.User = get("postgres_user")
		cfg.Database.Password = get("postgres_password")
		cfg.Redis.Password = get("redis_password")
		cfg.Session.Secret = get("session_secret")
		cfg.LiveKit.APIKey = get("livekit_api_key")
		cfg.LiveKit.APISecret = get("livekit_api_secret")
	}

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = "voiceplane"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "8080"
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "session"
	}
	if cfg.EphemeralKeys.CreatePerMinute <= 0 {
		cfg.EphemeralKeys.CreatePerMinute = 30
	}
	if cfg.Rooms.TTL <= 0 {
		cfg.Rooms.TTL = 4 * time.Hour
	}
}
