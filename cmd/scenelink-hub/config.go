package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sessamekesh/scenelink/pkg/auth"
	"github.com/sessamekesh/scenelink/pkg/scene"
	"github.com/sessamekesh/scenelink/pkg/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "SCENELINK_"

const (
	Authenticator_Accept   = "accept"
	Authenticator_Password = "password"
	Authenticator_Token    = "token"
)

type config struct {
	ListenAddress string `env:"LISTEN_ADDRESS" envDefault:":3000"`
	Endpoint      string `env:"ENDPOINT" envDefault:"/ws"`
	// Empty allows every origin.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`

	Authenticator string `env:"AUTHENTICATOR" envDefault:"accept"`
	Password      string `env:"PASSWORD"`
	TokenSecret   string `env:"TOKEN_SECRET"`

	// A zero timeout disables it.
	TickRate       int           `env:"TICK_RATE" envDefault:"30"`
	AuthTimeout    time.Duration `env:"AUTH_TIMEOUT" envDefault:"10s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"0s"`
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"0"`

	// Loaded for every client as soon as it authenticates.
	StartScenes []string `env:"START_SCENES"`

	LogLevel zapcore.Level `env:"LOG_LEVEL" envDefault:"info"`

	// Print a fresh token for TokenSecret and exit.
	IssueToken bool
}

// loadConfig reads an optional .env file, then the environment, then command line flags.
func loadConfig(args []string) (config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return config{}, fmt.Errorf("load .env: %w", err)
	}
	return parseConfig(environment(), args)
}

func environment() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

func parseConfig(environ map[string]string, args []string) (config, error) {
	var cfg config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	}); err != nil {
		return config{}, fmt.Errorf("parse environment: %w", err)
	}

	fs := flag.NewFlagSet("scenelink-hub", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddress, "listen", cfg.ListenAddress, "Address the WebSocket server listens on")
	fs.StringVar(&cfg.Endpoint, "ws-endpoint", cfg.Endpoint, "HTTP endpoint that accepts WebSocket connections")
	fs.StringVar(&cfg.Authenticator, "auth", cfg.Authenticator, "Authenticator to use: accept, password or token")
	fs.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "Session manager ticks per second")
	fs.BoolVar(&cfg.IssueToken, "issue-token", false, "Print a token signed with the token secret and exit")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	switch c.Authenticator {
	case Authenticator_Accept:
	case Authenticator_Password:
		if c.Password == "" {
			return errors.New("password authenticator needs " + envPrefix + "PASSWORD")
		}
	case Authenticator_Token:
		if c.TokenSecret == "" {
			return errors.New("token authenticator needs " + envPrefix + "TOKEN_SECRET")
		}
	default:
		return fmt.Errorf("unknown authenticator %q", c.Authenticator)
	}

	if c.IssueToken && c.TokenSecret == "" {
		return errors.New("issuing a token needs " + envPrefix + "TOKEN_SECRET")
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("tick rate must be positive, got %d", c.TickRate)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative, got %d", c.MaxConnections)
	}
	return nil
}

func (c config) newAuthenticator(logger *zap.Logger) (session.Authenticator, error) {
	switch c.Authenticator {
	case Authenticator_Password:
		return auth.CreatePasswordAuthenticator(auth.PasswordAuthenticatorParams{
			Password: c.Password,
			Logger:   logger,
		})
	case Authenticator_Token:
		return auth.CreateTokenAuthenticator(auth.TokenAuthenticatorParams{
			Secret: []byte(c.TokenSecret),
			Logger: logger,
		})
	default:
		return auth.CreateAcceptAllAuthenticator(), nil
	}
}

func (c config) managerConfig(logger *zap.Logger, authenticator session.Authenticator) session.ManagerConfig {
	authTimeout := c.AuthTimeout
	if authTimeout == 0 {
		authTimeout = -1
	}
	return session.ManagerConfig{
		Logger:                logger,
		Authenticator:         authenticator,
		TickRate:              c.TickRate,
		AuthenticationTimeout: authTimeout,
		IdleTimeout:           c.IdleTimeout,
		MaxConnections:        c.MaxConnections,
	}
}

func (c config) startScenes() scene.SceneLoadData {
	lookups := make([]scene.SceneLookupData, 0, len(c.StartScenes))
	for _, name := range c.StartScenes {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		lookups = append(lookups, scene.SceneLookupData{Name: name})
	}
	return scene.SceneLoadData{SceneLookupDatas: lookups}
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	zapConfig := zap.NewDevelopmentConfig()
	if os.Getenv("APP_ENV") == "production" {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	return zapConfig.Build()
}
