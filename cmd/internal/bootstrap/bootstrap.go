// Package bootstrap is the only place that reads the process environment. It
// turns it into a config.Config and wires the relay graph for the server and
// Lambda entrypoints.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"chat-relay/handler"
	"chat-relay/internal/auth"
	"chat-relay/internal/config"
	"chat-relay/internal/integrations/openai"
	"chat-relay/internal/integrations/paramstore"
	"chat-relay/internal/logging"
	"chat-relay/internal/relay"
	"chat-relay/internal/usecase"
)

// LoadDotEnv loads .env from the working directory when it exists. Variables
// already set in the environment win.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "err", err)
	}
}

// Logger builds the process logger from LOG_LEVEL, LOG_FORMAT and LOG_FILE
// and installs it as the slog default.
func Logger() (*slog.Logger, io.Writer) {
	logger, out := logging.New(logging.Options{
		Level:      os.Getenv("LOG_LEVEL"),
		Format:     os.Getenv("LOG_FORMAT"),
		File:       os.Getenv("LOG_FILE"),
		MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 0),
		MaxBackups: envInt("LOG_MAX_BACKUPS", 0),
	})
	slog.SetDefault(logger)
	return logger, out
}

// SourceFromEnv reads the relay settings. Values are validated by config.New.
func SourceFromEnv() config.Source {
	return config.Source{
		APIKey:          os.Getenv("OPENAI_API_KEY"),
		BaseURL:         os.Getenv("OPENAI_API_BASE_URL"),
		Model:           os.Getenv("OPENAI_MODEL"),
		ProxyURL:        os.Getenv("HTTPS_PROXY"),
		SitePassword:    os.Getenv("SITE_PASSWORD"),
		SignatureSecret: os.Getenv("PUBLIC_SECRET_KEY"),
		Production:      envBool("PROD", false),
		SignatureMaxAge: envSeconds("SIGNATURE_MAX_AGE_SECONDS", config.DefaultSignatureMaxAge),
		UpstreamTimeout: envSeconds("UPSTREAM_TIMEOUT_SECONDS", 0),
		ListenAddr:      os.Getenv("LISTEN_ADDR"),
	}
}

// LoadConfig builds the Config from the environment, filling missing secrets
// from SSM Parameter Store when PARAM_PREFIX is set.
func LoadConfig(ctx context.Context) (*config.Config, error) {
	src := SourceFromEnv()
	if prefix := strings.TrimSpace(os.Getenv("PARAM_PREFIX")); prefix != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load AWS config: %w", err)
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create SSM client: %w", err)
		}
		if err := config.ResolveSecrets(ctx, ps, prefix, &src); err != nil {
			return nil, err
		}
	}
	return config.New(src)
}

// NewHandler wires authorizer, upstream client, relay and use case behind the
// HTTP/Lambda handler.
func NewHandler(cfg *config.Config, logger *slog.Logger) (*handler.Handler, error) {
	upstream, err := openai.NewClient(cfg.APIKey,
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithHTTPClient(openai.NewHTTPClient(cfg.ProxyURL, cfg.UpstreamTimeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create upstream client: %w", err)
	}
	rl, err := relay.New(cfg, upstream)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create relay: %w", err)
	}
	svc, err := usecase.NewGenerateService(auth.NewAuthorizer(cfg), rl, usecase.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create generate service: %w", err)
	}
	return handler.NewHandler(svc, logger)
}

// MustHandler runs LoadConfig and NewHandler, exiting the process on failure.
func MustHandler(ctx context.Context, logger *slog.Logger) (*handler.Handler, *config.Config) {
	cfg, err := LoadConfig(ctx)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	h, err := NewHandler(cfg, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}
	logger.Info("relay configured",
		"model", cfg.Model,
		"base_url", cfg.BaseURL,
		"production", cfg.Production,
		"password_required", cfg.SitePassword != "",
		"proxy", cfg.ProxyURL != nil,
	)
	return h, cfg
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func envSeconds(key string, def time.Duration) time.Duration {
	n := envInt(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
