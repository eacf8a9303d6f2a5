package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"chat-relay/internal/integrations/paramstore"
)

const (
	DefaultBaseURL          = "https://api.openai.com"
	DefaultModel            = "gpt-3.5-turbo"
	DefaultSignatureMaxAge  = 5 * time.Minute
	defaultListenAddr       = ":3000"
	paramOpenAIKey          = "/openai-api-key"
	paramSitePassword       = "/site-password"
	paramSignatureSecretKey = "/signature-secret"
)

// Config is built once at process start and passed by reference into the
// authorizer and the relay.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	ProxyURL        *url.URL
	SitePassword    string
	SignatureSecret string
	Production      bool
	SignatureMaxAge time.Duration
	UpstreamTimeout time.Duration
	ListenAddr      string
}

// Getter resolves a named secret. *paramstore.Client satisfies it.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Source is the raw, string-typed view of the deployment environment.
type Source struct {
	APIKey          string
	BaseURL         string
	Model           string
	ProxyURL        string
	SitePassword    string
	SignatureSecret string
	Production      bool
	SignatureMaxAge time.Duration
	UpstreamTimeout time.Duration
	ListenAddr      string
}

// New validates src and normalizes it into a Config.
func New(src Source) (*Config, error) {
	cfg := &Config{
		APIKey:          strings.TrimSpace(src.APIKey),
		BaseURL:         NormalizeBaseURL(src.BaseURL),
		Model:           strings.TrimSpace(src.Model),
		SitePassword:    src.SitePassword,
		SignatureSecret: src.SignatureSecret,
		Production:      src.Production,
		SignatureMaxAge: src.SignatureMaxAge,
		UpstreamTimeout: src.UpstreamTimeout,
		ListenAddr:      strings.TrimSpace(src.ListenAddr),
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.SignatureMaxAge < 0 {
		cfg.SignatureMaxAge = 0
	}
	if cfg.APIKey == "" {
		return nil, errors.New("config: upstream API key must not be empty")
	}
	if cfg.Production && cfg.SignatureSecret == "" {
		return nil, errors.New("config: signature secret is required in production mode")
	}
	if p := strings.TrimSpace(src.ProxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("config: parse proxy url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("config: proxy url %q must include scheme and host", p)
		}
		cfg.ProxyURL = u
	}
	return cfg, nil
}

// NormalizeBaseURL trims whitespace and a single trailing slash, falling back to
// DefaultBaseURL when empty.
func NormalizeBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return DefaultBaseURL
	}
	return strings.TrimSuffix(base, "/")
}

// ResolveSecrets fills empty secret fields of src from the parameter store
// under prefix. Values already present in src win.
func ResolveSecrets(ctx context.Context, g Getter, prefix string, src *Source) error {
	if g == nil {
		return errors.New("config: parameter getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return errors.New("config: parameter prefix must not be empty")
	}

	if src.APIKey == "" {
		v, err := g.GetParameter(ctx, prefix+paramOpenAIKey)
		if err != nil {
			return fmt.Errorf("config: load api key: %w", err)
		}
		src.APIKey = v
	}
	// Password and signing secret are optional; a missing parameter leaves the
	// feature disabled.
	if src.SitePassword == "" {
		v, err := optionalParameter(ctx, g, prefix+paramSitePassword)
		if err != nil {
			return fmt.Errorf("config: load site password: %w", err)
		}
		src.SitePassword = v
	}
	if src.SignatureSecret == "" {
		v, err := optionalParameter(ctx, g, prefix+paramSignatureSecretKey)
		if err != nil {
			return fmt.Errorf("config: load signature secret: %w", err)
		}
		src.SignatureSecret = v
	}
	return nil
}

func optionalParameter(ctx context.Context, g Getter, name string) (string, error) {
	v, err := g.GetParameter(ctx, name)
	if errors.Is(err, paramstore.ErrNotFound) {
		return "", nil
	}
	return v, err
}
