package config

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

const (
	// appConfigFetchTimeout bounds the one-time document fetch at
	// startup. Nothing else can initialize until it settles, so the
	// bound keeps a dead config host from hanging the whole console.
	appConfigFetchTimeout = 10 * time.Second

	// maxAppConfigBytes caps document reads. The document is a handful
	// of scalar fields.
	maxAppConfigBytes = 64 * 1024
)

// AppConfig is the application-config document loaded at startup. It is
// consumed exactly once, before the HTTP client or any interceptor can
// issue a request.
type AppConfig struct {
	APIBaseURL  string
	AppVersion  string
	UserDataKey string
	MockEnabled bool
	Theme       string
}

// LoadAppConfig loads the app-config document from cfg.AppConfigPath.
// A path ending in .yaml/.yml is parsed as YAML; everything else as
// JSON. An http(s) path is fetched with a cache-busting query.
//
// Load failure is not fatal: the document falls back to the environment
// values in cfg, matching how a missing document must never prevent the
// console from starting. The returned error is nil in that case; the
// fallback itself fails only when no API base URL exists anywhere.
func LoadAppConfig(ctx context.Context, cfg *Config) (*AppConfig, error) {
	raw, err := readAppConfig(ctx, cfg.AppConfigPath)
	if err != nil {
		if cfg.APIBaseURL == "" {
			return nil, fmt.Errorf("loading app config from %s with no API_BASE_URL fallback: %w", cfg.AppConfigPath, err)
		}

		return &AppConfig{APIBaseURL: cfg.APIBaseURL}, nil
	}

	ac, err := parseAppConfig(cfg.AppConfigPath, raw)
	if err != nil {
		if cfg.APIBaseURL == "" {
			return nil, fmt.Errorf("parsing app config %s with no API_BASE_URL fallback: %w", cfg.AppConfigPath, err)
		}

		return &AppConfig{APIBaseURL: cfg.APIBaseURL}, nil
	}

	if ac.APIBaseURL == "" {
		ac.APIBaseURL = cfg.APIBaseURL
	}

	if ac.APIBaseURL == "" {
		return nil, fmt.Errorf("app config %s has no API base URL and API_BASE_URL is unset", cfg.AppConfigPath)
	}

	ac.APIBaseURL = strings.TrimRight(ac.APIBaseURL, "/")

	return ac, nil
}

func readAppConfig(ctx context.Context, path string) ([]byte, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return fetchAppConfig(ctx, path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading app config file: %w", err)
	}

	return raw, nil
}

// fetchAppConfig retrieves a remote document. A timestamp query
// parameter defeats intermediary caches so a stale base URL cannot
// outlive a deploy.
func fetchAppConfig(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing app config URL: %w", err)
	}

	q := u.Query()
	q.Set("t", fmt.Sprintf("%d", time.Now().UnixMilli()))
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, appConfigFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating app config request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching app config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching app config: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAppConfigBytes))
	if err != nil {
		return nil, fmt.Errorf("reading app config response: %w", err)
	}

	return raw, nil
}

func parseAppConfig(path string, raw []byte) (*AppConfig, error) {
	ext := strings.ToLower(filepath.Ext(strings.SplitN(path, "?", 2)[0]))
	if ext == ".yaml" || ext == ".yml" {
		return parseYAMLAppConfig(raw)
	}

	return parseJSONAppConfig(raw)
}

// parseJSONAppConfig accepts both observed document field spellings
// (API_BASE_URL/apiBaseUrl, isMockEnabled/mockEnabled).
func parseJSONAppConfig(raw []byte) (*AppConfig, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("app config document is not valid JSON")
	}

	doc := gjson.ParseBytes(raw)

	first := func(paths ...string) gjson.Result {
		for _, p := range paths {
			if v := doc.Get(p); v.Exists() {
				return v
			}
		}

		return gjson.Result{}
	}

	return &AppConfig{
		APIBaseURL:  first("API_BASE_URL", "apiBaseUrl", "apiUrl").String(),
		AppVersion:  first("appVersion", "version").String(),
		UserDataKey: first("USERDATA_KEY", "userDataKey").String(),
		MockEnabled: first("isMockEnabled", "mockEnabled").Bool(),
		Theme:       first("theme", "primengTheme").String(),
	}, nil
}

func parseYAMLAppConfig(raw []byte) (*AppConfig, error) {
	var doc struct {
		APIBaseURL  string `yaml:"apiBaseUrl"`
		AppVersion  string `yaml:"appVersion"`
		UserDataKey string `yaml:"userDataKey"`
		MockEnabled bool   `yaml:"mockEnabled"`
		Theme       string `yaml:"theme"`
	}

	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML app config: %w", err)
	}

	return &AppConfig{
		APIBaseURL:  doc.APIBaseURL,
		AppVersion:  doc.AppVersion,
		UserDataKey: doc.UserDataKey,
		MockEnabled: doc.MockEnabled,
		Theme:       doc.Theme,
	}, nil
}
