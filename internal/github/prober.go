package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/probe"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/retry"
)

// ManifestFiles are the candidate manifests, highest priority first.
var ManifestFiles = []string{
	"package.json",
	"requirements.txt",
	"pyproject.toml",
	"pom.xml",
	"go.mod",
	"Cargo.toml",
	"README.md",
}

const (
	msgInvalidRef = "Invalid GitHub URL format"
	msgNotFound   = "Repository not found"
	msgForbidden  = "Rate limit exceeded or private repository"
)

// ProberConfig configures a Prober.
type ProberConfig struct {
	Token            string   // static token; wins over App
	App              *AppAuth // installation auth when Token is empty
	BaseURL          string   // GitHub Enterprise API base
	WebHost          string   // host accepted in repository URLs; derived from the API base when empty
	MaxManifestBytes int
	Timeout          time.Duration
	Retry            retry.Config
}

// Prober reads the root listing and one manifest of a GitHub repository.
type Prober struct {
	client   *gh.Client
	host     string
	maxBytes int
	timeout  time.Duration
	retry    retry.Config
	logger   zerolog.Logger
}

// NewProber builds a Prober backed by go-github.
func NewProber(cfg ProberConfig, logger zerolog.Logger) (*Prober, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Token == "" && cfg.App != nil {
		httpClient.Transport = cfg.App.Transport(http.DefaultTransport)
	}

	client := gh.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub API URL: %w", err)
		}
	}
	return NewProberWithClient(client, cfg, logger), nil
}

// NewProberWithClient wraps an existing client (useful for testing).
func NewProberWithClient(client *gh.Client, cfg ProberConfig, logger zerolog.Logger) *Prober {
	p := &Prober{
		client:   client,
		host:     strings.ToLower(cfg.WebHost),
		maxBytes: cfg.MaxManifestBytes,
		timeout:  cfg.Timeout,
		retry:    cfg.Retry,
		logger:   logger.With().Str("component", "github_prober").Logger(),
	}
	if p.host == "" {
		p.host = webHost(client.BaseURL)
	}
	if p.maxBytes <= 0 {
		p.maxBytes = 500
	}
	if p.retry.MaxAttempts == 0 {
		p.retry = retry.DefaultConfig()
	}
	return p
}

// Probe implements probe.Prober.
func (p *Prober) Probe(ctx context.Context, raw string) probe.Snapshot {
	ref, err := ParseRef(raw)
	if err != nil || (ref.Host != "" && ref.Host != p.host) {
		return probe.Failed(raw, msgInvalidRef)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	log := p.logger.With().Str("owner", ref.Owner).Str("repo", ref.Repo).Logger()

	var listing []*gh.RepositoryContent
	err = retry.Do(ctx, p.retryConfig(log), func(ctx context.Context) error {
		_, dir, resp, err := p.client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, "", nil)
		if err != nil {
			return classify(err, resp)
		}
		listing = dir
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("repository listing failed")
		return probe.Failed(raw, describe(err))
	}

	files := make([]string, 0, len(listing))
	for _, entry := range listing {
		files = append(files, entry.GetName())
	}

	snap := probe.Snapshot{
		Ref:     raw,
		Success: true,
		Name:    ref.Repo,
		Owner:   ref.Owner,
		Files:   files,
	}

	manifest := pickManifest(files)
	if manifest == "" {
		return snap
	}
	content, err := p.readFile(ctx, log, ref, manifest)
	if err != nil {
		// The listing alone is still useful evidence.
		log.Warn().Err(err).Str("file", manifest).Msg("manifest read failed")
		return snap
	}
	snap.Config = probe.Truncate(content, p.maxBytes)
	snap.ConfigFileName = manifest
	return snap
}

func (p *Prober) readFile(ctx context.Context, log zerolog.Logger, ref Ref, path string) (string, error) {
	var content string
	err := retry.Do(ctx, p.retryConfig(log.With().Str("file", path).Logger()), func(ctx context.Context) error {
		file, _, resp, err := p.client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, path, nil)
		if err != nil {
			return classify(err, resp)
		}
		if file == nil {
			return fmt.Errorf("%s is not a file", path)
		}
		content, err = file.GetContent()
		return err
	})
	return content, err
}

func (p *Prober) retryConfig(log zerolog.Logger) retry.Config {
	cfg := p.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying GitHub call")
	}
	return cfg
}

func pickManifest(files []string) string {
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}
	for _, candidate := range ManifestFiles {
		if present[candidate] {
			return candidate
		}
	}
	return ""
}

// classify converts go-github errors into the shared taxonomy so retry
// can tell transient failures from permanent ones.
func classify(err error, resp *gh.Response) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &perrors.APIError{Service: "github", StatusCode: http.StatusForbidden, Message: "rate limited", Err: err}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &perrors.APIError{Service: "github", StatusCode: http.StatusTooManyRequests, Message: "secondary rate limit", Err: err}
	}
	if resp != nil && resp.Response != nil {
		return &perrors.APIError{Service: "github", StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", perrors.ErrTimeout, err)
	}
	return err
}

func describe(err error) string {
	var apiErr *perrors.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			return msgNotFound
		case http.StatusForbidden, http.StatusTooManyRequests:
			return msgForbidden
		}
	}
	return err.Error()
}

// webHost derives the web host that repository URLs use from the API
// base URL: api.github.com serves github.com, GHE serves its own host.
func webHost(base *url.URL) string {
	if base == nil {
		return "github.com"
	}
	host := strings.ToLower(base.Hostname())
	switch {
	case host == "api.github.com":
		return "github.com"
	case strings.HasPrefix(host, "api."):
		return strings.TrimPrefix(host, "api.")
	}
	return host
}
