package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/besteffort"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/config"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/contextpack"
	ghprobe "github.com/p-blackswan/bootstrap-orchestrator/internal/github"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/health"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/metrics"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/notify"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/orchestrator"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/plan"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/probe"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/retry"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/skills"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/store"
)

// components is the fully wired service graph.
type components struct {
	store        *store.Store
	metrics      *metrics.Metrics
	writer       *besteffort.Writer
	prober       *probe.Cached
	materializer *plan.Materializer
	assembler    *contextpack.Assembler
	service      *orchestrator.Service
	checker      *health.Checker
}

// close drains pending best-effort writes, then closes the store.
func (c *components) close(logger zerolog.Logger) {
	c.writer.Wait()
	s := c.prober.Stats()
	logger.Info().
		Uint64("hits", s.Hits).
		Uint64("misses", s.Misses).
		Float64("hit_rate", s.HitRate()).
		Msg("probe cache stats")
	if err := c.store.Close(); err != nil {
		logger.Error().Err(err).Msg("closing store")
	}
}

func wire(cfg *config.Config, logger zerolog.Logger) (*components, error) {
	st, err := store.New(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	m := metrics.New()
	w := besteffort.New(logger, m)

	prober, err := newProber(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	cached := probe.NewCached(prober, cfg.ProbeCacheSize, cfg.ProbeCacheTTL, m)

	detective, err := skills.New()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading skill rules: %w", err)
	}
	catalog, err := plan.DefaultCatalog()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading plan catalog: %w", err)
	}

	mat := plan.NewMaterializer(st, catalog, w, m, plan.Config{DefaultSprint: cfg.DefaultSprint}, logger)
	svc := orchestrator.NewService(orchestrator.Options{
		Store:        st,
		Prober:       cached,
		Detective:    detective,
		Materializer: mat,
		Writer:       w,
		Notifier:     newNotifier(cfg, logger),
		Metrics:      m,
		Logger:       logger,
	})

	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(st))
	// Anonymous GitHub access is limited to 60 requests an hour.
	checker.Register("github_auth", health.DegradedUnless(cfg.GitHubToken != "" || cfg.GitHubAppEnabled()))

	return &components{
		store:        st,
		metrics:      m,
		writer:       w,
		prober:       cached,
		materializer: mat,
		assembler:    contextpack.New(st, m, logger),
		service:      svc,
		checker:      checker,
	}, nil
}

func newProber(cfg *config.Config, logger zerolog.Logger) (*ghprobe.Prober, error) {
	pc := ghprobe.ProberConfig{
		Token:            cfg.GitHubToken,
		BaseURL:          cfg.GitHubAPIURL,
		MaxManifestBytes: cfg.ManifestMaxBytes,
		Timeout:          cfg.ProbeTimeout,
		Retry:            retry.DefaultConfig(),
	}
	switch {
	case cfg.GitHubToken != "":
		logger.Info().Msg("GitHub prober using static token")
	case cfg.GitHubAppEnabled():
		app, err := ghprobe.NewAppAuth(cfg.GitHubAppID, cfg.GitHubInstallationID,
			cfg.GitHubPrivateKeyPath, cfg.GitHubAPIURL, logger)
		if err != nil {
			return nil, fmt.Errorf("loading GitHub App credentials: %w", err)
		}
		pc.App = app
		logger.Info().Int64("app_id", cfg.GitHubAppID).Msg("GitHub prober using App installation")
	default:
		logger.Info().Msg("GitHub not configured, probing anonymously")
	}
	return ghprobe.NewProber(pc, logger)
}

func newNotifier(cfg *config.Config, logger zerolog.Logger) notify.Notifier {
	var multi notify.Multi
	if cfg.SlackEnabled() {
		multi = append(multi, notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel, logger))
		logger.Info().Str("channel", cfg.SlackChannel).Msg("Slack notifications enabled")
	}
	if cfg.WebhookEnabled() {
		multi = append(multi, notify.NewWebhook(cfg.NotifyWebhookURL, cfg.NotifyTimeout, cfg.NotifyRetries, logger))
		logger.Info().Msg("webhook notifications enabled")
	}
	if len(multi) == 0 {
		return notify.Nop{}
	}
	return multi
}
