package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/urlbar/internal/config"
	"github.com/vango-dev/urlbar/internal/errors"
	"github.com/vango-dev/urlbar/pkg/bridge"
	"github.com/vango-dev/urlbar/pkg/bus"
	"github.com/vango-dev/urlbar/pkg/urlbar"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		port       int
		host       string
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser bridge and log hash changes",
		Long: `Serve the thin browser client and watch every connected tab.

Each tab gets its own watcher. Changes are logged and published as
url:changed events; Prometheus metrics are served on /metrics.

Examples:
  urlbar serve
  urlbar serve --port=8080 --interval=100ms
  urlbar serve --config=./deploy/urlbar.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			if port > 0 {
				cfg.Server.Port = port
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if interval != 0 {
				cfg.Watch.Interval = config.Duration(interval)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := newApp(cfg, logger, prometheus.NewRegistry())
			success(cmd, "urlbar listening on http://%s", cfg.Address())
			info(cmd, "client script: %s/client.js", cfg.Server.BasePath)
			return a.run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to urlbar.json (default ./urlbar.json if present)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from urlbar.json)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from urlbar.json)")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "Hash poll interval (default 200ms)")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.LoadOrDefault(".")
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// app ties one bridge to a watcher per connected tab.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	events   *bus.Bus
	metrics  *urlbar.Metrics
	bridge   *bridge.Bridge
	handler  http.Handler

	// ctx scopes the watchers; set by run.
	ctx context.Context
}

func newApp(cfg *config.Config, logger *slog.Logger, registry *prometheus.Registry) *app {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		events:   bus.New(),
		ctx:      context.Background(),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = urlbar.NewMetrics(
		urlbar.WithRegistry(registry),
		urlbar.WithNamespace(cfg.Metrics.Namespace),
	)
	a.bridge = bridge.New(bridge.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		OnConnect:      a.attach,
		Logger:         logger,
		Registry:       registry,
		Namespace:      cfg.Metrics.Namespace,
	})

	a.events.Subscribe(urlbar.TopicURLChanged, a.logChange)
	a.handler = a.routes()
	return a
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	// Forwarding headers are resolved by the bridge against server.trustedProxies.
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	br := a.bridge.Routes()
	br.Post("/navigate", a.handleNavigate)
	br.Get("/clients", a.handleClients)

	r.Get("/", a.handleIndex)
	r.Mount(a.cfg.Server.BasePath, br)
	if a.cfg.Metrics.Enabled {
		r.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// attach starts a watcher for a newly connected tab and returns its Stop.
func (a *app) attach(c *bridge.Client) func() {
	w, err := urlbar.NewWatcher(c,
		urlbar.WithInterval(a.cfg.Watch.Interval.Std()),
		urlbar.WithLogger(a.logger.With("client", c.ID())),
		urlbar.WithBus(a.events),
		urlbar.WithMetrics(a.metrics),
	)
	if err != nil {
		a.logger.Error("cannot watch client", "client", c.ID(), "error", errors.New("E200").Wrap(err))
		return nil
	}
	if err := w.Start(a.ctx); err != nil {
		a.logger.Error("cannot watch client", "client", c.ID(), "error", errors.New("E200").Wrap(err))
		return nil
	}
	return w.Stop
}

func (a *app) logChange(payload any) {
	ev, ok := payload.(urlbar.Event)
	if !ok {
		return
	}
	a.logger.Info("url changed", "was", ev.Was, "now", ev.Raw, "pairs", ev.Now.Map())
}

func (a *app) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, indexPage(a.cfg.Server.BasePath))
}

// handleNavigate moves every connected tab to the hash in the "hash" form
// value or query parameter.
func (a *app) handleNavigate(w http.ResponseWriter, r *http.Request) {
	hash := r.FormValue("hash")
	if hash == "" {
		http.Error(w, "missing hash", http.StatusBadRequest)
		return
	}
	n := a.bridge.Navigate(hash)
	writeJSON(w, map[string]any{"hash": hash, "clients": n})
}

func (a *app) handleClients(w http.ResponseWriter, r *http.Request) {
	type clientInfo struct {
		ID     string            `json:"id"`
		Remote string            `json:"remote"`
		Hash   string            `json:"hash"`
		Pairs  map[string]string `json:"pairs"`
	}
	clients := a.bridge.Clients()
	out := make([]clientInfo, 0, len(clients))
	for _, c := range clients {
		hash := c.Hash()
		out = append(out, clientInfo{
			ID:     c.ID(),
			Remote: c.RemoteAddr(),
			Hash:   hash,
			Pairs:  urlbar.Parse(hash).Map(),
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.ctx = gctx

	srv := &http.Server{
		Addr:              a.cfg.Address(),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.FromError(err, "E400")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down", "clients", a.bridge.ClientCount())
		a.bridge.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func indexPage(basePath string) string {
	return `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>urlbar</title>
</head>
<body>
<h1>urlbar</h1>
<p>Follow a link or edit the hash in the address bar; the server logs every change.</p>
<ul>
  <li><a href="#project=site&amp;path=index.html">#project=site&amp;path=index.html</a></li>
  <li><a href="#project=site&amp;path=style.css">#project=site&amp;path=style.css</a></li>
  <li><a href="#project=api&amp;path=main.go&amp;line=42">#project=api&amp;path=main.go&amp;line=42</a></li>
</ul>
<p>Current: <code id="hash"></code></p>
<script>
(function() {
    function show() { document.getElementById('hash').textContent = location.hash || '(empty)'; }
    window.addEventListener('hashchange', show);
    show();
})();
</script>
<script src="` + basePath + `/client.js"></script>
</body>
</html>
`
}
