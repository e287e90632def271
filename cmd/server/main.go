// Deskmate triages support tickets: it classifies each new ticket, retrieves
// knowledge base articles, drafts a reply and then either resolves the ticket
// automatically or hands it to a human.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/deskmate/internal/audit"
	"github.com/linnemanlabs/deskmate/internal/authmw"
	dc "github.com/linnemanlabs/deskmate/internal/cfg"
	"github.com/linnemanlabs/deskmate/internal/kb"
	"github.com/linnemanlabs/deskmate/internal/kb/pgkb"
	"github.com/linnemanlabs/deskmate/internal/llm/claude"
	kafkanotify "github.com/linnemanlabs/deskmate/internal/notify/kafka"
	"github.com/linnemanlabs/deskmate/internal/notify/slack"
	"github.com/linnemanlabs/deskmate/internal/policy"
	"github.com/linnemanlabs/deskmate/internal/postgres"
	"github.com/linnemanlabs/deskmate/internal/provider"
	"github.com/linnemanlabs/deskmate/internal/ticket"
	ticketmem "github.com/linnemanlabs/deskmate/internal/ticket/memstore"
	ticketpg "github.com/linnemanlabs/deskmate/internal/ticket/pgstore"
	"github.com/linnemanlabs/deskmate/internal/triage"
	triagemem "github.com/linnemanlabs/deskmate/internal/triage/memstore"
	triagepg "github.com/linnemanlabs/deskmate/internal/triage/pgstore"
	"github.com/linnemanlabs/deskmate/internal/triageapi"
)

const appName = "deskmate"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    dc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix DESKMATE_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "DESKMATE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"provider", appCfg.ProviderMode,
		"auto_close", appCfg.AutoCloseEnabled,
		"confidence_threshold", appCfg.ConfidenceThreshold,
		"policy_file", appCfg.PolicyFile,
		"run_timeout", appCfg.RunTimeout,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}
	profilingActive := profErr == nil && profCfg.EnablePyroscope

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	} else {
		shutdownOtelx = func(context.Context) error { return nil }
	}

	// attach profile ids to spans when pyroscope is running
	if profilingActive {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profilingActive)

	// Initialize stores
	var (
		tickets     ticket.Store
		suggestions triage.SuggestionStore
		auditSink   audit.Sink
		auditReader audit.Reader
		retriever   kb.Retriever
	)
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()

		ts, err := ticketpg.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("ticket store init: %w", err)
		}
		tps, err := triagepg.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("triage store init: %w", err)
		}
		kbr, err := pgkb.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("kb store init: %w", err)
		}
		tickets, suggestions, auditSink, auditReader, retriever = ts, tps, tps, tps, kbr
		L.Info(ctx, "using postgres stores")
	} else {
		tms := triagemem.New()
		tickets, suggestions, auditSink, auditReader = ticketmem.New(), tms, tms, tms
		retriever = kb.NewIndex()
		L.Info(ctx, "using in-memory stores (no database-url configured)")
	}

	// a seed file replaces whichever retriever the store mode picked
	if appCfg.KBSeedFile != "" {
		articles, err := kb.LoadSeed(appCfg.KBSeedFile)
		if err != nil {
			return fmt.Errorf("kb seed: %w", err)
		}
		retriever = kb.NewIndex(articles...)
		L.Info(ctx, "loaded kb seed", "path", appCfg.KBSeedFile, "articles", len(articles))
	}

	policySrc := newPolicySource(&appCfg)

	// Initialize the triage provider. The LLM client only exists in network mode.
	var llm triage.LLM
	if provider.Mode(appCfg.ProviderMode) == provider.ModeAnthropic {
		llm = claude.New(claude.Config{
			APIKey:  appCfg.ClaudeAPIKey,
			Model:   appCfg.ClaudeModel,
			BaseURL: appCfg.ClaudeBaseURL,
			Timeout: appCfg.LLMTimeout,
		})
	}
	triageProvider, err := provider.New(provider.Config{
		Mode:  provider.Mode(appCfg.ProviderMode),
		Model: appCfg.ClaudeModel,
		Retry: appCfg.RetryPolicy(),
	}, llm, L)
	if err != nil {
		return fmt.Errorf("provider init: %w", err)
	}
	info := triageProvider.Info()
	L.Info(ctx, "initialized triage provider", "provider", info.Provider, "model", info.Model, "stub_mode", triageProvider.IsStubMode())

	// Initialize notifiers. Both are optional; with neither, decisions are only audited.
	notifiers, closeNotifiers := newNotifiers(&appCfg, L)
	for _, n := range notifiers {
		L.Info(ctx, "notifier enabled", "type", fmt.Sprintf("%T", n))
	}

	// Initialize triage metrics on the shared Prometheus registry.
	triageMetrics := triage.NewMetrics(m.Registry())

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deskmate_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	engine := triage.NewEngine(triage.EngineDeps{
		Tickets:     tickets,
		Suggestions: suggestions,
		Provider:    triageProvider,
		Retriever:   retriever,
		Audit:       audit.NewRecorder(auditSink, L),
		Policy:      policySrc,
		Notifier:    notifiers,
		Logger:      L,
		Hooks:       triageMetrics.Hooks(),
		RunTimeout:  appCfg.RunTimeout,
	})

	// Initialize the triage service (sync runs, async dispatch, read paths).
	triageSvc := triage.NewService(engine, auditReader, L)

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener, internal monitoring only
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, ticket descriptions are capped well below this
	r.Use(httpmw.MaxBody(1024 * 64))

	// add health check endpoints to main listener, unauthenticated for the load balancer
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes behind bearer auth
	triageHTTP := triageapi.New(L, tickets, triageSvc)
	r.Group(func(r chi.Router) {
		r.Use(authmw.BearerToken(appCfg.APIToken))
		triageHTTP.RegisterRoutes(r)
	})

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h)

	// Recovery middleware to recover and log panics and serve 500 response.
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start API HTTP server with middleware and handlers
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	// The API server goes first so no new runs are dispatched while we wait.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"background triage runs", triageSvc.Wait},
		{"notifiers", closeNotifiers},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// newPolicySource reads the policy file through a TTL cache when one is
// configured, otherwise serves the flag values.
func newPolicySource(c *dc.Config) policy.Source {
	if c.PolicyFile != "" {
		return policy.NewCache(policy.File{Path: c.PolicyFile}, c.PolicyTTL)
	}
	return policy.Static(c.Policy())
}

// newNotifiers builds the configured notifiers and a func that releases them.
func newNotifiers(c *dc.Config, L log.Logger) (triage.Notifiers, func(context.Context) error) {
	var (
		ns     triage.Notifiers
		kafkaN *kafkanotify.Notifier
	)
	if c.SlackWebhookURL != "" {
		ns = append(ns, slack.New(c.SlackWebhookURL, L))
	}
	if brokers := c.Brokers(); len(brokers) > 0 {
		kafkaN = kafkanotify.New(brokers, c.KafkaTopic, L)
		ns = append(ns, kafkaN)
	}
	closeFn := func(context.Context) error {
		if kafkaN == nil {
			return nil
		}
		return kafkaN.Close()
	}
	return ns, closeFn
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
