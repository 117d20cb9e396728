package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/gate"
	"github.com/keygate/keygate/internal/handler"
	"github.com/keygate/keygate/internal/server"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/usage"
)

const banner = `
 _  __ ___ __   __ ___   _  _____ ___
| |/ /| __|\ \ / // __| /_\|_   _| __|
| ' < | _|  \ V /| (_ |/ _ \ | | | _|
|_|\_\|___|  |_|  \___/_/ \_\|_| |___|
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate gateway and admin API",
		Long: `Start the HTTP server. Requests under /api/v1/gw/{upstream}/ are checked
against their API key and quota, forwarded to the named upstream, and recorded.
The admin API lives under /api/v1/admin and requires an admin session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)
	out := cmd.OutOrStdout()

	fmt.Fprint(out, banner)
	fmt.Fprintln(out)

	// 1. Storage, lookup cache, limiter and services
	a, err := openApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.ephemeralSecret {
		logger.Warn("auth.jwt_secret is not set; admin sessions will not survive a restart")
	}

	// 2. Usage recorder and the auth gate
	recorder := usage.New(a.store, logger, usage.Options{
		QueueSize:    cfg.Usage.QueueSize,
		Workers:      cfg.Usage.Workers,
		WriteTimeout: config.Duration(cfg.Usage.WriteTimeout),
	})
	g := gate.New(a.store, a.limiter, recorder, logger, gate.Config{
		LookupTimeout: config.Duration(cfg.Gate.LookupTimeout),
	})

	// 3. Background jobs. Only the in-process limiter has windows to collect;
	// Redis expires its own.
	windows, _ := a.limiter.(service.Collector)
	sched, err := service.NewScheduler(service.SchedulerConfig{
		ExpireSchedule:  cfg.Sweep.Schedule,
		PurgeSchedule:   cfg.Sweep.PurgeSchedule,
		CollectSchedule: cfg.RateLimit.CollectSchedule,
		RetentionDays:   cfg.Usage.RetentionDays,
	}, a.keys, a.stats, windows, logger)
	if err != nil {
		recorder.Close(ctx)
		return err
	}

	// 4. Upstream proxies
	gw, err := handler.NewGatewayHandler(cfg.Upstreams, config.Duration(cfg.Server.ProxyTimeout), logger)
	if err != nil {
		recorder.Close(ctx)
		return err
	}

	checks := map[string]handler.Pinger{"storage": a.store}
	if a.redis != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}

	// 5. First-run hint
	hasAdmin, err := a.store.HasAnyAdmin(ctx)
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account found - run: keygate admin create")
	}

	// 6. Build and start HTTP server
	srvCfg := serverConfig(cfg)
	srv := server.New(srvCfg, server.Deps{
		Gate:    g,
		Keys:    a.keys,
		Stats:   a.stats,
		Auth:    a.auth,
		Gateway: gw,
		Checks:  checks,
	}, logger)
	srv.OnShutdown("usage recorder", recorder.Close)
	srv.OnShutdown("scheduler", sched.Stop)

	sched.Start()

	fmt.Fprintf(out, "→ Keygate %s\n", versionString())
	fmt.Fprintf(out, "→ Listening on http://%s:%d\n", srvCfg.Host, srvCfg.Port)
	fmt.Fprintf(out, "→ Gateway:    http://%s:%d/api/v1/gw/{upstream}/\n", srvCfg.Host, srvCfg.Port)
	fmt.Fprintf(out, "→ OpenAPI:    http://%s:%d/openapi.json\n", srvCfg.Host, srvCfg.Port)
	fmt.Fprintf(out, "→ Health:     http://%s:%d/healthz\n", srvCfg.Host, srvCfg.Port)
	fmt.Fprintf(out, "→ Upstreams:  %d  Storage: %s  Rate limits: %s\n",
		len(cfg.Upstreams), cfg.Storage.Driver, cfg.RateLimit.Backend)
	fmt.Fprintln(out)

	return srv.ListenAndServe(ctx)
}

// serverConfig maps the loaded configuration onto server.Config.
func serverConfig(cfg *config.Config) server.Config {
	sc := server.DefaultConfig()
	sc.Host = cfg.Server.Host
	sc.Port = cfg.Server.Port
	sc.PublicURL = cfg.Server.PublicURL
	sc.Version = versionString()
	sc.CORSOrigins = cfg.Server.CORSOrigins
	sc.LoginRateLimit = cfg.Server.LoginRateLimit
	sc.IPRateLimit = cfg.RateLimit.IPLimitPerMinute
	sc.EnableMetrics = cfg.Server.Metrics
	if d := config.Duration(cfg.Server.ShutdownTimeout); d > 0 {
		sc.ShutdownTimeout = d
	}
	if n, err := config.ParseByteSize(cfg.Server.MaxBodySize); err == nil {
		sc.MaxBodySize = n
	}
	return sc
}
