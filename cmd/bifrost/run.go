package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nabbar/bifrost/internal/config"
	"github.com/nabbar/bifrost/internal/forwardproxy"
	"github.com/nabbar/bifrost/internal/listener"
	"github.com/nabbar/bifrost/internal/logx"
	"github.com/nabbar/bifrost/internal/metrics"
	"github.com/nabbar/bifrost/internal/ratelimit"
	"github.com/nabbar/bifrost/internal/reverseproxy"
	"github.com/nabbar/bifrost/internal/staticfiles"
	"github.com/nabbar/bifrost/internal/tlsterm"
	"github.com/nabbar/bifrost/internal/worker"
)

var runFlags struct {
	listenAddress string
	logLevel      string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Bifrost proxy listener",
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen_addr")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override logging level")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if runFlags.listenAddress != "" {
		cfg.ListenAddr = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}

	log := logx.New(os.Stdout, cfg.Logging.Level)

	proxyType := proxyTypeFor(cfg.Mode)
	reg := prometheus.NewRegistry()
	wrk := worker.New(proxyType, limitsFrom(cfg, proxyType), maxIdlePerHostFrom(cfg), reg)

	lim := ratelimit.New(cfg.RateLimit())
	if cfg.RateLimiting.Enabled {
		sweepCtx, sweepCancel := context.WithCancel(context.Background())
		defer sweepCancel()
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-sweepCtx.Done():
					return
				case <-ticker.C:
					lim.Sweep(30 * time.Minute)
				}
			}
		}()
	}

	var fwdEngine *forwardproxy.Engine
	var revEngine *reverseproxy.Engine
	var staticEngine *staticfiles.Engine

	if cfg.Mode == config.ModeForward || cfg.Mode == config.ModeCombined {
		fwdEngine = forwardproxy.NewEngine(forwardproxy.Config{
			Username: cfg.ProxyUsername,
			Password: cfg.ProxyPassword,
			Relays:   relaysFrom(cfg),
		}, wrk, log)
	}

	if cfg.Mode == config.ModeReverse || cfg.Mode == config.ModeCombined {
		table, err := cfg.BuildRouteTable()
		if err != nil {
			return fmt.Errorf("building route table: %w", err)
		}
		revEngine = reverseproxy.NewEngine(table, wrk, log)

		hc := reverseproxy.NewHealthChecker(table, log)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go hc.Run(ctx)
	}

	if len(cfg.StaticFiles.Mounts) > 0 {
		staticEngine = staticfiles.NewEngine(cfg.BuildStaticTable(), wrk, log)
	}

	lcfg := listener.Config{
		Mode:            listenerModeFor(cfg.Mode),
		Addr:            cfg.ListenAddr,
		Worker:          wrk,
		Logger:          log,
		RateLimit:       lim,
		Forward:         fwdEngine,
		Reverse:         revEngine,
		Static:          staticEngine,
		MaxHeaderBytes:  cfg.MaxHeaderSize,
		GracefulTimeout: 30 * time.Second,
	}

	if cfg.TLSEnabled() {
		tlsCfg, err := tlsterm.Load(tlsterm.Config{CertificateFile: cfg.Certificate, PrivateKeyFile: cfg.PrivateKey})
		if err != nil {
			return fmt.Errorf("loading TLS material: %w", err)
		}
		lcfg.TLS = tlsCfg
	}

	l := listener.New(lcfg)

	watcher, err := config.WatchFile(cfgFile, []string{cfg.Certificate, cfg.PrivateKey}, func(_ config.Config, werr error) {
		if werr != nil {
			log.WithError(werr).Warn("config file changed but failed re-validation")
			return
		}
		log.Info("config file changed and re-validated cleanly; restart to apply")
	})
	if err != nil {
		log.WithError(err).Warn("config hot-validate watcher unavailable")
	} else {
		defer watcher.Close()
	}

	registry := worker.NewRegistry()
	registry.Register(wrk)

	var adminSrv *http.Server
	if cfg.Monitoring.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		mux.Handle("/healthz", registry.HealthHandler())
		adminSrv = &http.Server{Addr: cfg.Monitoring.Listen, Handler: mux}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("admin listener failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.With(logx.Fields{"listen_addr": cfg.ListenAddr, "mode": string(cfg.Mode)}).Info("starting bifrost")

	errCh := make(chan error, 1)
	go func() { errCh <- l.ListenAndServe(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listener failed: %w", err)
		}
	}

	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
	}

	if err := <-errCh; err != nil {
		return fmt.Errorf("listener failed: %w", err)
	}
	wrk.Pool.CloseAll()
	log.Info("graceful shutdown complete")
	return nil
}

func proxyTypeFor(m config.Mode) worker.ProxyType {
	switch m {
	case config.ModeForward:
		return worker.Forward
	case config.ModeReverse:
		return worker.Reverse
	default:
		return worker.Combined
	}
}

func listenerModeFor(m config.Mode) listener.Mode {
	switch m {
	case config.ModeForward:
		return listener.ModeForward
	case config.ModeReverse:
		return listener.ModeReverse
	default:
		return listener.ModeCombined
	}
}

func limitsFrom(cfg config.Config, t worker.ProxyType) worker.WorkerResourceLimits {
	l := worker.DefaultLimits(t)
	if cfg.MaxConnections > 0 {
		l.MaxConnections = cfg.MaxConnections
	}
	if cfg.ConnectTimeoutSecs > 0 {
		l.ConnectTimeout = cfg.ConnectTimeout()
	}
	if cfg.IdleTimeoutSecs > 0 {
		l.IdleTimeout = cfg.IdleTimeout()
	}
	if cfg.MaxConnectionLifetimeSecs > 0 {
		l.MaxConnectionLifetime = cfg.MaxConnectionLifetime()
	}
	return l
}

func maxIdlePerHostFrom(cfg config.Config) int {
	if !cfg.ConnectionPoolEnabled {
		return 0
	}
	return 8
}

func relaysFrom(cfg config.Config) []forwardproxy.RelayProxy {
	out := make([]forwardproxy.RelayProxy, 0, len(cfg.RelayProxies))
	for _, r := range cfg.RelayProxies {
		out = append(out, forwardproxy.RelayProxy{
			Domain:   r.Domain,
			Address:  r.Address,
			Username: r.Username,
			Password: r.Password,
		})
	}
	return out
}
