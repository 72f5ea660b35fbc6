package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/db"
	"github.com/gatewarden/gatewarden/internal/ipalloc"
	"github.com/gatewarden/gatewarden/internal/logging"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/observer"
	"github.com/gatewarden/gatewarden/internal/peerops"
	"github.com/gatewarden/gatewarden/internal/reboot"
	"github.com/gatewarden/gatewarden/internal/storage"
	"github.com/gatewarden/gatewarden/internal/wghub"
	"github.com/gatewarden/gatewarden/internal/wgkey"
	"github.com/gatewarden/gatewarden/internal/xray"
)

// drainTimeout bounds the graceful shutdown of the ops server.
const drainTimeout = 10 * time.Second

var (
	migrateOnBoot bool
	migrationsDir string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gatewarden daemon",
	Long: "Start the gatewarden daemon. Loads the peer roster from PostgreSQL,\n" +
		"attaches to the WireGuard interface and the XRay panel, and runs the\n" +
		"connection and expiry observers until interrupted.",
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&migrateOnBoot, "migrate", false, "apply database migrations before starting")
	runCmd.Flags().StringVar(&migrationsDir, "migrate-dir", "migrations", "migration files directory")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("gatewardend run: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("gatewardend run: %w", err)
	}

	logger, err := logging.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("gatewardend run: %w", err)
	}
	logger.Info().
		Str("version", buildVersion).
		Bool("amnezia", cfg.Wireguard.IsAmnezia()).
		Ints64("admins", cfg.Bot.Admins).
		Msg("starting gatewarden")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if migrateOnBoot {
		logger.Info().Str("dir", migrationsDir).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DB.Path, migrationsDir); err != nil {
			return fmt.Errorf("gatewardend run: migrations: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("gatewardend run: connect database: %w", err)
	}
	defer pool.Close()

	store := storage.NewService(pool, wgkey.ExecKeyTool{Amnezia: cfg.Wireguard.IsAmnezia()})

	used, err := store.ListUsedIPs(ctx)
	if err != nil {
		return fmt.Errorf("gatewardend run: list used addresses: %w", err)
	}
	free, err := ipalloc.FreeAddrs(cfg.Wireguard.IP, cfg.Wireguard.IPMask, used)
	if err != nil {
		return fmt.Errorf("gatewardend run: build address pool: %w", err)
	}
	ips := ipalloc.New(free)
	logger.Info().Int("used", len(used)).Int("free", ips.Available()).Msg("address pool loaded")

	hub, err := wghub.New(cfg.Wireguard.Path, wghub.ExecControl{Amnezia: cfg.Wireguard.IsAmnezia()}, true, logger)
	if err != nil {
		return fmt.Errorf("gatewardend run: open wireguard config: %w", err)
	}

	panel, err := xray.NewWorker(ctx, xray.Options{
		Host:     cfg.Xray.Host,
		Port:     cfg.Xray.Port,
		WebPath:  cfg.Xray.WebPath,
		Username: cfg.Xray.Username,
		Password: cfg.Xray.Password,
		Token:    cfg.Xray.Token,
		TLS:      cfg.Xray.TLS,
	}, logger)
	if err != nil {
		return fmt.Errorf("gatewardend run: xray panel: %w", err)
	}
	if _, err := panel.GetInbound(ctx, cfg.Xray.InboundID); err != nil {
		return fmt.Errorf("gatewardend run: verify xray inbound %d: %w", cfg.Xray.InboundID, err)
	}

	prober := &peerops.ICMPProber{Privileged: true}
	wgBackend := peerops.NewWireguardBackend(hub, prober, cfg.Wireguard, logger)
	xrayBackend := peerops.NewXrayBackend(panel)
	dispatcher := peerops.NewDispatcher(wgBackend, xrayBackend, store, ips, logger)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg, ips)
	metrics.RegisterPoolStats(reg, pool)
	opsSrv := metrics.NewServer(fmt.Sprintf(":%d", cfg.Core.MetricsPort), reg)

	notice, found, err := reboot.Consume(reboot.DefaultPath)
	if err != nil {
		return fmt.Errorf("gatewardend run: reboot sentinel: %w", err)
	}
	if found {
		logger.Info().Str("notify", notice).Msg("restart sentinel consumed")
	}

	buses := observer.NewBuses(logger)
	conn := observer.NewConnection(store, dispatcher, buses, collector, cfg.Core, notice, logger)
	sweep := observer.NewInterval(store, dispatcher, buses, observer.DefaultSweepTime, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return conn.Run(gctx) })
	g.Go(func() error { return sweep.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("addr", opsSrv.Addr).Msg("ops server listening")
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return opsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("gatewardend run: %w", err)
	}
	logger.Info().Msg("gatewarden stopped")
	return nil
}
