package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/goatkit/chimesgate/internal/appconfig"
	"github.com/goatkit/chimesgate/internal/auth"
	"github.com/goatkit/chimesgate/internal/cachefacade"
	"github.com/goatkit/chimesgate/internal/dbengine"
	"github.com/goatkit/chimesgate/internal/hooks"
	"github.com/goatkit/chimesgate/internal/httpapi"
	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/plugin"
	"github.com/goatkit/chimesgate/internal/plugins/compose"
	"github.com/goatkit/chimesgate/internal/plugins/kafkaplugin"
	"github.com/goatkit/chimesgate/internal/plugins/mqttplugin"
	"github.com/goatkit/chimesgate/internal/plugins/restapi"
	"github.com/goatkit/chimesgate/internal/registry"
	"github.com/goatkit/chimesgate/internal/scheduler"
	"github.com/goatkit/chimesgate/internal/script"
	"github.com/goatkit/chimesgate/internal/script/jsext"
	"github.com/goatkit/chimesgate/internal/workerpool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway's HTTP surface and scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}

	metricsReg := prometheus.NewRegistry()

	nsRegistry := registry.New(cfg.ModelDir)
	if err := nsRegistry.LoadAll(); err != nil {
		return fmt.Errorf("loading model directory: %w", err)
	}

	poolMetrics := dbengine.NewPoolMetrics(metricsReg)
	pools := dbengine.NewPoolManager(poolMetrics)
	cacheManager := cachefacade.NewManager()

	objects := cachefacade.NewCachedObjectExecutor(dbengine.NewObjectExecutor(pools), cacheManager)
	queries := cachefacade.NewCachedQueryExecutor(dbengine.NewQueryExecutor(pools), cacheManager)

	scripts := script.NewRegistry()
	scripts.Register(jsext.New())

	eventPool := workerpool.New(metricsReg, "hooks", eventPoolSize(cfg))
	pipeline := hooks.New(scripts, eventPool)

	installers := plugin.NewInstallers()
	installers.Register("restapi", restapi.Install)
	installers.Register("mqtt", mqttplugin.Install)
	installers.Register("kafka", kafkaplugin.Install)
	installers.Register("compose", compose.Install)

	instances := plugin.NewInstances()

	schemaRegistry := invoker.NewSchemaRegistry(nsRegistry, objects, queries, instances, pipeline)

	if err := installNamespacePlugins(nsRegistry, installers, instances, schemaRegistry); err != nil {
		return fmt.Errorf("installing namespace plugins: %w", err)
	}

	jwtTTL, err := cfg.JWTTTLDuration()
	if err != nil {
		return fmt.Errorf("parsing jwt_ttl: %w", err)
	}
	authManager := auth.NewManager(cfg.JWTSecret, jwtTTL)

	sched := scheduler.New(schemaRegistry, scheduler.WithMetricsRegistry(metricsReg))
	if err := loadScheduledJobs(sched, cfg); err != nil {
		return fmt.Errorf("loading scheduled jobs: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := nsRegistry.Watch(watchCtx); err != nil {
			log.Printf("serve: model directory watch stopped: %v", err)
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{})))

	handlers := httpapi.NewHandlers(schemaRegistry, nsRegistry)
	httpapi.Register(router, handlers, authManager)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("serve: listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-runCtx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := cacheManager.CloseAll(); err != nil {
		log.Printf("serve: closing cache clients: %v", err)
	}
	return nil
}

func eventPoolSize(cfg *appconfig.Config) int {
	if cfg.EventPoolSize > 0 {
		return cfg.EventPoolSize
	}
	return 8
}
