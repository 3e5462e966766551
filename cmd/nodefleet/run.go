package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/BayajidAlam/node-fleet/pkg/config"
	"github.com/BayajidAlam/node-fleet/pkg/decision"
	"github.com/BayajidAlam/node-fleet/pkg/drainer"
	"github.com/BayajidAlam/node-fleet/pkg/log"
	"github.com/BayajidAlam/node-fleet/pkg/metrics"
	"github.com/BayajidAlam/node-fleet/pkg/metricsource"
	"github.com/BayajidAlam/node-fleet/pkg/notify"
	"github.com/BayajidAlam/node-fleet/pkg/provider"
	"github.com/BayajidAlam/node-fleet/pkg/provisioner"
	"github.com/BayajidAlam/node-fleet/pkg/reconciler"
	"github.com/BayajidAlam/node-fleet/pkg/registry"
	"github.com/BayajidAlam/node-fleet/pkg/secrets"
	"github.com/BayajidAlam/node-fleet/pkg/statestore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the autoscaler control loop",
	Long: `Run the reconciler as a resident daemon: one reconciliation per tick
interval, with the autoscaler's own metrics served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		ctx := cmd.Context()

		app, err := buildApp(ctx, cfgPath)
		if err != nil {
			return err
		}
		defer app.close()

		srv := &http.Server{Addr: metricsAddr, Handler: metricsMux()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("Metrics server failed", err)
			}
		}()

		app.reconciler.Start(ctx)
		clusterLog := log.WithCluster(app.cfg.ClusterID)
		clusterLog.Info().
			Str("version", Version).
			Dur("tick_interval", app.cfg.TickInterval).
			Msg("Autoscaler started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			clusterLog.Info().Str("signal", sig.String()).Msg("Shutting down")
		case <-ctx.Done():
		}

		app.reconciler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single reconciliation and exit",
	Long: `Run one reconciliation tick. Intended for external schedulers that
invoke the autoscaler as a cron job instead of running the daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		ctx := cmd.Context()

		app, err := buildApp(ctx, cfgPath)
		if err != nil {
			return err
		}
		defer app.close()

		tickCtx, cancel := context.WithTimeout(ctx, app.cfg.LockTTL)
		defer cancel()
		return app.reconciler.RunOnce(tickCtx)
	},
}

func init() {
	runCmd.Flags().String("metrics-addr", ":9090", "Listen address for the /metrics endpoint")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// app holds the wired component graph for one invocation.
type app struct {
	cfg        config.Config
	store      statestore.Store
	reconciler *reconciler.Reconciler
	notifier   notify.Notifier
}

func (a *app) close() {
	a.notifier.Close()
	if err := a.store.Close(); err != nil {
		log.Errorf("Failed to close state store", err)
	}
}

func buildApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	store := statestore.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.StateTable, cfg.HistoryTable)
	compute := provider.NewEC2Provider(ec2.NewFromConfig(awsCfg))
	secretStore := secrets.New(ssm.NewFromConfig(awsCfg))

	kubeClient, err := buildKubeClient(cfg)
	if err != nil {
		return nil, err
	}
	reg := registry.NewKubeRegistry(kubeClient, cfg.ClusterID)

	source, err := metricsource.New(cfg)
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(ctx, cfg, secretStore)
	if err != nil {
		return nil, err
	}

	engine, err := decision.New(cfg)
	if err != nil {
		return nil, err
	}

	rec := reconciler.New(cfg, store, source, engine,
		provisioner.New(compute, reg, cfg),
		drainer.New(compute, reg, cfg),
		notifier)

	return &app{cfg: cfg, store: store, reconciler: rec, notifier: notifier}, nil
}

func buildKubeClient(cfg config.Config) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error
	if cfg.Kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build cluster registry config: %w", err)
	}
	return kubernetes.NewForConfig(restCfg)
}

// buildNotifier resolves the webhook URL from the secret store; with no
// secret configured, notifications are discarded.
func buildNotifier(ctx context.Context, cfg config.Config, secretStore *secrets.Store) (notify.Notifier, error) {
	if cfg.WebhookURLSecret == "" {
		return notify.Nop{}, nil
	}
	url, err := secretStore.Get(ctx, cfg.WebhookURLSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve webhook secret: %w", err)
	}
	return notify.NewWebhook(url), nil
}
