package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mergetide/go-scd"
	"github.com/mergetide/go-scd/cli/config"
	"github.com/mergetide/go-scd/cli/styles"
	"github.com/mergetide/go-scd/codec"
	codecmsgpack "github.com/mergetide/go-scd/codec/msgpack"
	"github.com/mergetide/go-scd/middleware/metrics"
	notifykafka "github.com/mergetide/go-scd/notify/kafka"
	"github.com/mergetide/go-scd/notify/webhook"
	sourcekafka "github.com/mergetide/go-scd/source/kafka"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume change feeds and merge them",
		Long: `Consume each entity's Kafka topic and maintain its current-state
and history projections. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runMerger(cmd.Context(), cfg)
		},
	}

	return cmd
}

func runMerger(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []scd.Option{scd.WithLogger(slogAdapter{logger})}
	if cfg.Workers > 0 {
		opts = append(opts, scd.WithWorkers(cfg.Workers))
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		m := metrics.New(metrics.WithServiceName(cfg.Service))
		registry := prometheus.NewRegistry()
		registry.MustRegister(m.Collectors()...)
		opts = append(opts, scd.WithMetrics(m))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	if n := buildNotifier(cfg); n != nil {
		opts = append(opts, scd.WithNotifier(n))
	}

	engine, err := scd.NewEngine(store, entities(cfg), opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	rowCodec, err := buildCodec(cfg)
	if err != nil {
		return err
	}

	fmt.Println(styles.FormatInfo(fmt.Sprintf("Merging %d entities from %v", len(cfg.Entities), cfg.Kafka.Brokers)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(cfg.Entities))
	for _, e := range cfg.Entities {
		consumer, err := sourcekafka.NewConsumer(
			cfg.Kafka.Brokers, e.Topic, cfg.Kafka.GroupID, e.Entity(),
			sourcekafka.WithCodec(rowCodec),
			sourcekafka.WithLogger(slogAdapter{logger.With("entity", e.Name)}),
			sourcekafka.WithBatchSize(cfg.Kafka.BatchSize),
			sourcekafka.WithMaxWait(cfg.Kafka.MaxWait),
		)
		if err != nil {
			return err
		}

		wg.Add(1)
		go func(name string, c *sourcekafka.Consumer) {
			defer wg.Done()
			defer c.Close()
			if err := c.Run(ctx, engine); err != nil {
				errCh <- fmt.Errorf("entity %s: %w", name, err)
				stop()
			}
		}(e.Name, consumer)
	}

	wg.Wait()
	close(errCh)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	fmt.Println(styles.FormatSuccess("Shut down cleanly"))
	return nil
}

func buildNotifier(cfg *config.Config) scd.Notifier {
	if cfg.Notify.KafkaTopic != "" {
		return notifykafka.New(cfg.Kafka.Brokers, cfg.Notify.KafkaTopic)
	}
	if cfg.Notify.WebhookURL != "" {
		return webhook.New(cfg.Notify.WebhookURL)
	}
	return nil
}

func buildCodec(cfg *config.Config) (codec.RowCodec, error) {
	switch cfg.Kafka.Codec {
	case "", "json":
		return codec.NewJSONCodec(), nil
	case "msgpack":
		return codecmsgpack.NewCodec(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", cfg.Kafka.Codec)
	}
}

// slogAdapter bridges the engine's logger interface to slog.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Debug(msg string, args ...interface{}) { a.l.Debug(msg, args...) }
func (a slogAdapter) Info(msg string, args ...interface{})  { a.l.Info(msg, args...) }
func (a slogAdapter) Warn(msg string, args ...interface{})  { a.l.Warn(msg, args...) }
func (a slogAdapter) Error(msg string, args ...interface{}) { a.l.Error(msg, args...) }
