package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	appNotification "github.com/Zhima-Mochi/payment-orchestrator/internal/application/notification"
	appOrder "github.com/Zhima-Mochi/payment-orchestrator/internal/application/order"
	appPayment "github.com/Zhima-Mochi/payment-orchestrator/internal/application/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/config"
	dompay "github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/id"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/notify"
	infraobs "github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/outbox"
	paymentworker "github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/payment/worker"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/cash"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/directcapture"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/embedded"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/redirect"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/redirectgw"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/stripe"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/redis"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	httppresentation "github.com/Zhima-Mochi/payment-orchestrator/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/payment-orchestrator/internal/presentation/worker"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "payment-orchestrator",
		Short:        "Payment orchestration engine",
		Version:      Version,
		SilenceUsage: true,
		RunE:         func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context()) },
	}
	rootCmd.AddCommand(serveCmd(), routesCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, confirmation pollers and event workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func routesCmd() *cobra.Command {
	var country string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print which adapter each payment method resolves to",
		Long: `Print the effective provider route table.

Examples:
  payment-orchestrator routes
  payment-orchestrator routes --country TR`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			table, err := config.LoadRouting(cfg.RoutingFile)
			if err != nil {
				return err
			}
			router, err := appPayment.NewRouter(table)
			if err != nil {
				return err
			}
			registerAdapters(router, cfg, observability.Nop())

			out := cmd.OutOrStdout()
			for _, m := range dompay.Methods {
				name, rerr := router.Resolve(m, appPayment.RouteContext{Country: country})
				if rerr != nil {
					// unconfigured providers are never registered, so they show up here
					fmt.Fprintf(out, "%-24s -  %s\n", m, dompay.MessageOf(rerr))
					continue
				}
				fmt.Fprintf(out, "%-24s %s\n", m, name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&country, "country", "c", "", "route as if the payer were in this country")
	return cmd
}

func serve(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	baseLogger, err := zaplogger.New(
		zaplogger.Options{Level: cfg.LogLevel, LogFile: cfg.LogFile},
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = baseLogger.Sync() }()

	tel := infraobs.New(
		oteltrace.New(cfg.ServiceName),
		baseLogger,
		infraobs.StandardInstruments(prometrics.New("", "")),
	)
	logger := tel.Logger().With(observability.F("component", "main"))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// In-memory event bus (outbox) between the payment engine, orders and workers.
	bus := outbox.NewBus(tel)
	bus.Start(ctx)

	intents, closeStore, err := intentStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	orderRepo := memory.NewOrderRepository()
	ids := id.NewUUIDGenerator()
	orderService := appOrder.NewService(orderRepo, bus, tel)
	createOrder := appOrder.NewCreateOrderUseCase(orderRepo, ids, bus, tel)

	table, err := config.LoadRouting(cfg.RoutingFile)
	if err != nil {
		return err
	}
	router, err := appPayment.NewRouter(table)
	if err != nil {
		return err
	}
	registered := registerAdapters(router, cfg, tel)
	logger.Info("payment_adapters_registered", observability.F("adapters", registered))

	paymentService := appPayment.NewService(appPayment.Dependencies{
		Repo:      intents,
		Orders:    orderService,
		Notifier:  notify.NewBusNotifier(bus, tel),
		IDs:       ids,
		Router:    router,
		Publisher: bus,
		Tel:       tel,
	}, appPayment.Config{
		MaxAttempts:     cfg.MaxAttempts,
		ProviderTimeout: cfg.ProviderTimeout,
		PollInterval:    cfg.PollInterval,
		PollTimeout:     cfg.PollTimeout,
	})

	subscriber := workerpresentation.Instrument(bus, baseLogger)
	appNotification.New(subscriber, notify.NewLogSender(tel), tel).Start()

	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewProducer(kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic), cfg.KafkaTopic, tel)
		paymentworker.New(subscriber, producer, tel).Start()
	}

	var webhooks httppresentation.WebhookParser
	if cfg.StripeWebhookSecret != "" {
		webhooks = stripe.NewWebhookParser(cfg.StripeWebhookSecret)
	}
	handler := httppresentation.NewHandler(createOrder, orderService, paymentService, webhooks, tel)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http_server_start", observability.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http_server_shutdown_error", observability.F("error", err))
		} else {
			logger.Info("http_server_stopped")
		}
		paymentService.Shutdown()
		if err := bus.Stop(shutdownCtx); err != nil {
			logger.Warn("event_bus_stop_incomplete", observability.F("error", err))
		}
		if producer != nil {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka_producer_close_error", observability.F("error", err))
			}
		}
		return nil
	})
	return g.Wait()
}

func intentStore(ctx context.Context, cfg *config.Config) (dompay.Repository, func(), error) {
	if cfg.StoreBackend != config.StoreRedis {
		return memory.NewIntentRepository(), func() {}, nil
	}
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return redis.NewIntentRepository(client, cfg.RedisPrefix), func() { _ = client.Close() }, nil
}

// registerAdapters plugs in every adapter whose provider is configured.
// Cash is always available.
func registerAdapters(router *appPayment.Router, cfg *config.Config, tel observability.Observability) []string {
	router.Register(cash.New())
	names := []string{dompay.AdapterCash}

	if cfg.StripeAPIKey != "" {
		gateway := stripe.New(cfg.StripeAPIKey)
		router.Register(directcapture.New(gateway))
		router.Register(embedded.New(gateway))
		names = append(names, dompay.AdapterDirectCapture, dompay.AdapterEmbeddedForm)
	}
	if cfg.RedirectGatewayURL != "" {
		client := redirectgw.New(cfg.RedirectGatewayURL, cfg.RedirectGatewayKey, cfg.RedirectGatewayTimeout)
		router.Register(redirect.New(client, redirect.NewLogOpener(tel), tel))
		names = append(names, dompay.AdapterRedirectPoll)
	}
	return names
}
