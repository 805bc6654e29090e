package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/gateway"
)

const (
	jwtSecretEnv     = "STOREFRONT_JWT_SECRET"
	webhookSecretEnv = "STOREFRONT_WEBHOOK_SECRET"
)

type loadMode string

const (
	// Только создание заказа.
	modeCreate loadMode = "create"
	// Заказ и платёжное намерение.
	modeCheckout loadMode = "checkout"
	// Заказ, намерение и подписанный callback шлюза.
	modeCheckoutVerify loadMode = "checkout-verify"
)

type config struct {
	baseURL       string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	connections   int
	timeout       time.Duration
	mode          loadMode
	cancelRate    int
	userID        string
	addressID     string
	productID     string
	quantity      int32
	jwtSecret     string
	webhookSecret string
	outputPath    string
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutVerify:
		return modeCheckoutVerify, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func (cfg *config) validate() error {
	if strings.TrimSpace(cfg.jwtSecret) == "" {
		cfg.jwtSecret = os.Getenv(jwtSecretEnv)
	}
	if strings.TrimSpace(cfg.webhookSecret) == "" {
		cfg.webhookSecret = os.Getenv(webhookSecretEnv)
	}

	switch {
	case strings.TrimSpace(cfg.baseURL) == "":
		return errors.New("base-url is required")
	case cfg.duration < 0:
		return errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return errors.New("quantity must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.userID) == "":
		return errors.New("user is required")
	case strings.TrimSpace(cfg.addressID) == "":
		return errors.New("address is required")
	case strings.TrimSpace(cfg.productID) == "":
		return errors.New("product is required")
	case strings.TrimSpace(cfg.jwtSecret) == "":
		return fmt.Errorf("jwt-secret (or %s) is required", jwtSecretEnv)
	case cfg.mode == modeCheckoutVerify && strings.TrimSpace(cfg.webhookSecret) == "":
		return fmt.Errorf("webhook-secret (or %s) is required for %s mode", webhookSecretEnv, modeCheckoutVerify)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	var (
		cfg       config
		modeValue string
		quantity  int
	)

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive checkout scenarios against the storefront HTTP API",
		Long: "Drive checkout scenarios against the storefront HTTP API.\n\n" +
			"Cancelled orders return their stock, so the default cancel-rate keeps\n" +
			"the demo catalog from running dry on long runs.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := parseMode(modeValue)
			if err != nil {
				return err
			}
			cfg.mode = mode
			cfg.quantity = int32(quantity)
			cfg.totalSet = cmd.Flags().Changed("total")
			if err := cfg.validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			result, err := run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), result, cfg)
			if cfg.outputPath != "" {
				if err := writeJSONReport(cfg.outputPath, result); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			if result.FailedScenarios > 0 {
				return fmt.Errorf("%d of %d scenarios failed", result.FailedScenarios, result.TotalScenarios)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "storefront HTTP API base URL")
	flags.IntVar(&cfg.total, "total", 100, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flags.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	flags.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	flags.IntVar(&cfg.connections, "connections", 20, "max HTTP connections to the API")
	flags.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	flags.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: create | checkout | checkout-verify")
	flags.IntVar(&cfg.cancelRate, "cancel-rate", 100, "percent of scenarios that cancel the order at the end (0..100)")
	flags.StringVar(&cfg.userID, "user", "demo-user", "user id for the bearer token")
	flags.StringVar(&cfg.addressID, "address", "demo-address", "shipping address id owned by the user")
	flags.StringVar(&cfg.productID, "product", "prod-tea", "product id to order")
	flags.IntVar(&quantity, "quantity", 1, "quantity per order")
	flags.StringVar(&cfg.jwtSecret, "jwt-secret", "", "HS256 secret to mint the bearer token (fallback: "+jwtSecretEnv+")")
	flags.StringVar(&cfg.webhookSecret, "webhook-secret", "", "gateway webhook secret for checkout-verify (fallback: "+webhookSecretEnv+")")
	flags.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		_, _ = fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

// run выпускает токен, запускает воркеров и собирает отчёт.
func run(ctx context.Context, cfg config) (report, error) {
	token, err := auth.NewTokens(cfg.jwtSecret, cfg.duration+time.Hour).
		GenerateToken(domain.Principal{ID: cfg.userID, Role: domain.RoleUser})
	if err != nil {
		return report{}, fmt.Errorf("mint token: %w", err)
	}
	client := newAPIClient(cfg.baseURL, token, cfg.timeout, cfg.connections)

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(ctx, client, cfg, id, runID, col)
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt)), nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

// runScenario проходит один сценарий покупки. Шаги пишутся в collector
// по отдельности и вместе как scenarioStep.
func runScenario(ctx context.Context, client *apiClient, cfg config, index int, runID string, col *collector) (err error) {
	scenarioStart := time.Now()
	defer func() {
		col.record(scenarioStep, time.Since(scenarioStart), statusOf(err), err == nil)
	}()

	var order orderRef
	err = timed(col, "create_order", func() (int, error) {
		var status int
		var callErr error
		order, status, callErr = client.createOrder(ctx, createOrderBody{
			AddressID: cfg.addressID,
			Items:     []cartLine{{ProductID: cfg.productID, Quantity: cfg.quantity}},
			Notes:     "loadtest " + runID,
		}, fmt.Sprintf("lt-create-%s-%d", runID, index))
		return status, callErr
	})
	if err != nil {
		return err
	}
	if order.ID == "" {
		return errors.New("create response returned empty order id")
	}

	if cfg.mode != modeCreate {
		var intent intentRef
		err = timed(col, "create_payment_intent", func() (int, error) {
			var status int
			var callErr error
			intent, status, callErr = client.createPaymentIntent(ctx, order.ID)
			return status, callErr
		})
		if err != nil {
			return err
		}

		if cfg.mode == modeCheckoutVerify {
			paymentRef := fmt.Sprintf("pay_lt%s%d", strings.ReplaceAll(runID, "-", ""), index)
			err = timed(col, "verify_payment", func() (int, error) {
				_, status, callErr := client.verifyPayment(ctx, callbackBody{
					GatewayOrderRef:   intent.GatewayOrderRef,
					GatewayPaymentRef: paymentRef,
					Signature:         gateway.Sign(cfg.webhookSecret, intent.GatewayOrderRef, paymentRef),
				})
				return status, callErr
			})
			if err != nil {
				return err
			}
		}
	}

	if shouldCancelScenario(index, cfg.cancelRate) {
		err = timed(col, "cancel_order", func() (int, error) {
			return client.cancelOrder(ctx, order.ID, "loadtest")
		})
	}
	return err
}

func timed(col *collector, step string, call func() (int, error)) error {
	start := time.Now()
	status, err := call()
	col.record(step, time.Since(start), status, err == nil)
	return err
}

func statusOf(err error) int {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	if err != nil {
		return 0
	}
	return 200
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
