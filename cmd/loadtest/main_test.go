package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/gateway"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
)

const (
	testJWTSecret     = "jwt-loadtest"
	testWebhookSecret = "whsec_loadtest"
	testStock         = 10
)

// newStorefront поднимает настоящий HTTP API поверх memory-хранилища.
func newStorefront(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "prod-tea", Name: "Assam Tea 500g", Price: decimal.RequireFromString("349.00"), StockQuantity: testStock, IsActive: true})
	store.AddAddress("demo-user", "demo-address")

	fake := gateway.NewFake()
	api := httpapi.New(httpapi.Deps{
		Controller:  lifecycle.NewController(store, fake, nil, nil, lifecycle.WithKeyID("rzp_key")),
		Reconciler:  lifecycle.NewReconciler(store, fake, nil, testWebhookSecret),
		Tokens:      auth.NewTokens(testJWTSecret, time.Hour),
		Idempotency: idempotency.NewGuard(store.Idempotency()),
	})
	handler, err := api.Handler()
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, store
}

func testConfig(baseURL string, mode loadMode) config {
	return config{
		baseURL:       baseURL,
		total:         4,
		concurrency:   2,
		connections:   2,
		timeout:       2 * time.Second,
		mode:          mode,
		cancelRate:    100,
		userID:        "demo-user",
		addressID:     "demo-address",
		productID:     "prod-tea",
		quantity:      1,
		jwtSecret:     testJWTSecret,
		webhookSecret: testWebhookSecret,
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    loadMode
		wantErr bool
	}{
		{input: "create", want: modeCreate},
		{input: " checkout ", want: modeCheckout},
		{input: "checkout-verify", want: modeCheckoutVerify},
		{input: "create-pay", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := parseMode(tc.input)
			if tc.wantErr {
				if err == nil || !strings.Contains(err.Error(), "unsupported mode") {
					t.Fatalf("expected unsupported mode error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected mode: got=%s want=%s", got, tc.want)
			}
		})
	}
}

func TestRootCmd_ValidationErrors(t *testing.T) {
	t.Setenv(jwtSecretEnv, "")
	t.Setenv(webhookSecretEnv, "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "bad mode", args: []string{"--mode=bad"}, wantErr: "unsupported mode"},
		{name: "no jwt secret", args: []string{}, wantErr: "jwt-secret"},
		{name: "verify without webhook secret", args: []string{"--jwt-secret=x", "--mode=checkout-verify"}, wantErr: "webhook-secret"},
		{name: "zero total", args: []string{"--jwt-secret=x", "--total=0"}, wantErr: "total must be > 0"},
		{name: "negative duration", args: []string{"--jwt-secret=x", "--duration=-1s"}, wantErr: "duration must be >= 0"},
		{name: "zero concurrency", args: []string{"--jwt-secret=x", "--concurrency=0"}, wantErr: "concurrency must be > 0"},
		{name: "zero connections", args: []string{"--jwt-secret=x", "--connections=0"}, wantErr: "connections must be > 0"},
		{name: "zero timeout", args: []string{"--jwt-secret=x", "--timeout=0s"}, wantErr: "timeout must be > 0"},
		{name: "zero quantity", args: []string{"--jwt-secret=x", "--quantity=0"}, wantErr: "quantity must be > 0"},
		{name: "cancel rate", args: []string{"--jwt-secret=x", "--cancel-rate=101"}, wantErr: "cancel-rate"},
		{name: "empty product", args: []string{"--jwt-secret=x", "--product="}, wantErr: "product is required"},
		{name: "explicit zero total with duration", args: []string{"--jwt-secret=x", "--duration=1s", "--total=0"}, wantErr: "explicitly set"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tc.args)
			cmd.SetOut(&bytes.Buffer{})
			err := cmd.ExecuteContext(context.Background())
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan struct{})
		go func() {
			dispatchJobs(context.Background(), jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		count := 0
		for range jobs {
			count++
		}
		<-done
		if count == 0 {
			t.Fatalf("expected non-zero jobs for duration mode")
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		jobs := make(chan int)
		dispatchJobs(ctx, jobs, config{total: 100})
		if _, ok := <-jobs; ok {
			t.Fatal("expected closed jobs channel")
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record(scenarioStep, 10*time.Millisecond, http.StatusOK, true)
	c.record(scenarioStep, 20*time.Millisecond, http.StatusConflict, false)
	c.record("create_order", 15*time.Millisecond, http.StatusCreated, true)
	c.record("create_order", 15*time.Millisecond, 0, false)

	_, ok := c.snapshot("verify_payment")
	require.False(t, ok)

	scenarios, ok := c.snapshot(scenarioStep)
	require.True(t, ok)
	require.Equal(t, stepReport{
		Calls:     2,
		Success:   1,
		Failed:    1,
		ErrorRate: 0.5,
		Statuses:  map[string]int64{"200": 1, "409": 1},
		LatencyMs: latencySummary{Min: 10, Max: 20, Avg: 15, P50: 10, P95: 20, P99: 20},
	}, scenarios)

	create, _ := c.snapshot("create_order")
	require.Equal(t, map[string]int64{"201": 1, "transport_error": 1}, create.Statuses)

	r := c.buildReport(time.Now(), 2*time.Second)
	require.EqualValues(t, 2, r.TotalScenarios)
	require.EqualValues(t, 1, r.FailedScenarios)
	require.Equal(t, 1.0, r.RPS)
	require.Contains(t, r.Steps, "create_order")
}

func TestSummarizeLatency(t *testing.T) {
	latencies := make([]time.Duration, 0, 100)
	for i := 100; i >= 1; i-- {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}

	summary := summarizeLatency(latencies)
	require.Equal(t, latencySummary{Min: 1, Max: 100, Avg: 50.5, P50: 50, P95: 95, P99: 99}, summary)
	require.Equal(t, 100*time.Millisecond, latencies[0], "input must stay unsorted")
	require.Equal(t, latencySummary{}, summarizeLatency(nil))
	require.Equal(t, 7*time.Millisecond, nearestRank([]time.Duration{7 * time.Millisecond}, 99))
}

func TestUtilityFunctions(t *testing.T) {
	require.Equal(t, 0.25, ratio(1, 4))
	require.Zero(t, ratio(1, 0))

	tests := []struct {
		cfg  config
		want string
	}{
		{cfg: config{total: 50}, want: "count:50"},
		{cfg: config{duration: 2 * time.Second}, want: "duration:2s"},
		{cfg: config{duration: 2 * time.Second, total: 10, totalSet: true}, want: "duration:2s,max-total:10"},
	}
	for _, tc := range tests {
		if got := runTarget(tc.cfg); got != tc.want {
			t.Fatalf("unexpected run target: got=%s want=%s", got, tc.want)
		}
	}

	if !shouldCancelScenario(5, 10) || shouldCancelScenario(15, 10) || shouldCancelScenario(0, 0) {
		t.Fatal("unexpected cancel sampling")
	}
	require.Equal(t, http.StatusBadRequest, statusOf(&apiError{Status: http.StatusBadRequest}))
}

func TestWriteJSONReport(t *testing.T) {
	t.Chdir(t.TempDir())

	sample := report{TotalScenarios: 2, SuccessScenarios: 2}
	require.NoError(t, writeJSONReport("reports/../report.json", sample))

	data, err := os.ReadFile("report.json")
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.EqualValues(t, 2, decoded.SuccessScenarios)

	for _, bad := range []string{"../escape.json", "/tmp/abs.json", "."} {
		if err := writeJSONReport(bad, sample); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestPrintReport(t *testing.T) {
	r := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Steps: map[string]stepReport{
			scenarioStep:            {Calls: 2, Success: 2},
			"create_order":          {Calls: 2, Success: 2, LatencyMs: latencySummary{P95: 12.5}},
			"create_payment_intent": {Calls: 2, Success: 1, Failed: 1, ErrorRate: 0.5},
		},
	}

	var out bytes.Buffer
	printReport(&out, r, config{mode: modeCreate, total: 2})

	text := out.String()
	require.Contains(t, text, "Load test summary")
	require.Contains(t, text, "mode=create run=count:2 total=2 success=2 failed=0")
	require.Less(t, strings.Index(text, "create_order"), strings.Index(text, "create_payment_intent"))
	require.Regexp(t, `create_order\s+2\s+2\s+0\s+0\.0000\s+12\.50`, text)
}

func TestRun_AgainstStorefront(t *testing.T) {
	tests := []struct {
		mode      loadMode
		wantSteps []string
	}{
		{mode: modeCreate, wantSteps: []string{"create_order", "cancel_order"}},
		{mode: modeCheckout, wantSteps: []string{"create_order", "create_payment_intent", "cancel_order"}},
		{mode: modeCheckoutVerify, wantSteps: []string{"create_order", "create_payment_intent", "verify_payment", "cancel_order"}},
	}

	for _, tc := range tests {
		t.Run(string(tc.mode), func(t *testing.T) {
			srv, store := newStorefront(t)

			result, err := run(context.Background(), testConfig(srv.URL, tc.mode))
			require.NoError(t, err)
			require.EqualValues(t, 4, result.TotalScenarios)
			require.Zero(t, result.FailedScenarios, "steps: %+v", result.Steps)
			for _, step := range tc.wantSteps {
				require.EqualValues(t, 4, result.Steps[step].Success, step)
			}

			// все заказы отменены, остаток вернулся
			product, err := store.Products().Get(context.Background(), "prod-tea")
			require.NoError(t, err)
			require.EqualValues(t, testStock, product.StockQuantity)
		})
	}
}

func TestRun_StockExhaustionIsReported(t *testing.T) {
	srv, _ := newStorefront(t)

	cfg := testConfig(srv.URL, modeCreate)
	cfg.total = testStock + 2
	cfg.cancelRate = 0

	result, err := run(context.Background(), cfg)
	require.NoError(t, err)
	require.EqualValues(t, testStock, result.SuccessScenarios)
	require.EqualValues(t, 2, result.FailedScenarios)
	require.EqualValues(t, 2, result.Steps["create_order"].Statuses["400"])
}

func TestAPIClient_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.Equal(t, "key-1", r.Header.Get(idempotencyHeader))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":false,"error":"UNAVAILABLE","message":"gateway down"}`))
	}))
	defer srv.Close()

	client := newAPIClient(srv.URL+"/", "token-1", time.Second, 1)
	_, status, err := client.createOrder(context.Background(), createOrderBody{AddressID: "a"}, "key-1")
	require.Equal(t, http.StatusServiceUnavailable, status)

	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "UNAVAILABLE", apiErr.Kind)
	require.Contains(t, err.Error(), "gateway down")
}

func TestMainSmoke(t *testing.T) {
	srv, _ := newStorefront(t)
	dir := t.TempDir()
	t.Chdir(dir)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--base-url=" + srv.URL,
		"--mode=checkout",
		"--total=5",
		"--concurrency=2",
		"--connections=1",
		"--timeout=2s",
		"--jwt-secret=" + testJWTSecret,
		"--output=main-report.json",
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	require.Contains(t, out.String(), "Load test summary")
	if _, err := os.Stat(filepath.Join(dir, "main-report.json")); err != nil {
		t.Fatalf("expected report file: %v", err)
	}
}
