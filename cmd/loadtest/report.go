package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"
)

// scenarioStep — шаг, под которым учитываются сценарии целиком.
const scenarioStep = "scenario"

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Steps             map[string]stepReport `json:"steps"`
}

// observation — один вызов API. status 0 означает, что ответа не было.
type observation struct {
	latency time.Duration
	status  int
	ok      bool
}

type collector struct {
	mu    sync.Mutex
	steps map[string][]observation
}

func newCollector() *collector {
	return &collector{steps: make(map[string][]observation)}
}

func (c *collector) record(step string, latency time.Duration, status int, ok bool) {
	c.mu.Lock()
	c.steps[step] = append(c.steps[step], observation{latency: latency, status: status, ok: ok})
	c.mu.Unlock()
}

func (c *collector) snapshot(step string) (stepReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	observations, ok := c.steps[step]
	if !ok {
		return stepReport{}, false
	}
	return summarize(observations), true
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Steps:           make(map[string]stepReport, len(c.steps)),
	}
	for step, observations := range c.steps {
		result.Steps[step] = summarize(observations)
	}

	scenarios := result.Steps[scenarioStep]
	result.TotalScenarios = scenarios.Calls
	result.SuccessScenarios = scenarios.Success
	result.FailedScenarios = scenarios.Failed
	result.ErrorRate = scenarios.ErrorRate
	result.ScenarioLatencyMs = scenarios.LatencyMs
	if elapsed > 0 {
		result.RPS = float64(result.TotalScenarios) / elapsed.Seconds()
	}
	return result
}

func summarize(observations []observation) stepReport {
	out := stepReport{Statuses: make(map[string]int64)}
	latencies := make([]time.Duration, 0, len(observations))
	for _, o := range observations {
		out.Calls++
		if o.ok {
			out.Success++
		} else {
			out.Failed++
		}
		out.Statuses[statusLabel(o.status)]++
		latencies = append(latencies, o.latency)
	}
	out.ErrorRate = ratio(out.Failed, out.Calls)
	out.LatencyMs = summarizeLatency(latencies)
	return out
}

func statusLabel(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

// summarizeLatency считает перцентили по nearest-rank на отсортированной копии.
func summarizeLatency(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	return latencySummary{
		Min: ms(sorted[0]),
		Max: ms(sorted[len(sorted)-1]),
		Avg: ms(total / time.Duration(len(sorted))),
		P50: ms(nearestRank(sorted, 50)),
		P95: ms(nearestRank(sorted, 95)),
		P99: ms(nearestRank(sorted, 99)),
	}
}

func nearestRank(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	return sorted[min(max(rank, 1), len(sorted))-1]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// writeJSONReport пишет отчёт только внутрь текущего каталога.
func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	if !filepath.IsLocal(clean) {
		return fmt.Errorf("output path must be a file inside the current directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}

func printReport(out io.Writer, result report, cfg config) {
	fmt.Fprintln(out, "Load test summary")
	fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg),
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	lat := result.ScenarioLatencyMs
	fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	steps := make([]string, 0, len(result.Steps))
	for step := range result.Steps {
		if step != scenarioStep {
			steps = append(steps, step)
		}
	}
	if len(steps) == 0 {
		return
	}
	slices.Sort(steps)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSTEP\tCALLS\tOK\tFAILED\tERROR RATE\tP95 MS")
	for _, step := range steps {
		s := result.Steps[step]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\t%.2f\n", step, s.Calls, s.Success, s.Failed, s.ErrorRate, s.LatencyMs.P95)
	}
	_ = tw.Flush()
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}
