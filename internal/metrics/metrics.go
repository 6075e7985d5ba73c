package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadify_submissions_total",
		Help: "Total submissions accepted for processing",
	}, []string{"mode", "type"})
	DuplicatesBlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "threadify_duplicates_blocked_total",
		Help: "Submissions rejected as duplicates",
	})
	BudgetDowngrades = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "threadify_budget_downgrades_total",
		Help: "Auto submissions forced to review by the cost cap",
	})
	Posts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadify_posts_total",
		Help: "Tweets posted, by result",
	}, []string{"result"})
	PostRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadify_post_retries_total",
		Help: "Tweet create retries, by reason",
	}, []string{"reason"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadify_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadify_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"cmd"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadify_command_errors_total",
		Help: "CLI command failures",
	}, []string{"cmd"})
	GenerationCost = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "threadify_generation_cost_usd",
		Help:    "Generation cost per submission in USD",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1},
	})
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "threadify_pipeline_duration_seconds",
		Help:    "Pipeline stage duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(Submissions, DuplicatesBlocked, BudgetDowngrades, Posts, PostRetries,
		APIRetries, CommandRuns, CommandErrors, GenerationCost, StageDuration)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// StartServer serves /metrics and /health on addr in the background. Empty addr disables it.
func StartServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func IncSubmission(mode, typ string) { Submissions.WithLabelValues(mode, typ).Inc() }
func IncPost(result string)          { Posts.WithLabelValues(result).Inc() }
func IncPostRetry(reason string)     { PostRetries.WithLabelValues(reason).Inc() }

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
