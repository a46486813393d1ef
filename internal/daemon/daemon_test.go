package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/upsell/internal/analytics"
	"github.com/allaspectsdev/upsell/internal/config"
	"github.com/allaspectsdev/upsell/internal/fbt"
	"github.com/allaspectsdev/upsell/internal/metrics"
	"github.com/allaspectsdev/upsell/internal/store"
	"github.com/allaspectsdev/upsell/internal/testutil"
)

type fakeSecrets map[string]string

func (f fakeSecrets) ResolveKeyRef(ref string) (string, error) {
	v, ok := f[ref]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func openTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	eng, err := OpenEngine(context.Background(), cfg, nil, metrics.NewCollector())
	if err != nil {
		t.Fatalf("OpenEngine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestOpenEngine_BackfillAndRelated(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	eng := openTestEngine(t, cfg)
	ctx := context.Background()

	if eng.Source.Name() != "local" {
		t.Fatalf("source: got %q, want local", eng.Source.Name())
	}
	testutil.SeedOrders(t, eng.Orders, testutil.SampleOrders()...)

	res, err := eng.Backfiller.Run(ctx, 1, false, nil)
	if err != nil {
		t.Fatalf("Backfiller.Run: %v", err)
	}
	if !res.Completed || res.Remaining != 0 {
		t.Errorf("backfill result: got %+v", res)
	}

	related, err := eng.Recommender.Related(ctx, 5, 0)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if len(related) != 2 || related[0].ProductID != 7 || related[0].Count != 2 || related[0].Confidence != 1 {
		t.Errorf("related(5): got %+v", related)
	}

	// A second run finds everything in the ledger and counts nothing twice.
	if _, err := eng.Backfiller.Run(ctx, 10, false, nil); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	rel, err := eng.Store.GetRelationship(ctx, 5, 7)
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if rel.Count != 2 {
		t.Errorf("pair (5,7) after rerun: got %d, want 2", rel.Count)
	}
}

func TestOpenEngine_CompletedStatuses(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	cfg.Orders.CompletedStatuses = []string{"completed", "processing"}
	eng := openTestEngine(t, cfg)
	ctx := context.Background()

	o := testutil.CompletedOrder(1, 5, 7)
	o.Status = "processing"
	if outcome := eng.Recorder.OnOrderCompleted(ctx, o, "test"); outcome != fbt.OutcomeRecorded {
		t.Errorf("processing outcome: got %q, want %q", outcome, fbt.OutcomeRecorded)
	}
	o = testutil.CompletedOrder(2, 5, 7)
	o.Status = "on-hold"
	if outcome := eng.Recorder.OnOrderCompleted(ctx, o, "test"); outcome != fbt.OutcomeIgnored {
		t.Errorf("on-hold outcome: got %q, want %q", outcome, fbt.OutcomeIgnored)
	}
	rel, err := eng.Store.GetRelationship(ctx, 5, 7)
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if rel.Count != 1 {
		t.Errorf("pair (5,7): got %d, want 1", rel.Count)
	}
}

func TestOpenEngine_AnalyticsFlow(t *testing.T) {
	eng := openTestEngine(t, testutil.NewTestConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()

	events := testutil.Funnel("fbt", 5, now)
	events = append(events,
		testutil.PurchaseEvent("fbt", 1, 5, 10, now),
		testutil.PurchaseEvent("fbt", 1, 7, 15, now),
	)
	if err := eng.Tracker.Track(ctx, events...); err != nil {
		t.Fatalf("Track: %v", err)
	}

	day, err := eng.Aggregator.AggregateDate(ctx, now.Format(analytics.DateLayout))
	if err != nil {
		t.Fatalf("AggregateDate: %v", err)
	}
	if day.Orders != 1 || day.Revenue != 25 {
		t.Errorf("aggregated day: got %+v", day)
	}

	res, err := eng.Cleaner.Run(ctx)
	if err != nil {
		t.Fatalf("Cleaner.Run: %v", err)
	}
	if res.Deleted != 0 || res.RetentionDays != config.DefaultRetentionDays {
		t.Errorf("cleanup: got %+v", res)
	}
}

func TestOpenEngine_BadTimezone(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	cfg.Analytics.Timezone = "Mars/Olympus_Mons"
	if _, err := OpenEngine(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestEngine_Scheduler(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	eng := openTestEngine(t, cfg)

	sched, err := eng.Scheduler(cfg.Analytics)
	if err != nil {
		t.Fatalf("Scheduler: %v", err)
	}
	if sched != nil {
		t.Errorf("expected no scheduler with both crons empty, got %d jobs", len(sched.Jobs()))
	}

	cfg.Analytics.AggregateCron = config.DefaultAggregateCron
	cfg.Analytics.CleanupCron = config.DefaultCleanupCron
	sched, err = eng.Scheduler(cfg.Analytics)
	if err != nil {
		t.Fatalf("Scheduler: %v", err)
	}
	var names []string
	for _, j := range sched.Jobs() {
		names = append(names, j.Name)
	}
	if strings.Join(names, ",") != JobAggregate+","+JobCleanup {
		t.Errorf("jobs: got %v", names)
	}
	if err := sched.RunNow(context.Background(), JobCleanup); err != nil {
		t.Errorf("RunNow(cleanup): %v", err)
	}
	if err := sched.RunNow(context.Background(), JobAggregate); err != nil {
		t.Errorf("RunNow(aggregate): %v", err)
	}
}

func TestOpenSource(t *testing.T) {
	local := store.NewOrderSource(testutil.NewTestStore(t), nil)
	ctx := context.Background()

	src, err := openSource(ctx, config.OrdersConfig{Source: "LOCAL"}, local, nil)
	if err != nil || src != local {
		t.Errorf("local source: got %v, %v", src, err)
	}

	tests := []struct {
		name    string
		cfg     config.OrdersConfig
		secrets SecretResolver
		wantErr string
	}{
		{"unknown", config.OrdersConfig{Source: "shopify"}, nil, "unknown order source"},
		{"no resolver", config.OrdersConfig{Source: config.SourceWooCommerce}, nil, "no secret resolver"},
		{
			"missing secret",
			config.OrdersConfig{Source: config.SourcePostgres, Postgres: config.PostgresConfig{DSNRef: "env:PG"}},
			fakeSecrets{},
			"postgres dsn",
		},
		{
			"empty secret",
			config.OrdersConfig{Source: config.SourceWooCommerce, WooCommerce: config.WooCommerceConfig{DSNRef: "env:WOO"}},
			fakeSecrets{"env:WOO": ""},
			"empty value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := openSource(ctx, tt.cfg, local, tt.secrets)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAPIToken(t *testing.T) {
	secrets := fakeSecrets{"keyring://upsell/api_token": "s3cret", "env:EMPTY": ""}

	if tok, err := apiToken(config.AuthConfig{Enabled: false}, nil); err != nil || tok != "" {
		t.Errorf("disabled: got %q, %v", tok, err)
	}
	if tok, err := apiToken(config.AuthConfig{Enabled: true, TokenRef: "keyring://upsell/api_token"}, secrets); err != nil || tok != "s3cret" {
		t.Errorf("enabled: got %q, %v", tok, err)
	}
	if _, err := apiToken(config.AuthConfig{Enabled: true, TokenRef: "env:EMPTY"}, secrets); err == nil {
		t.Error("empty token: expected error")
	}
	if _, err := apiToken(config.AuthConfig{Enabled: true, TokenRef: "env:MISSING"}, secrets); err == nil {
		t.Error("unresolvable token: expected error")
	}
}

func TestServerOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := serverOptions(cfg, "tok")
	if opts.Addr != cfg.Server.APIAddr() || opts.Token != "tok" {
		t.Errorf("addr/token: got %q/%q", opts.Addr, opts.Token)
	}
	if opts.ReadTimeout != time.Duration(config.DefaultReadTimeout)*time.Second {
		t.Errorf("read timeout: got %v", opts.ReadTimeout)
	}
	if opts.MetricsPath != config.DefaultMetricsPath || opts.TLSCertFile != "" {
		t.Errorf("metrics/tls: got %q/%q", opts.MetricsPath, opts.TLSCertFile)
	}
	if opts.DefaultBatchSize != config.DefaultBackfillBatchSize {
		t.Errorf("batch size: got %d", opts.DefaultBatchSize)
	}
	if opts.EventsRateLimit != config.DefaultEventsRateLimit || opts.EventsBurst != config.DefaultEventsBurst {
		t.Errorf("events limit: got %v/%d", opts.EventsRateLimit, opts.EventsBurst)
	}
	if len(opts.CompletedStatuses) != 1 || opts.CompletedStatuses[0] != "completed" {
		t.Errorf("completed statuses: got %v", opts.CompletedStatuses)
	}

	cfg.Metrics.Enabled = false
	cfg.Server.TLSEnabled = true
	cfg.Server.CertFile, cfg.Server.KeyFile = "c.pem", "k.pem"
	opts = serverOptions(cfg, "")
	if opts.MetricsPath != "" || opts.TLSCertFile != "c.pem" || opts.TLSKeyFile != "k.pem" {
		t.Errorf("metrics off / tls on: got %+v", opts)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		srv  config.ServerConfig
		want string
	}{
		{config.ServerConfig{BindAddress: "", APIPort: 7690}, "http://localhost:7690"},
		{config.ServerConfig{BindAddress: "0.0.0.0", APIPort: 80}, "http://localhost:80"},
		{config.ServerConfig{BindAddress: "127.0.0.1", APIPort: 7690, TLSEnabled: true}, "https://127.0.0.1:7690"},
	}
	for _, tt := range tests {
		if got := baseURL(tt.srv); got != tt.want {
			t.Errorf("baseURL(%+v) = %q, want %q", tt.srv, got, tt.want)
		}
	}
}

func TestFetchStats(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stats" || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(statsView{
			Engine: &metrics.Stats{Uptime: "1m", OrdersRecorded: 3},
			Store:  &store.Stats{Relationships: 12345, SizeBytes: 2_000_000},
		})
	}))
	defer ts.Close()

	stats, err := fetchStats(ts.URL, "tok")
	if err != nil {
		t.Fatalf("fetchStats: %v", err)
	}
	var out bytes.Buffer
	printStats(&out, stats)
	for _, want := range []string{"Orders Recorded:   3", "Relationships:     12,345", "Database Size:     2.0 MB"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	if _, err := fetchStats(ts.URL, "wrong"); err == nil {
		t.Error("expected error on 403")
	}
}

func TestStatus_NotRunning(t *testing.T) {
	var out bytes.Buffer
	if err := Status(testutil.NewTestConfig(t), &out); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(out.String(), "not running") {
		t.Errorf("got %q", out.String())
	}
}

func TestStop_NotRunning(t *testing.T) {
	if err := Stop(testutil.NewTestConfig(t)); err == nil {
		t.Fatal("expected error without a PID file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		" DEBUG ":  zerolog.DebugLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"nonsense": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRenderService(t *testing.T) {
	d := serviceData{Label: launchdLabel, ProgramPath: "/usr/local/bin/upsell", DataDir: "/home/u/.upsell", ConfigPath: "/etc/upsell.toml"}

	unit, err := renderService(systemdUnitTemplate, d)
	if err != nil {
		t.Fatalf("render systemd: %v", err)
	}
	if !strings.Contains(string(unit), "ExecStart=/usr/local/bin/upsell start --foreground --config /etc/upsell.toml") {
		t.Errorf("systemd unit:\n%s", unit)
	}

	d.ConfigPath = ""
	plist, err := renderService(launchdPlistTemplate, d)
	if err != nil {
		t.Fatalf("render plist: %v", err)
	}
	if strings.Contains(string(plist), "--config") {
		t.Errorf("plist should omit --config:\n%s", plist)
	}
	if !strings.Contains(string(plist), "<string>"+launchdLabel+"</string>") {
		t.Errorf("plist missing label:\n%s", plist)
	}
}
