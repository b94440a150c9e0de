// Benchmark tool for load and accuracy testing of ScamShield /detect.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -n 5000
//	go run ./cmd/benchmark -csv labeled_events.csv -alert-tier T2
//
// Without -csv a built-in mix of scam and benign events is replayed. A CSV
// has the header text,display_domain,final_domain,channel,domain_age_days,
// reports_last_90d,global_blacklist,confirmed_mule,is_scam.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Sample is one labeled event to send.
type Sample struct {
	Request DetectRequest
	IsScam  bool
}

// DetectRequest is the /detect request body.
type DetectRequest struct {
	Text          string     `json:"text"`
	DisplayDomain string     `json:"display_domain,omitempty"`
	FinalDomain   string     `json:"final_domain,omitempty"`
	Channel       string     `json:"channel,omitempty"`
	Sender        Sender     `json:"sender"`
	Reputation    Reputation `json:"reputation"`
}

type Sender struct {
	DomainAgeDays *int `json:"domain_age_days,omitempty"`
	ConfirmedMule bool `json:"confirmed_mule"`
}

type Reputation struct {
	ReportsLast90d  int  `json:"reports_last_90d"`
	GlobalBlacklist bool `json:"global_blacklist"`
}

// DetectResponse is the subset of the /detect response the benchmark reads.
type DetectResponse struct {
	Score    float64 `json:"score"`
	Tier     string  `json:"tier"`
	HardStop bool    `json:"hard_stop"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalErrors    int64
	HardStops      int64

	mu        sync.Mutex
	latencies []time.Duration
	tiers     map[string]int
}

func (m *Metrics) record(latency time.Duration, tier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, latency)
	m.tiers[tier]++
}

func main() {
	csvPath := flag.String("csv", "", "Path to a labeled CSV (default: built-in samples)")
	baseURL := flag.String("url", "http://localhost:8080", "ScamShield base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	total := flag.Int("n", 1000, "Requests to send (cycled over the samples)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	alertTier := flag.String("alert-tier", "T2", "Lowest tier counted as a scam verdict")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	rank, ok := tierRank(*alertTier)
	if !ok {
		fmt.Printf("ERROR: unknown tier %q\n", *alertTier)
		os.Exit(1)
	}

	fmt.Println("ScamShield benchmark")
	fmt.Printf("\nURL:         %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Requests:    %d\n", *total)
	fmt.Printf("Alert tier:  %s\n\n", *alertTier)

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: ScamShield not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure ScamShield is running:")
		fmt.Println("  go run ./cmd/scamshield")
		os.Exit(1)
	}
	fmt.Println("ScamShield is healthy")

	samples := builtinSamples()
	if *csvPath != "" {
		var err error
		samples, err = readCSV(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	}
	if len(samples) == 0 {
		fmt.Println("ERROR: no samples")
		os.Exit(1)
	}
	fmt.Printf("Loaded %d samples\n", len(samples))

	startTime := time.Now()
	metrics := runBenchmark(samples, *total, *baseURL, *tenantID, *workers, rank, *verbose)
	printResults(metrics, time.Since(startTime))
}

func tierRank(t string) (int, bool) {
	switch strings.ToUpper(t) {
	case "T0":
		return 0, true
	case "T1":
		return 1, true
	case "T2":
		return 2, true
	case "T3":
		return 3, true
	}
	return 0, false
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func intPtr(v int) *int { return &v }

func builtinSamples() []Sample {
	return []Sample{
		{IsScam: true, Request: DetectRequest{
			Text:          "URGENT: your account is locked. Share the OTP we sent to restore access",
			DisplayDomain: "paypal.com",
			FinalDomain:   "paypai.com",
			Channel:       "sms",
			Sender:        Sender{DomainAgeDays: intPtr(3)},
		}},
		{IsScam: true, Request: DetectRequest{
			Text:       "Enter your seed phrase to claim the airdrop before it expires",
			Channel:    "web",
			Reputation: Reputation{ReportsLast90d: 12},
		}},
		{IsScam: true, Request: DetectRequest{
			Text:    "Please send the deposit to this account today",
			Channel: "txn",
			Sender:  Sender{ConfirmedMule: true},
		}},
		{IsScam: true, Request: DetectRequest{
			Text:          "Your parcel is held at customs, pay the release fee immediately",
			DisplayDomain: "dhl.com",
			FinalDomain:   "dhl-release-fee.top",
			Channel:       "sms",
			Reputation:    Reputation{GlobalBlacklist: true},
		}},
		{IsScam: false, Request: DetectRequest{
			Text:    "Lunch at noon tomorrow?",
			Channel: "sms",
		}},
		{IsScam: false, Request: DetectRequest{
			Text:          "Your monthly statement is ready to view",
			DisplayDomain: "mybank.com",
			FinalDomain:   "mybank.com",
			Channel:       "email",
			Sender:        Sender{DomainAgeDays: intPtr(4200)},
		}},
		{IsScam: false, Request: DetectRequest{
			Text:    "Thanks for the invoice, paid via the usual transfer",
			Channel: "email",
		}},
	}
}

func readCSV(path string) ([]Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["text"]; !ok {
		return nil, errors.New("missing text column")
	}
	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var samples []Sample
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}

		req := DetectRequest{
			Text:          get(rec, "text"),
			DisplayDomain: get(rec, "display_domain"),
			FinalDomain:   get(rec, "final_domain"),
			Channel:       get(rec, "channel"),
		}
		if v := get(rec, "domain_age_days"); v != "" {
			if age, err := strconv.Atoi(v); err == nil {
				req.Sender.DomainAgeDays = &age
			}
		}
		req.Reputation.ReportsLast90d, _ = strconv.Atoi(get(rec, "reports_last_90d"))
		req.Reputation.GlobalBlacklist = get(rec, "global_blacklist") == "1"
		req.Sender.ConfirmedMule = get(rec, "confirmed_mule") == "1"

		samples = append(samples, Sample{Request: req, IsScam: get(rec, "is_scam") == "1"})
	}
	return samples, nil
}

func runBenchmark(samples []Sample, total int, baseURL, tenantID string, numWorkers, alertRank int, verbose bool) *Metrics {
	metrics := &Metrics{tiers: make(map[string]int)}

	work := make(chan Sample, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := detect(client, baseURL, tenantID, s.Request)
				elapsed := time.Since(start)

				atomic.AddInt64(&metrics.TotalProcessed, 1)
				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}
				metrics.record(elapsed, result.Tier)
				if result.HardStop {
					atomic.AddInt64(&metrics.HardStops, 1)
				}

				rank, _ := tierRank(result.Tier)
				predicted := rank >= alertRank
				switch {
				case predicted && s.IsScam:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !s.IsScam:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !s.IsScam:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					text := s.Request.Text
					if len(text) > 40 {
						text = text[:40]
					}
					fmt.Printf("%-40s | scam: %-5v | %s (%.1f)\n", text, s.IsScam, result.Tier, result.Score)
				}
			}
		}()
	}

	for i := 0; i < total; i++ {
		work <- samples[i%len(samples)]
	}
	close(work)
	wg.Wait()

	return metrics
}

func detect(client *http.Client, baseURL, tenantID string, req DetectRequest) (*DetectResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(p * float64(len(sorted)-1))
	return sorted[i]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nRESULTS")

	fmt.Printf("\nRequests\n")
	fmt.Printf("   Processed:   %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:      %d\n", m.TotalErrors)
	fmt.Printf("   Hard stops:  %d\n", m.HardStops)
	fmt.Printf("   Throughput:  %.1f req/s\n", float64(m.TotalProcessed)/duration.Seconds())

	sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })
	fmt.Printf("\nLatency\n")
	fmt.Printf("   p50:  %v\n", percentile(m.latencies, 0.50))
	fmt.Printf("   p90:  %v\n", percentile(m.latencies, 0.90))
	fmt.Printf("   p99:  %v\n", percentile(m.latencies, 0.99))
	if n := len(m.latencies); n > 0 {
		fmt.Printf("   max:  %v\n", m.latencies[n-1])
	}

	fmt.Printf("\nTiers\n")
	for _, t := range []string{"T0", "T1", "T2", "T3"} {
		fmt.Printf("   %s:  %d\n", t, m.tiers[t])
	}

	tp, fp, tn, fn := float64(m.TruePositives), float64(m.FalsePositives), float64(m.TrueNegatives), float64(m.FalseNegatives)
	fmt.Printf("\nConfusion matrix\n")
	fmt.Printf("   TP: %d  FP: %d\n", m.TruePositives, m.FalsePositives)
	fmt.Printf("   FN: %d  TN: %d\n", m.FalseNegatives, m.TrueNegatives)

	var precision, recall, f1 float64
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	if total := tp + fp + tn + fn; total > 0 {
		fmt.Printf("   Accuracy:   %.2f%%\n", 100*(tp+tn)/total)
	}
	fmt.Printf("   Precision:  %.2f%%\n", 100*precision)
	fmt.Printf("   Recall:     %.2f%%\n", 100*recall)
	fmt.Printf("   F1:         %.3f\n", f1)
	fmt.Printf("\nDuration: %v\n", duration.Round(time.Millisecond))
}
