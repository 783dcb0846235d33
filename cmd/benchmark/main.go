package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Reads / aggregations
	success201    uint64 // Transactions created
	fail403       uint64 // Tier denials
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "mixed", "Workload type: mixed | writes | aggregate")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		var req *http.Request
		switch pickOp() {
		case "post":
			// Random user posting against a random account; tier denials
			// are expected and counted separately.
			payload := map[string]interface{}{
				"account": fmt.Sprintf("%d", randomAccount()),
				"amount":  fmt.Sprintf("%d.%02d", rand.Intn(500), rand.Intn(100)),
			}
			body, _ := json.Marshal(payload)
			req, _ = http.NewRequest("POST", targetURL+"/api/v1/transactions", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-User-ID", fmt.Sprintf("%d", randomUser()))
		case "aggregate":
			// Admin oversight pull. Assumes user 1 is the seeded admin.
			url := fmt.Sprintf("%s/api/v1/accounts/%d/transactions", targetURL, randomAccount())
			req, _ = http.NewRequest("GET", url, nil)
			req.Header.Set("X-User-ID", "1")
		default:
			req, _ = http.NewRequest("GET", targetURL+"/api/v1/accounts", nil)
			req.Header.Set("X-User-ID", fmt.Sprintf("%d", randomUser()))
		}

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 200:
			atomic.AddUint64(&success200, 1)
		case 403:
			atomic.AddUint64(&fail403, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickOp() string {
	switch workload {
	case "writes":
		return "post"
	case "aggregate":
		return "aggregate"
	}
	// mixed: mostly reads, some writes, occasional admin pull
	r := rand.Float32()
	if r < 0.6 {
		return "list"
	}
	if r < 0.9 {
		return "post"
	}
	return "aggregate"
}

func randomAccount() int64 {
	// Assumes 250 accounts seeded (IDs 1-250)
	return int64(rand.Intn(250) + 1)
}

func randomUser() int64 {
	// Assumes 100 users seeded; ID 1 is the admin
	return int64(rand.Intn(99) + 2)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f403 := atomic.LoadUint64(&fail403)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	denyRate := float64(f403) / float64(total) * 100

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_created": s201,
		"success_reads":   s200,
		"denied":          f403,
		"deny_rate_pct":   denyRate,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
