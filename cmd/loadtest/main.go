// Command loadtest drives concurrent workers against a running gatewayd
// instance, exercising both the container file endpoints and the chat
// endpoint, and prints aggregate latency/throughput stats.
package main

import (
	"bytes"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cadellanderson/omnicore/internal/api"
	"github.com/sirupsen/logrus"
)

// result captures one request's outcome for later aggregation.
type result struct {
	latency time.Duration
	status  int
	err     error
}

// stats aggregates a stream of results.
type stats struct {
	count      int64
	errors     int64
	totalNanos int64
	minNanos   int64
	maxNanos   int64
}

func (s *stats) record(r result) {
	atomic.AddInt64(&s.count, 1)
	if r.err != nil || r.status >= 400 {
		atomic.AddInt64(&s.errors, 1)
	}
	n := r.latency.Nanoseconds()
	atomic.AddInt64(&s.totalNanos, n)
	for {
		old := atomic.LoadInt64(&s.minNanos)
		if old != 0 && old <= n {
			break
		}
		if atomic.CompareAndSwapInt64(&s.minNanos, old, n) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&s.maxNanos)
		if old >= n {
			break
		}
		if atomic.CompareAndSwapInt64(&s.maxNanos, old, n) {
			break
		}
	}
}

func (s *stats) print(label string, elapsed time.Duration) {
	count := atomic.LoadInt64(&s.count)
	errs := atomic.LoadInt64(&s.errors)
	fmt.Printf("--- %s ---\n", label)
	fmt.Printf("requests: %d, errors: %d, duration: %v\n", count, errs, elapsed)
	if count == 0 {
		return
	}
	avg := time.Duration(atomic.LoadInt64(&s.totalNanos) / count)
	fmt.Printf("latency min/avg/max: %v / %v / %v\n",
		time.Duration(atomic.LoadInt64(&s.minNanos)),
		avg,
		time.Duration(atomic.LoadInt64(&s.maxNanos)))
	fmt.Printf("throughput: %.1f req/s\n\n", float64(count)/elapsed.Seconds())
}

func main() {
	var (
		gatewayURL  = flag.String("gateway-url", "http://localhost:8443", "gatewayd base URL")
		apiKey      = flag.String("api-key", "", "API key for request signing (matches API_KEY)")
		testType    = flag.String("test-type", "both", "Test type: files, chat, or both")
		duration    = flag.Duration("duration", 30*time.Second, "Test duration")
		workers     = flag.Int("workers", 5, "Number of worker goroutines")
		qps         = flag.Int("qps", 10, "Target requests per second per worker")
		objectSize  = flag.Int("object-size", 64*1024, "Size in bytes of each file written")
		chatTokens  = flag.Int("chat-max-tokens", 32, "max_tokens per chat request")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received interrupt, stopping")
		os.Exit(1)
	}()

	fmt.Println("=== gatewayd Load Test Runner ===")
	fmt.Printf("Gateway URL: %s\n", *gatewayURL)
	fmt.Printf("Test Type: %s\n", *testType)
	fmt.Printf("Duration: %v, Workers: %d, QPS/worker: %d\n\n", *duration, *workers, *qps)

	client := &http.Client{Timeout: 30 * time.Second}

	if *testType == "files" || *testType == "both" {
		s := runFilesTest(client, *gatewayURL, *apiKey, *workers, *duration, *qps, *objectSize, logger)
		s.print("files PUT+GET", *duration)
	}

	if *testType == "chat" || *testType == "both" {
		s := runChatTest(client, *gatewayURL, *apiKey, *workers, *duration, *qps, *chatTokens, logger)
		s.print("chat", *duration)
	}

	fmt.Println("done")
}

// throttledLoop calls step once per tick at the given per-worker qps, until
// stop fires, recording every result into s.
func throttledLoop(qps int, stop <-chan struct{}, wg *sync.WaitGroup, s *stats, step func() result) {
	defer wg.Done()
	interval := time.Second / time.Duration(qps)
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.record(step())
		}
	}
}

func runFilesTest(client *http.Client, baseURL, apiKey string, workers int, duration time.Duration, qps int, objectSize int, logger *logrus.Logger) *stats {
	payload := make([]byte, objectSize)
	if _, err := rand.Read(payload); err != nil {
		log.Fatalf("failed to generate payload: %v", err)
	}

	s := &stats{}
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		workerID := w
		go throttledLoop(qps, stop, &wg, s, func() result {
			vpath := fmt.Sprintf("loadtest/worker-%d/%d.bin", workerID, time.Now().UnixNano())
			start := time.Now()

			req, err := http.NewRequest(http.MethodPut, baseURL+"/files/"+vpath, bytes.NewReader(payload))
			if err != nil {
				return result{err: err}
			}
			signRequest(req, apiKey)
			resp, err := client.Do(req)
			if err != nil {
				return result{err: err}
			}
			resp.Body.Close()
			if resp.StatusCode >= 400 {
				return result{latency: time.Since(start), status: resp.StatusCode}
			}

			getReq, err := http.NewRequest(http.MethodGet, baseURL+"/files/"+vpath, nil)
			if err != nil {
				return result{err: err}
			}
			signRequest(getReq, apiKey)
			getResp, err := client.Do(getReq)
			if err != nil {
				return result{err: err}
			}
			getResp.Body.Close()
			return result{latency: time.Since(start), status: getResp.StatusCode}
		})
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()
	return s
}

func runChatTest(client *http.Client, baseURL, apiKey string, workers int, duration time.Duration, qps int, maxTokens int, logger *logrus.Logger) *stats {
	body := []byte(fmt.Sprintf(`{"prompt":"hello, what can you do?","max_tokens":%d,"temperature":0}`, maxTokens))

	s := &stats{}
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go throttledLoop(qps, stop, &wg, s, func() result {
			start := time.Now()
			req, err := http.NewRequest(http.MethodPost, baseURL+"/chat", bytes.NewReader(body))
			if err != nil {
				return result{err: err}
			}
			req.Header.Set("Content-Type", "application/json")
			signRequest(req, apiKey)
			resp, err := client.Do(req)
			if err != nil {
				return result{err: err}
			}
			defer resp.Body.Close()
			return result{latency: time.Since(start), status: resp.StatusCode}
		})
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()
	return s
}

func signRequest(req *http.Request, apiKey string) {
	if apiKey == "" {
		return
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", api.SignRequest(apiKey, req.Method, req.URL.Path, ts))
}
