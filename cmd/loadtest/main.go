// Команда loadtest нагружает HTTP API codconfirm: оценку риска заказов,
// чтение карточки заказа и вебхук перевозчика.
//
//	loadtest -url http://localhost:8080 -mode assess-read -total 1000 -concurrency 50
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

type loadMode string

const (
	modeAssess     loadMode = "assess"
	modeAssessRead loadMode = "assess-read"
	modeWebhook    loadMode = "webhook"
)

type config struct {
	baseURL     string
	mode        loadMode
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	orderPrefix string
	orders      int
	trackPrefix string
	carrier     string
	outputPath  string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(args)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "loadtest: %v\n", err)
		return 2
	}

	client := &http.Client{Transport: &http.Transport{
		MaxIdleConns:        cfg.concurrency,
		MaxIdleConnsPerHost: cfg.concurrency,
		IdleConnTimeout:     30 * time.Second,
	}}
	result, err := runLoad(client, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "loadtest: %v\n", err)
		return 1
	}

	printReport(stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(stderr, "loadtest: write report: %v\n", err)
			return 1
		}
	}
	if result.Scenarios.Failed > 0 {
		return 1
	}
	return 0
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		cfg  config
		mode string
	)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "codconfirm HTTP base URL")
	fs.StringVar(&mode, "mode", string(modeAssess), "assess | assess-read | webhook")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration acts as an upper bound")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for a fixed time instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "parallel workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&cfg.orderPrefix, "order-prefix", "load-order-", "prefix of pre-seeded order ids")
	fs.IntVar(&cfg.orders, "orders", 100, "number of pre-seeded orders")
	fs.StringVar(&cfg.trackPrefix, "track-prefix", "LT", "tracking number prefix (webhook mode)")
	fs.StringVar(&cfg.carrier, "carrier", "3011", "carrier code (webhook mode)")
	fs.StringVar(&cfg.outputPath, "output", "", "write JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })

	cfg.mode = loadMode(strings.TrimSpace(mode))
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.orderPrefix = strings.TrimSpace(cfg.orderPrefix)
	cfg.trackPrefix = strings.TrimSpace(cfg.trackPrefix)

	if u, err := url.Parse(cfg.baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return config{}, fmt.Errorf("invalid url %q", cfg.baseURL)
	}
	switch {
	case cfg.mode != modeAssess && cfg.mode != modeAssessRead && cfg.mode != modeWebhook:
		return config{}, fmt.Errorf("unsupported mode %q", mode)
	case cfg.duration < 0:
		return config{}, errors.New("duration must be >= 0")
	case (cfg.duration == 0 || cfg.totalSet) && cfg.total <= 0:
		return config{}, errors.New("total must be > 0")
	case cfg.concurrency <= 0:
		return config{}, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be > 0")
	case cfg.orders <= 0:
		return config{}, errors.New("orders must be > 0")
	case cfg.orderPrefix == "":
		return config{}, errors.New("order-prefix is required")
	case cfg.mode == modeWebhook && cfg.trackPrefix == "":
		return config{}, errors.New("track-prefix is required in webhook mode")
	}
	return cfg, nil
}

// runLoad раздаёт номера сценариев пулу воркеров и собирает отчёт.
func runLoad(client doer, cfg config) (report, error) {
	col := newCollector()
	started := time.Now()

	jobs := make(chan int, cfg.concurrency)
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := scenario{client: client, cfg: cfg, col: col}
			for i := range jobs {
				_ = s.run(i)
			}
		}()
	}
	feed(jobs, cfg)
	wg.Wait()

	return col.report(started, time.Since(started))
}

// feed закрывает jobs после total сценариев или по истечении duration.
func feed(jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	limited := cfg.duration <= 0 || cfg.totalSet

	for i := 0; !limited || i < cfg.total; i++ {
		select {
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return "duration:" + cfg.duration.String()
	}
}
