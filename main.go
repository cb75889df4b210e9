/*
 * Email Harvester
 *
 * Crawls a batch of seed URLs and extracts contact email addresses,
 * tolerating JavaScript-rendered pages, obfuscated encodings, linked
 * documents and secondary contact pages.
 */

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

// LoadLinesFromFile loads non-empty lines from a file, skipping #-comments.
func LoadLinesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() > 100<<20 {
		return nil, fmt.Errorf("file %s too large (%d bytes)", filePath, stat.Size())
	}

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			lines = append(lines, trimmed)
		}
	}
	return lines, scanner.Err()
}

func displayBanner() {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Println("═══════════════════════════════════════════")
	cyan.Println("           Email Harvester")
	cyan.Println("═══════════════════════════════════════════")
}

func loadOptionalLines(path, what string) []string {
	if path == "" {
		return nil
	}
	lines, err := LoadLinesFromFile(path)
	if err != nil {
		log.Printf("Warning: could not load %s from %s: %v", what, path, err)
		return nil
	}
	return lines
}

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	seedsPath := flag.String("seeds", "", "path to seed URL list (one per line)")
	proxiesPath := flag.String("proxies", "", "path to proxy list (one per line)")
	enqueue := flag.Bool("enqueue", false, "push seeds to the distributed queue instead of crawling locally")
	worker := flag.Bool("worker", false, "run as a distributed queue worker")
	flag.Parse()

	displayBanner()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	SetupLogging(cfg.LogFile)

	if *seedsPath != "" {
		cfg.SeedsFilePath = *seedsPath
	}
	if *proxiesPath != "" {
		cfg.ProxiesFile = *proxiesPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Assemble the crawl stack.
	proxies := NewProxyRotator()
	if cfg.ProxiesFile != "" {
		proxies.Load(loadOptionalLines(cfg.ProxiesFile, "proxies"))
		log.Printf("Loaded %d proxies", proxies.Count())
	}

	userAgents := loadOptionalLines(cfg.UserAgentsFile, "user agents")
	referers := loadOptionalLines(cfg.ReferersFile, "referers")

	hosts := NewHostRateLimiter(time.Duration(cfg.HostSpacingMs)*time.Millisecond, cfg.RateLimitPerSecond)
	pool := NewBrowserContextPool(cfg.EnableBrowser, cfg.BrowserContexts, firstOrEmpty(userAgents))
	defer pool.Close()

	fetcher := NewCascadeFetcher(pool, proxies, hosts, userAgents, referers,
		time.Duration(cfg.Timeout)*time.Second)

	disposable := NewDisposableDomainFilter(cfg.DisposableCacheFile, cfg.DisposableSources)
	if err := disposable.Load(); err != nil {
		log.Printf("Warning: disposable domain cache unusable: %v", err)
	}
	if len(cfg.DisposableSources) > 0 {
		disposable.RefreshAsync(ctx)
	}

	ocr := NewOCRProcessor(cfg.EnableOCR, cfg.OCREngine, cfg.MaxImageSize, cfg.OCRTimeout)
	if cfg.EnableOCR && !ocr.Available() {
		log.Printf("Warning: OCR requested but tesseract not found, image extraction disabled")
	}

	results, err := NewResultWriter(cfg.OutputDirectory)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	orchestrator := NewCrawlOrchestrator(
		fetcher,
		NewDocumentTextExtractor(ocr),
		ocr,
		disposable,
		NewDomainValidator(),
		NewRobotsGate(cfg.RespectRobots, fetcher),
		results,
		OrchestratorOptions{
			ContactDepth: cfg.ContactDepth,
			EmailLimit:   cfg.EmailLimit,
			ValidateMX:   cfg.ValidateMX,
			SMTPProbe:    cfg.EnableSMTPProbe,
			HelperSlots:  int64(cfg.HelperSlots),
		},
	)

	if cfg.DistributedMode && (*worker || *enqueue) {
		runDistributed(ctx, cfg, orchestrator, *worker, *enqueue)
		return
	}

	if cfg.SeedsFilePath == "" {
		log.Fatalf("❌ no seeds file given (use -seeds or seeds_file_path in config)")
	}
	seeds, err := LoadLinesFromFile(cfg.SeedsFilePath)
	if err != nil {
		log.Fatalf("❌ cannot load seeds: %v", err)
	}
	if len(seeds) == 0 {
		log.Fatalf("❌ seeds file %s is empty", cfg.SeedsFilePath)
	}
	log.Printf("Loaded %d seed URLs (concurrency %d, depth %d, limit %d)",
		len(seeds), cfg.Concurrency, cfg.ContactDepth, cfg.EmailLimit)

	runner := NewJobRunner(orchestrator, cfg.Concurrency, NewMemoryJobStore(), nil)

	green := color.New(color.FgGreen)
	start := time.Now()
	progress := func(done, total int, currentURL string, emails []string) {
		green.Printf("  [%d/%d] %s → %d emails\n", done, total, currentURL, len(emails))
	}

	mapping, status, err := runner.Run(ctx, seeds, progress)
	if err != nil {
		log.Fatalf("❌ batch failed: %v", err)
	}

	totalEmails := 0
	for _, emails := range mapping {
		totalEmails += len(emails)
	}
	elapsed := time.Since(start).Round(time.Second)
	switch status {
	case StatusFinished:
		color.Green("✅ Finished: %d seeds, %d emails in %v", len(mapping), totalEmails, elapsed)
	case StatusCancelled:
		color.Yellow("⚠️  Cancelled: %d seeds completed, %d emails in %v", len(mapping), totalEmails, elapsed)
	default:
		color.Red("❌ %s: %d seeds completed, %d emails in %v", status, len(mapping), totalEmails, elapsed)
	}
	log.Printf("Results written to %s/", cfg.OutputDirectory)
}

func runDistributed(ctx context.Context, cfg Config, orchestrator *CrawlOrchestrator, worker, enqueue bool) {
	queue, err := NewDistributedQueue(cfg.RedisURL, cfg.WorkerID, cfg.QueueName)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer queue.Close()

	if enqueue {
		seeds, err := LoadLinesFromFile(cfg.SeedsFilePath)
		if err != nil {
			log.Fatalf("❌ cannot load seeds: %v", err)
		}
		if err := queue.EnqueueSeeds(ctx, seeds); err != nil {
			log.Fatalf("❌ %v", err)
		}
		color.Green("✅ Enqueued %d seeds", len(seeds))
		return
	}
	if worker {
		if err := queue.RunWorker(ctx, orchestrator); err != nil && ctx.Err() == nil {
			log.Fatalf("❌ worker stopped: %v", err)
		}
		color.Yellow("worker shut down")
	}
}

func firstOrEmpty(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[0]
}
