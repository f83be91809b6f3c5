package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/config"
	"github.com/maltedev/marketplace-scraper/internal/jobs"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
	"github.com/maltedev/marketplace-scraper/internal/sites"
	"github.com/maltedev/marketplace-scraper/internal/storage"
	"github.com/maltedev/marketplace-scraper/pkg/logger"
)

func main() {
	var (
		site        = flag.String("site", "", "Marketplace key (see -list)")
		keyword     = flag.String("keyword", "", "Search keyword")
		pages       = flag.Int("pages", 0, "Result pages to scrape (default from JOBS_DEFAULT_PAGES)")
		headless    = flag.Bool("headless", true, "Run browser in headless mode")
		skipDetails = flag.Bool("skip-details", false, "Only read listing cards")
		csvFile     = flag.String("csv", "", "Also write a CSV summary to this file")
		list        = flag.Bool("list", false, "List known sites and exit")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Browser.Headless = *headless && cfg.Browser.Headless
	cfg.Scraper.SkipDetails = *skipDetails || cfg.Scraper.SkipDetails
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	registry, err := sites.Builtin()
	if err != nil {
		log.Fatalf("Failed to load site tables: %v", err)
	}
	if cfg.Scraper.TablesDir != "" {
		if err := registry.Override(cfg.Scraper.TablesDir); err != nil {
			log.Fatalf("Failed to load site tables: %v", err)
		}
	}

	if *list {
		for _, key := range registry.Keys() {
			t, _ := registry.Get(key)
			fmt.Printf("%-12s %-14s %s\n", t.Key, t.Name, t.BaseURL)
		}
		return
	}

	if *site == "" || strings.TrimSpace(*keyword) == "" {
		fmt.Println("Please provide -site and -keyword")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	launcher, err := browser.NewLauncher(cfg.Browser.Driver, cfg.BrowserOptions(), logger)
	if err != nil {
		log.Fatalf("Failed to initialize browser: %v", err)
	}
	engine := scraper.NewEngine(launcher, storage.NewPersister(nil, logger), cfg.EngineConfig(), logger)

	manager := jobs.NewManager(engine, registry, jobs.Config{
		MaxPages:     cfg.Jobs.MaxPages,
		DefaultPages: cfg.Jobs.DefaultPages,
		OutputDir:    cfg.Output.PrimaryDir,
		FallbackDir:  cfg.Output.FallbackDir,
	}, logger)

	job, err := manager.Run(ctx, jobs.Request{Site: *site, Keyword: *keyword, Pages: *pages})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	res := job.Result

	fmt.Printf("Site:      %s\n", job.Site)
	fmt.Printf("Keyword:   %s\n", res.Keyword)
	fmt.Printf("Pages:     %d\n", res.PagesRequested)
	fmt.Printf("Products:  %d\n", res.TotalProducts)
	fmt.Printf("Output:    %s\n", res.OutputPath)
	for i, rec := range res.Records {
		if i == 10 {
			fmt.Printf("... and %d more\n", len(res.Records)-i)
			break
		}
		fmt.Printf("  %2d. %s | %s %s\n", i+1, rec.Title, rec.Price.Currency, rec.Price.Amount)
	}

	if *csvFile != "" && len(res.Records) > 0 {
		if err := writeCSV(*csvFile, res); err != nil {
			logger.Error("Failed to save CSV", "error", err)
		} else {
			logger.Info("Results saved to CSV", "file", *csvFile)
		}
	}

	if !res.Success {
		fmt.Fprintf(os.Stderr, "Job failed: %s\n", res.Error)
		os.Exit(1)
	}
}

func writeCSV(path string, res *models.JobResult) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := storage.ExportCSV(file, res.Records); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
