package cmd

import (
	"context"
	"log"

	"mspro-labs/sienna-grabber/internal/browser"
	"mspro-labs/sienna-grabber/internal/config"
	"mspro-labs/sienna-grabber/internal/db"
	"mspro-labs/sienna-grabber/internal/fetcher"
	"mspro-labs/sienna-grabber/internal/normalize"
	"mspro-labs/sienna-grabber/internal/pipeline"
	"mspro-labs/sienna-grabber/internal/storage"
	"mspro-labs/sienna-grabber/internal/upload"
)

func runScrape(ctx context.Context) error {
	// 1. Load Config
	appCfg, err := config.GetAppConfig()
	if err != nil {
		return err
	}
	siteCfg, err := config.LoadSiteConfig(appCfg.ConfigPath)
	if err != nil {
		return err
	}

	// 2. Build the fetcher for the configured mode
	f, err := fetcher.New(siteCfg, fetcher.BrowserOpener(browser.Options{Headless: appCfg.Headless}))
	if err != nil {
		return &config.ConfigurationError{Key: "mode", Reason: err.Error()}
	}

	p := &pipeline.Pipeline{
		Fetcher: f,
		CSV:     storage.NewCSVWriter(appCfg.OutputPath()),
		Normalize: normalize.Options{
			StrictVIN: siteCfg.StrictVIN,
			BaseURL:   siteCfg.SearchURL,
		},
	}
	if siteCfg.RawSnapshot {
		p.Raw = storage.NewRawWriter(appCfg.RawPath())
	}

	// 3. Optional ledger and sync
	if appCfg.DBPath != "" {
		ledger, err := db.OpenLedger(appCfg.DBPath)
		if err != nil {
			log.Printf("Warning: inventory ledger disabled: %v", err)
		} else {
			defer ledger.Close()
			p.Ledger = ledger
		}
	}
	if appCfg.SyncURL != "" {
		p.Uploader = upload.NewClient(appCfg.SyncURL)
	}

	// 4. Run
	summary, err := p.Run(ctx, appCfg.Search)
	if err != nil {
		return err
	}
	log.Printf("SUCCESS: Wrote %d listings to %s.", summary.Kept, summary.OutputPath)
	return nil
}
