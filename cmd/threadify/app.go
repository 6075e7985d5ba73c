package main

import (
	"fmt"

	"threadify/internal/canonical"
	"threadify/internal/config"
	"threadify/internal/generate"
	"threadify/internal/images"
	"threadify/internal/logging"
	"threadify/internal/pipeline"
	"threadify/internal/poster"
	"threadify/internal/scrape"
	"threadify/internal/store/sqlitedb"
	"threadify/internal/xclient"
)

// app holds what every command needs after config is loaded.
type app struct {
	cfg config.Config
	db  *sqlitedb.DB
	x   *xclient.HTTPClient
}

func loadConfig(path string) (config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func openApp(cfgPath string) (*app, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	db, err := sqlitedb.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &app{cfg: cfg, db: db, x: xclient.NewHTTPClient(cfg.X)}, nil
}

func (a *app) Close() error { return a.db.Close() }

func (a *app) key() ([]byte, error) {
	k, err := a.cfg.Security.Key()
	if err != nil {
		return nil, fmt.Errorf("%w (set SECRET_AES_KEY)", err)
	}
	return k, nil
}

func (a *app) orchestrator() (*pipeline.Orchestrator, error) {
	key, err := a.key()
	if err != nil {
		return nil, err
	}
	if a.cfg.LLM.APIKey == "" {
		logging.Warn("openai_key_missing", logging.Fields{"hint": "set OPENAI_API_KEY; generation will fail"})
	}
	c := a.cfg
	return pipeline.New(pipeline.Deps{
		Store:         a.db,
		Canonicalizer: canonical.New(c.Canonical.FollowRedirects, c.Canonical.MaxRedirects, canonical.NewHTTPProber(c.Scrape.UserAgent)),
		Scraper:       scrape.New(c.Scrape),
		Generator:     generate.New(generate.NewOpenAIClient(c.LLM), c.LLM, c.Budget),
		Images:        images.NewProcessor(c.Images),
		Poster:        poster.NewEngine(a.x, c.Posting),
		CapUSD:        &c.Budget.CapUSD,
		Key:           key,
	}), nil
}
