package main

import (
	"fmt"
	"log"

	"gorm.io/gorm/logger"

	"healbot/internal/config"
	"healbot/internal/database"
	"healbot/internal/heal"
	"healbot/internal/history"
	"healbot/internal/llm/providers"
	"healbot/internal/repositories"
	"healbot/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	db, err := database.Init(database.Config{
		Path:     cfg.DatabasePath,
		LogLevel: logger.Warn,
	})
	if err != nil {
		fmt.Println("Error opening database:", err)
		return
	}

	registry, err := providers.NewRegistry(cfg.Providers, cfg.APITimeout)
	if err != nil {
		log.Fatalf("Error building provider registry: %v", err)
	}
	log.Printf("providers configured: %v", registry.Names())

	hist := history.NewStore(cfg.HistoryPath)
	runs := repositories.NewHealRunRepository(db)

	agent := heal.NewAgent(cfg.Workspace, cfg.GithubToken, registry, hist, heal.Options{
		RetryLimit: cfg.RetryLimit,
		CITimeout:  cfg.GithubCITimeout,
	})

	srv := server.New(agent, runs)
	log.Printf("listening on %s", cfg.ListenAddr)
	if err := srv.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("Error running server: %v", err)
	}
}
