package main

import (
	"log"
)

func main() {
	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	var glossary *Glossary
	if cfg.GlossaryPath != "" {
		glossary, err = LoadGlossary(cfg.GlossaryPath)
		if err != nil {
			log.Fatalf("Failed to load glossary: %v", err)
		}
	}

	tracker, err := NewFeedbackTracker(db, cfg.AccuracyWindow)
	if err != nil {
		log.Fatalf("Failed to init feedback tracker: %v", err)
	}

	notifier := newSlackNotifier(cfg)

	var zoho *zohoClient
	if cfg.ZohoConfigured() {
		zoho = newZohoClient(cfg)
	}
	var clickup *clickupClient
	if cfg.ClickUpConfigured() {
		clickup = newClickUpClient(cfg)
	}

	composite := &compositeGateway{db: db, clickup: clickup, zoho: zoho}
	if notifier != nil {
		composite.review = notifier
	}
	var alerter Alerter
	if notifier != nil {
		alerter = notifier
	}
	gateway := newRetryingGateway(cfg, db, composite, alerter)

	engine := NewEngine(cfg, glossary, tracker, tracker)
	router := NewRouter(db, cfg, gateway, tracker)
	hub := NewHub(db, cfg, engine, router, gateway)

	StartSchedulers(cfg, db, hub, zoho, gateway, notifier, tracker)

	log.Println("Starting Guest Services Triage Hub...")
	select {}
}
