package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emailharvester_fetches_total",
		Help: "Fetch attempts by tier.",
	}, []string{"tier"})

	fetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emailharvester_fetch_failures_total",
		Help: "Failed fetch attempts by tier.",
	}, []string{"tier"})

	emailsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emailharvester_emails_extracted_total",
		Help: "Emails surviving validation and filtering.",
	})

	seedsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emailharvester_seeds_processed_total",
		Help: "Seed URLs fully processed.",
	})

	activeCrawls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emailharvester_active_crawls",
		Help: "Seed crawls currently in flight.",
	})
)
