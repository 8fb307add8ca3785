package main

import (
	"flag"
	"log"
	"os"
	"time"

	"netguard-backend/pkg/api"

	"github.com/go-resty/resty/v2"
)

// healthcheck exits non-zero unless the backend answers GET /api/status.
func main() {
	var (
		url     string
		timeout time.Duration
	)
	flag.StringVar(&url, "url", "http://localhost:5000/api/status", "status endpoint of the backend")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	flag.Parse()

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	var status api.StatusResponse
	res, err := client.R().SetResult(&status).Get(url)
	if err != nil {
		log.Printf("health check failed: %v", err)
		os.Exit(1)
	}
	if res.IsError() {
		log.Printf("health check failed: status %d: %s", res.StatusCode(), res.String())
		os.Exit(1)
	}

	log.Printf("backend healthy: %s", status.Status)
}
