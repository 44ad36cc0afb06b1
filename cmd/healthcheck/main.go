// Command healthcheck is the container probe: it exits 0 when the bot's
// health endpoint answers 200.
//
//	healthcheck [-ready] [-addr http://localhost:8080]
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", envOr("HEALTHCHECK_ADDR", "http://localhost:8080"), "base URL of the bot HTTP server")
	ready := flag.Bool("ready", false, "probe /readyz instead of /healthz")
	flag.Parse()

	path := "/healthz"
	if *ready {
		path = "/readyz"
	}
	if err := probe(context.Background(), strings.TrimRight(*addr, "/")+path); err != nil {
		log.Printf("healthcheck failed: %v", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type statusError int

func (e statusError) Error() string { return "unexpected status " + http.StatusText(int(e)) }

func probe(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	return nil
}
