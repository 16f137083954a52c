// Command healthcheck probes the service's /healthz endpoint and exits non-zero when
// it is unhealthy. Used as the container HEALTHCHECK.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	if err := probe(context.Background(), healthURL(os.Getenv("HEALTHCHECK_URL"), os.Getenv("HTTP_ADDR"))); err != nil {
		slog.Error("healthcheck failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// healthURL prefers an explicit URL, then the port of HTTP_ADDR on localhost.
func healthURL(explicit, addr string) string {
	if explicit != "" {
		return explicit
	}
	port := "8080"
	if i := strings.LastIndex(addr, ":"); i >= 0 && i < len(addr)-1 {
		port = addr[i+1:]
	}
	return "http://localhost:" + port + "/healthz"
}

func probe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return nil
}
