package memory

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/perrymanuk/radbot/internal/common/config"
)

// NewQdrantClient builds a Qdrant gRPC client from config. A URL takes
// precedence over host and port.
func NewQdrantClient(cfg *config.QdrantConfig) (*qdrant.Client, error) {
	host := cfg.Host
	port := cfg.Port
	useTLS := cfg.UseTLS

	if cfg.URL != "" {
		parsed, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse qdrant url: %w", err)
		}
		if parsed.Hostname() != "" {
			host = parsed.Hostname()
		}
		if p := parsed.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("parse qdrant port: %w", err)
			}
		}
		useTLS = useTLS || strings.EqualFold(parsed.Scheme, "https")
	}

	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 6334
	}

	return qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
}
