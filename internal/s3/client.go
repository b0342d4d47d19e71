package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/arencloud/bucketwarden/internal/config"
	"github.com/arencloud/bucketwarden/internal/logging"
	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/arencloud/bucketwarden/internal/storage/memory"
)

// enrichLimit bounds concurrent per-bucket lookups during listing.
const enrichLimit = 8

// Provider describes the storage endpoint the service talks to.
type Provider struct {
	Type      string // aws|minio|mcg|generic|memory
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// ProviderFromConfig extracts the provider settings of cfg.
func ProviderFromConfig(cfg *config.Config) Provider {
	return Provider{
		Type:      cfg.ProviderType,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.DefaultRegion,
		UseSSL:    cfg.S3UseSSL,
	}
}

// Open returns the gateway for the configured provider type.
func Open(ctx context.Context, p Provider, logger logging.Logger) (storage.Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "aws", "":
		return NewAWS(ctx, p, logger)
	case "minio", "mcg", "generic":
		return NewMinio(p, logger)
	case "memory":
		logger.Info("using in-memory storage provider")
		return memory.New(p.Region), nil
	}
	return nil, fmt.Errorf("unknown provider type %q", p.Type)
}

func normalizeEndpoint(endpoint string, useSSL bool) (host string, secure bool) {
	secure = useSSL
	if endpoint == "" {
		return "", secure
	}
	// scheme in the endpoint overrides the useSSL flag
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		if u, err := url.Parse(endpoint); err == nil {
			secure = u.Scheme == "https"
			return u.Host, secure
		}
	}
	return endpoint, secure
}

// endpointURL renders the endpoint as a URL for SDKs that want a scheme.
func endpointURL(endpoint string, useSSL bool) string {
	host, secure := normalizeEndpoint(endpoint, useSSL)
	if host == "" {
		return ""
	}
	if secure {
		return "https://" + host
	}
	return "http://" + host
}

func forcePathStyle(p Provider) bool {
	// AWS prefers virtual-hosted style; everything else gets path style
	pt := strings.ToLower(strings.TrimSpace(p.Type))
	return pt != "aws"
}

// countingWriter invokes a callback with the number of bytes written. Paired
// with io.TeeReader it sizes uploads of unknown length as they stream.
type countingWriter struct{ on func(int) }

func (w countingWriter) Write(p []byte) (int, error) {
	if w.on != nil {
		w.on(len(p))
	}
	return len(p), nil
}

func countBytes(r io.Reader, n *int64) io.Reader {
	return io.TeeReader(r, countingWriter{on: func(c int) { *n += int64(c) }})
}
