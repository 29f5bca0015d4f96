// Package rema is the placeholder for the Rwanda Environment Management
// Authority feed. The API is only reachable over VPN, so extraction yields
// nothing until that access exists.
package rema

import (
	"context"

	"go.uber.org/zap"
)

// Options configures a Client.
type Options struct {
	URL      string
	APIKey   string
	Username string
	Password string
	Logger   *zap.Logger
}

// Client is the secondary source.
type Client struct {
	opts Options
	log  *zap.Logger
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{opts: opts, log: log}
}

// Configured reports whether an API URL was provided.
func (c *Client) Configured() bool {
	return c != nil && c.opts.URL != ""
}

// Extract always returns an empty result and never fails.
func (c *Client) Extract(ctx context.Context) ([]map[string]any, error) {
	c.log.Info("REMA ETL skipped - VPN access required", zap.String("url", c.opts.URL))
	return []map[string]any{}, nil
}
