// Package sitemap discovers listing IDs from the upstream sitemap index.
package sitemap

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

// Config controls which sitemaps and URLs are considered.
type Config struct {
	IndexURL string
	// IncludePattern is a substring a sub-sitemap URL must contain.
	IncludePattern string
	// IDPattern is a regular expression whose first group captures the ID.
	IDPattern string
}

// Discovery walks the sitemap index and returns detail IDs.
type Discovery struct {
	fetcher crawler.Fetcher
	cfg     Config
	idRe    *regexp.Regexp
	logger  *zap.Logger
}

// New validates cfg and builds a Discovery.
func New(fetcher crawler.Fetcher, cfg Config, logger *zap.Logger) (*Discovery, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if strings.TrimSpace(cfg.IndexURL) == "" {
		return nil, fmt.Errorf("sitemap index url is required")
	}
	idRe, err := regexp.Compile(cfg.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("compile id pattern: %w", err)
	}
	if idRe.NumSubexp() < 1 {
		return nil, fmt.Errorf("id pattern %q needs a capture group", cfg.IDPattern)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{fetcher: fetcher, cfg: cfg, idRe: idRe, logger: logger}, nil
}

// Discover returns the distinct IDs in first-seen order. A failing
// sub-sitemap is logged and skipped; a failing index is returned.
func (d *Discovery) Discover(ctx context.Context) ([]string, error) {
	indexBody, err := d.get(ctx, d.cfg.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap index: %w", err)
	}
	sitemaps, err := ParseLocs(indexBody)
	if err != nil {
		return nil, fmt.Errorf("parse sitemap index: %w", err)
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, sm := range sitemaps {
		if d.cfg.IncludePattern != "" && !strings.Contains(sm, d.cfg.IncludePattern) {
			continue
		}
		body, err := d.get(ctx, sm)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch sitemap %s: %w", sm, ctx.Err())
			}
			d.logger.Warn("skipping sitemap", zap.String("url", sm), zap.Error(err))
			continue
		}
		locs, err := ParseLocs(body)
		if err != nil {
			d.logger.Warn("skipping unparsable sitemap", zap.String("url", sm), zap.Error(err))
			continue
		}
		for _, loc := range locs {
			id, ok := d.ExtractID(loc)
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		d.logger.Debug("sitemap parsed", zap.String("url", sm), zap.Int("urls", len(locs)))
	}
	d.logger.Info("discovery complete", zap.Int("ids", len(ids)))
	return ids, nil
}

// ExtractID pulls a UUID-shaped ID out of a detail URL.
func (d *Discovery) ExtractID(rawURL string) (string, bool) {
	m := d.idRe.FindStringSubmatch(rawURL)
	if len(m) < 2 {
		return "", false
	}
	if _, err := uuid.Parse(m[1]); err != nil {
		return "", false
	}
	return m[1], true
}

func (d *Discovery) get(ctx context.Context, url string) ([]byte, error) {
	resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{URL: url})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("%s: %w", url, crawler.ErrNoData)
	}
	return resp.Body, nil
}

// ParseLocs returns the trimmed text of every <loc> element.
func ParseLocs(body []byte) ([]string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	nodes := xmlquery.Find(doc, "//loc")
	locs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if text := strings.TrimSpace(n.InnerText()); text != "" {
			locs = append(locs, text)
		}
	}
	return locs, nil
}
