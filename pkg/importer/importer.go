// Package importer populates the proxy registry from provider list files,
// CSV gateway configurations, and provider APIs. Imports are idempotent
// upserts keyed on the canonical connection string; a re-imported row is
// revived (healthy=true) rather than duplicated.
package importer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"proxy-gateway/pkg/database"
	"proxy-gateway/pkg/ipinfo"
	"proxy-gateway/pkg/models"
)

// Options tags every row imported from one plain-text list.
type Options struct {
	Provider    string
	ProxyType   string
	Country     string
	Protocol    string
	SessionType models.SessionType
}

func (o *Options) fillDefaults() {
	if o.Provider == "" {
		o.Provider = "unknown"
	}
	if o.ProxyType == "" {
		o.ProxyType = string(models.DatacenterType)
	}
	if o.SessionType == "" {
		o.SessionType = models.RotatingSession
	}
}

// ImportFile ingests a plain-text proxy list, one proxy per line.
func ImportFile(ctx context.Context, db *database.DB, path string, opts Options) error {
	opts.fillDefaults()

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	slog.Info("Importing proxy list",
		"file", filepath.Base(path),
		"provider", opts.Provider,
		"type", opts.ProxyType,
		"country", orGlobal(opts.Country))

	var inserted, skipped int
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parsed := ParseProxyLine(scanner.Text(), opts.Protocol)
		if parsed == nil {
			skipped++
			continue
		}

		proxy := proxyFromParsed(parsed, opts, nil)
		enrichGeo(proxy)
		if err := db.UpsertProxy(ctx, proxy); err != nil {
			slog.Warn("Failed to upsert proxy", "line", parsed.ProxyString, "error", err)
			continue
		}
		inserted++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading file: %v", err)
	}

	slog.Info("Import complete", "file", filepath.Base(path), "inserted", inserted, "skipped", skipped)
	return nil
}

// ImportCSV ingests a gateway-style CSV:
//
//	proxy_url,provider,type,country,protocol,session_type,ttl
//
// session_type defaults to rotating; the optional ttl column (minutes,
// 1–1440) becomes metadata sessttl on sticky rows.
func ImportCSV(ctx context.Context, db *database.DB, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	slog.Info("Importing CSV", "file", filepath.Base(path))

	var inserted, skipped, failed int
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := parseCSVLine(line)
		if strings.EqualFold(fields[0], "proxy_url") {
			continue // header row
		}
		if len(fields) < 5 {
			slog.Warn("Skipping malformed CSV line", "line", line)
			skipped++
			continue
		}

		sessionType := models.RotatingSession
		if len(fields) >= 6 && strings.EqualFold(fields[5], string(models.StickySession)) {
			sessionType = models.StickySession
		}

		var metadata map[string]any
		if sessionType == models.StickySession && len(fields) >= 7 && fields[6] != "" {
			if ttl, err := strconv.Atoi(fields[6]); err == nil && ttl > 0 && ttl <= 1440 {
				metadata = map[string]any{"sessttl": ttl}
			}
		}

		parsed := ParseProxyLine(fields[0], fields[4])
		if parsed == nil {
			slog.Warn("Could not parse proxy_url", "value", fields[0])
			skipped++
			continue
		}

		opts := Options{
			Provider:    strings.ToLower(fields[1]),
			ProxyType:   strings.ToLower(fields[2]),
			Country:     strings.ToUpper(fields[3]),
			SessionType: sessionType,
		}
		opts.fillDefaults()

		proxy := proxyFromParsed(parsed, opts, metadata)
		if err := db.UpsertProxy(ctx, proxy); err != nil {
			slog.Error("CSV upsert failed", "proxyURL", fields[0], "error", err)
			failed++
			continue
		}
		inserted++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading file: %v", err)
	}

	slog.Info("CSV import complete",
		"file", filepath.Base(path),
		"inserted", inserted, "skipped", skipped, "failed", failed)
	return nil
}

// ImportDir imports every .txt and .csv file under dir. Text filenames
// follow the provider_country_type_protocol convention, best effort.
func ImportDir(ctx context.Context, db *database.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %v", err)
	}

	var imported int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".csv":
			err = ImportCSV(ctx, db, path)
		case ".txt":
			err = ImportFile(ctx, db, path, optionsFromFilename(entry.Name()))
		default:
			continue
		}
		if err != nil {
			slog.Error("Import failed", "file", entry.Name(), "error", err)
			continue
		}
		imported++
	}

	if imported == 0 {
		slog.Warn("No proxy lists imported", "dir", dir)
	}
	return nil
}

// optionsFromFilename decodes the provider_country_type_protocol naming
// convention, tolerating missing parts.
func optionsFromFilename(name string) Options {
	parts := strings.Split(strings.TrimSuffix(name, filepath.Ext(name)), "_")

	opts := Options{Provider: parts[0]}
	for _, part := range parts[1:] {
		switch {
		case len(part) == 2 && opts.Country == "":
			opts.Country = strings.ToUpper(part)
		case models.IsValidType(part) && opts.ProxyType == "":
			opts.ProxyType = part
		case models.IsValidProtocol(part) && opts.Protocol == "":
			opts.Protocol = part
		}
	}
	return opts
}

func proxyFromParsed(parsed *ParsedProxy, opts Options, metadata map[string]any) *models.Proxy {
	return &models.Proxy{
		ProxyString: parsed.ProxyString,
		IP:          parsed.IP,
		Port:        parsed.Port,
		Username:    parsed.Username,
		Password:    parsed.Password,
		Protocol:    parsed.Protocol,
		Provider:    strings.ToLower(opts.Provider),
		ProxyType:   models.ProxyType(opts.ProxyType),
		SessionType: opts.SessionType,
		Country:     strings.ToUpper(opts.Country),
		Score:       100,
		Healthy:     true,
		Metadata:    metadata,
	}
}

// enrichGeo fills a missing country via IP lookup when a token is
// configured. Lookup failures only cost the enrichment, never the import.
func enrichGeo(proxy *models.Proxy) {
	if !ipinfo.Enabled() || proxy.Country != "" || proxy.IP == "" {
		return
	}
	info, err := ipinfo.GetIPInfo(proxy.IP)
	if err != nil {
		slog.Debug("IP info lookup failed", "ip", proxy.IP, "error", err)
		return
	}
	ipinfo.UpdateProxyWithIPInfo(proxy, info)
}

func orGlobal(country string) string {
	if country == "" {
		return "global"
	}
	return country
}
