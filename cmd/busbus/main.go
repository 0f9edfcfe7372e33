// Command busbus is a small CLI demonstrating the Scheduled and
// Realtime Arrival Generators against a GTFS static feed (and,
// optionally, a realtime predictions endpoint): list nearby stops,
// then list arrivals at one of them.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spaceboats/busbus"
	"github.com/spaceboats/busbus/downloader"
	"github.com/spaceboats/busbus/realtimeapi"
	"github.com/spaceboats/busbus/storage"
)

var rootCmd = &cobra.Command{
	Use:          "busbus",
	Short:        "busbus GTFS tool",
	Long:         "Inspects stops and arrivals from a GTFS static feed, with optional realtime overlay",
	SilenceUsage: true,
}

var (
	staticURL       string
	realtimeURL     string
	realtimeAPIKey  string
	staticHeaders   []string
	realtimeHeaders []string
	dbDir           string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&staticURL, "static-url", "", "", "GTFS static feed URL")
	rootCmd.PersistentFlags().StringVarP(&realtimeURL, "realtime-url", "", "", "Realtime predictions API base URL")
	rootCmd.PersistentFlags().StringVarP(&realtimeAPIKey, "realtime-api-key", "", "", "Realtime predictions API key")
	rootCmd.PersistentFlags().StringSliceVarP(&staticHeaders, "static-header", "", nil, "HTTP header for the static feed request (key:value)")
	rootCmd.PersistentFlags().StringSliceVarP(&realtimeHeaders, "realtime-header", "", nil, "HTTP header for realtime requests (key:value)")
	rootCmd.PersistentFlags().StringVarP(&dbDir, "db-dir", "", ".", "Directory holding the SQLite Feed Store database")

	rootCmd.AddCommand(stopsCmd)
	rootCmd.AddCommand(arrivalsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func parseHeaders(headers []string) (map[string]string, error) {
	out := map[string]string{}
	for _, h := range headers {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%q is not of the form key:value", h)
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out, nil
}

func loadStatic(cmd *cobra.Command) (*busbus.Static, error) {
	if staticURL == "" {
		return nil, fmt.Errorf("--static-url is required")
	}

	headers, err := parseHeaders(staticHeaders)
	if err != nil {
		return nil, fmt.Errorf("invalid static header: %w", err)
	}

	store, err := storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: dbDir})
	if err != nil {
		return nil, fmt.Errorf("opening feed store: %w", err)
	}

	dl := downloader.NewHeaderDownloader(downloader.NewMemory(), headers)
	manager := busbus.NewManager(store, dl)

	return manager.LoadStatic(cmd.Context(), "cli", staticURL)
}

func loadRealtime(cmd *cobra.Command) (busbus.ArrivalProvider, error) {
	static, err := loadStatic(cmd)
	if err != nil {
		return nil, fmt.Errorf("loading static feed: %w", err)
	}
	if realtimeURL == "" {
		return static, nil
	}

	headers, err := parseHeaders(realtimeHeaders)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime header: %w", err)
	}

	cache, err := downloader.NewFilesystem("./busbus-realtime-cache.json")
	if err != nil {
		return nil, fmt.Errorf("creating realtime cache: %w", err)
	}
	dl := downloader.NewHeaderDownloader(cache, headers)

	params := map[string]string{}
	if realtimeAPIKey != "" {
		params["api_key"] = realtimeAPIKey
	}
	params["format"] = "json"

	client := realtimeapi.NewClient(dl, realtimeURL, params)
	return busbus.NewRealtime(static, client), nil
}
