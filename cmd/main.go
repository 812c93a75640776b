// File: main.go

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxy-gateway/pkg/advisor"
	"proxy-gateway/pkg/api"
	"proxy-gateway/pkg/broker"
	"proxy-gateway/pkg/cache"
	"proxy-gateway/pkg/checker"
	"proxy-gateway/pkg/database"
	"proxy-gateway/pkg/importer"
	"proxy-gateway/pkg/relay"
	"proxy-gateway/pkg/scoring"
	"proxy-gateway/pkg/selection"
)

var (
	debugFlag bool
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "proxy-gateway",
	Short: "A proxy pool gateway with scoring, relay tunneling, and provider sync",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set up logging based on the debug flag
		var logLevel slog.Level
		if debugFlag {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelInfo
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway API and the relay tunnel listener",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := initDB()
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		scoringCfg := scoringFromConfig()
		engine := selection.NewEngine(db, logger)

		// Relay mode and the advisor share one Redis pool; direct mode
		// without an advisor runs with no Redis at all.
		relayEnabled := viper.GetBool("relay.enabled")
		advisorKey := viper.GetString("advisor.api_key")

		var c *cache.Cache
		if relayEnabled || advisorKey != "" {
			c, err = cache.NewCache()
			if err != nil {
				logger.Error("Error connecting to Redis", "error", err)
				os.Exit(1)
			}
			defer c.Close()
		}

		var issuer api.TokenIssuer
		var relaySrv *relay.Server
		if relayEnabled {
			sessions := cache.NewSessions(c)
			issuer = broker.New(sessions, viper.GetString("relay.host"), viper.GetInt("relay.port"))
			relaySrv = relay.NewServer(sessions, logger)
		}

		var rec api.Recommender
		if advisorKey != "" {
			rec = advisor.New(db, c, advisor.Config{
				APIKey:  advisorKey,
				BaseURL: viper.GetString("advisor.base_url"),
				Model:   viper.GetString("advisor.model"),
			}, logger)
		}

		apiSrv := api.NewServer(db, engine, issuer, rec, api.Config{
			ManagerKey:       viper.GetString("api.manager_key"),
			ManagerKeyHeader: viper.GetString("api.manager_key_header"),
			ScoringConfig:    scoringCfg,
		}, logger)

		apiAddr := viper.GetString("api.addr")
		if apiAddr == "" {
			apiAddr = ":8088"
		}

		errCh := make(chan error, 2)
		go func() {
			logger.Info("API listening", "addr", apiAddr)
			errCh <- apiSrv.ListenAndServe(apiAddr)
		}()

		if relaySrv != nil {
			relayAddr := fmt.Sprintf(":%d", viper.GetInt("relay.port"))
			go func() {
				logger.Info("Relay listening", "addr", relayAddr)
				errCh <- relaySrv.ListenAndServe(relayAddr)
			}()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
		case err := <-errCh:
			logger.Error("Listener failed", "error", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("API shutdown error", "error", err)
		}
		if relaySrv != nil {
			if err := relaySrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Relay shutdown error", "error", err)
			}
		}
	},
}

var importCmd = &cobra.Command{
	Use:   "import [path]",
	Short: "Import proxies from a list file, CSV, or directory",
	Long: `Import proxies into the registry.
[path] may be a .txt list (one proxy per line), a .csv gateway file, or a
directory of both. Text filenames follow provider_country_type_protocol.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := initDB()
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		path := args[0]
		info, err := os.Stat(path)
		if err != nil {
			logger.Error("Cannot stat path", "path", path, "error", err)
			os.Exit(1)
		}

		ctx := context.Background()
		switch {
		case info.IsDir():
			err = importer.ImportDir(ctx, db, path)
		case strings.EqualFold(filepath.Ext(path), ".csv"):
			err = importer.ImportCSV(ctx, db, path)
		default:
			provider, _ := cmd.Flags().GetString("provider")
			proxyType, _ := cmd.Flags().GetString("type")
			country, _ := cmd.Flags().GetString("country")
			protocol, _ := cmd.Flags().GetString("protocol")
			sticky, _ := cmd.Flags().GetBool("sticky")

			opts := importer.Options{
				Provider:  provider,
				ProxyType: proxyType,
				Country:   country,
				Protocol:  protocol,
			}
			if sticky {
				opts.SessionType = "sticky"
			}
			err = importer.ImportFile(ctx, db, path, opts)
		}
		if err != nil {
			logger.Error("Import failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Import finished")
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [provider]",
	Short: "Sync the registry from a provider API",
	Long: `Sync proxies from a provider API into the registry.
[provider] must be either 'webshare' or 'dataimpulse'`,
	Example: "sync webshare",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		providerName := args[0]

		var providerConfig importer.ProviderConfig
		switch providerName {
		case "webshare":
			providerConfig = importer.ProviderConfig{
				System: importer.SystemWebshare,
				APIKey: viper.GetString("webshare.api_key"),
			}
		case "dataimpulse":
			providerConfig = importer.ProviderConfig{
				System:   importer.SystemDataImpulse,
				Login:    viper.GetString("dataimpulse.login"),
				Password: viper.GetString("dataimpulse.password"),
				Quantity: viper.GetInt("dataimpulse.quantity"),
			}
		default:
			logger.Error("Invalid provider name. Must be 'webshare' or 'dataimpulse'")
			os.Exit(1)
		}

		provider, err := importer.NewProvider(providerConfig, logger)
		if err != nil {
			logger.Error("Failed to create provider client", "error", err)
			os.Exit(1)
		}

		db, err := initDB()
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := provider.Sync(context.Background(), db); err != nil {
			logger.Error("Provider sync failed", "provider", provider.Name(), "error", err)
			os.Exit(1)
		}
		logger.Info("Provider sync completed", "provider", provider.Name())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe pool entries and feed results into scoring",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := initDB()
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		onlyUnhealthy, _ := cmd.Flags().GetBool("unhealthy")
		probeURL, _ := cmd.Flags().GetString("url")
		workers, _ := cmd.Flags().GetInt("workers")

		err = checker.Check(context.Background(), db, checker.Options{
			ProbeURL:      probeURL,
			Workers:       workers,
			OnlyUnhealthy: onlyUnhealthy,
			Scoring:       scoringFromConfig(),
		})
		if err != nil {
			logger.Error("Check run failed", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")

	importCmd.Flags().String("provider", "", "Provider tag for imported rows")
	importCmd.Flags().String("type", "", "Proxy type (datacenter, residential, mobile, isp)")
	importCmd.Flags().String("country", "", "Two-letter country code")
	importCmd.Flags().String("protocol", "", "Proxy protocol (http, https, socks4, socks5)")
	importCmd.Flags().Bool("sticky", false, "Tag imported rows as sticky-session")

	checkCmd.Flags().Bool("unhealthy", false, "Only probe rows currently marked unhealthy")
	checkCmd.Flags().String("url", "", "Probe URL override")
	checkCmd.Flags().Int("workers", 0, "Probe concurrency override")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(checkCmd)
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("$HOME/.proxy-gateway")
	viper.AddConfigPath("/etc/proxy-gateway/")

	viper.SetDefault("relay.enabled", true)
	viper.SetDefault("relay.host", "127.0.0.1")
	viper.SetDefault("relay.port", 8899)

	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		os.Exit(1)
	}
}

func initDB() (*database.DB, error) {
	db, err := database.NewDB()
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %v", err)
	}

	err = db.InitSchema(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return db, nil
}

func scoringFromConfig() scoring.Config {
	cfg := scoring.DefaultConfig()
	if t := viper.GetInt("scoring.fail_threshold"); t > 0 {
		cfg.FailThreshold = t
	}
	if mode := viper.GetString("scoring.latency_averaging"); mode != "" {
		cfg.LatencyAveraging = scoring.LatencyAveraging(mode)
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
