package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/logger"
	"github.com/olkham/inference-node/pkg/publisher"

	// Import all destination variants to register them
	_ "github.com/olkham/inference-node/pkg/destination/destinations/folder"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/geti"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/kafka"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/mqtt"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/nats"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/null"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/opcua"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/roboflow"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/rosbridge"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/s3"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/serial"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/webhook"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/zeromq"
)

var version = "0.1.0"

func main() {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	root := &cobra.Command{
		Use:   "infernode-publish",
		Short: "Fan inference results out to configured destinations",
		Long: `infernode-publish reads inference result payloads and delivers each one
to every destination in its configuration: MQTT brokers, webhooks, serial
lines, folders, message brokers, object storage, and dataset services.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("infernode-publish v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available destination types",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available destination types:")
			for _, info := range registry.Describe() {
				fmt.Printf("  %-10s %s\n", info.Type, info.Description)
			}
		},
	})

	var validateConfigFile string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a publisher configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(validateConfigFile)
			if err != nil {
				return err
			}
			for _, dc := range cfg.Destinations {
				if !registry.Has(dc.Type) {
					return fmt.Errorf("destination %q uses unknown type %q", dc.Name, dc.Type)
				}
			}
			fmt.Printf("%s: %d destinations OK\n", validateConfigFile, len(cfg.Destinations))
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&validateConfigFile, "config", "c", "", "Path to publisher configuration YAML file (required)")
	_ = validateCmd.MarkFlagRequired("config")
	root.AddCommand(validateCmd)

	var configFile, payloadFile, logLevel, metricsAddr string
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish payloads from a file or stdin to all configured destinations",
		Long: `Publish reads newline-delimited JSON payloads and fans each one out.

Example:
  infernode-publish publish --config publisher.yaml --payload results.jsonl
  detector | infernode-publish publish --config publisher.yaml --payload -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(configFile, payloadFile, logLevel, metricsAddr)
		},
	}
	publishCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to publisher configuration YAML file (required)")
	publishCmd.Flags().StringVarP(&payloadFile, "payload", "p", "-", "Newline-delimited JSON payload file, or - for stdin")
	publishCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	publishCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	_ = publishCmd.MarkFlagRequired("config")
	root.AddCommand(publishCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runPublish(configFile, payloadFile, logLevel, metricsAddr string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		logLevel = cfg.LogLevel
	}
	if err := logger.Init(logger.Config{Level: logLevel, Encoding: "json"}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", metricsAddr))
	}

	pub, err := publisher.FromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = pub.Close() }()

	input := os.Stdin
	if payloadFile != "-" {
		f, err := os.Open(payloadFile)
		if err != nil {
			return fmt.Errorf("failed to open payload file: %w", err)
		}
		defer f.Close()
		input = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	published := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var data map[string]interface{}
		if err := json.Unmarshal(line, &data); err != nil {
			log.Warn("skipping malformed payload line", zap.Error(err))
			continue
		}

		report, err := pub.PublishMap(ctx, data)
		if err != nil {
			log.Warn("skipping unserializable payload", zap.Error(err))
			continue
		}
		published++
		if out, err := json.Marshal(report); err == nil {
			fmt.Println(string(out))
		}

		if ctx.Err() != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read payloads: %w", err)
	}

	log.Info("publishing finished", zap.Int("payloads", published))
	return nil
}
