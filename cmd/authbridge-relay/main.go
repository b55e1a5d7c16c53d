package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/gcsewala/authbridge/internal"
	"github.com/gcsewala/authbridge/internal/config"
	"github.com/gcsewala/authbridge/internal/crypto"
	"github.com/gcsewala/authbridge/internal/envutil"
	"github.com/gcsewala/authbridge/internal/log"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version": config.VersionPrefix,
		"relay": map[string]any{
			"addr":            ":8080",
			"path":            config.DefaultBridgePath,
			"allowedOrigins":  []string{"https://gcseanki.co.uk", "http://localhost:8080"},
			"storage":         "memory",
			"jwtSecret":       map[string]string{"$env": "SUPABASE_JWT_SECRET"},
			"hashKey":         map[string]string{"$env": "RELAY_HASH_KEY"},
			"sessionTtl":      "1h",
			"cleanupInterval": "5m",
		},
		"host": map[string]any{
			"productionDomain": "gcseanki.co.uk",
			"dashboardPath":    "/dashboard",
		},
		"upstream": map[string]any{
			"url":      "https://your-project.supabase.co",
			"anonKey":  map[string]string{"$env": "SUPABASE_ANON_KEY"},
			"relayUrl": "http://localhost:8080" + config.DefaultBridgePath,
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			if err.Path != "" {
				fmt.Printf("  - %s: %s\n", err.Path, err.Message)
			} else {
				fmt.Printf("  - %s\n", err.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			if warn.Path != "" {
				fmt.Printf("  - %s: %s\n", warn.Path, warn.Message)
			} else {
				fmt.Printf("  - %s\n", warn.Message)
			}
		}
	}

	fmt.Println()
	switch {
	case len(result.Errors) > 0:
		fmt.Println("Result: FAIL")
		return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
	case len(result.Warnings) > 0:
		fmt.Println("Result: PASS (with warnings)")
	default:
		fmt.Println("Result: PASS")
	}
	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before config resolution")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		if key, err := crypto.GenerateSecureToken(); err == nil {
			fmt.Printf("Suggested RELAY_HASH_KEY: %s\n", key)
		}
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	if loaded, err := envutil.LoadDotEnv(*envFile); err != nil {
		log.LogError("Failed to load env file: %v", err)
		os.Exit(1)
	} else if loaded {
		log.LogDebugWithFields("main", "Loaded env file", map[string]any{"path": *envFile})
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting authbridge-relay", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	app, err := internal.NewRelayApp(context.Background(), cfg)
	if err != nil {
		log.LogError("Failed to create relay: %v", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		log.LogError("Failed to start server: %v", err)
		os.Exit(1)
	}
}
