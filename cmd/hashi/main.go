package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bdobrica/hashi/common/environment"
	"github.com/bdobrica/hashi/common/version"
	"github.com/bdobrica/hashi/internal/hashi/app"
	"github.com/bdobrica/hashi/internal/hashi/matrix"
)

func main() {
	fmt.Printf("Hashi AI Relay\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Println()

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hashi, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Hashi: %v\n", err)
		os.Exit(1)
	}
	defer hashi.Stop()

	if err := hashi.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Hashi: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration from environment variables.
func loadConfig() (*app.Config, error) {
	homeserver, err := environment.RequiredString("HASHI_HOMESERVER")
	if err != nil {
		return nil, err
	}
	userID, err := environment.RequiredString("HASHI_USER_ID")
	if err != nil {
		return nil, err
	}
	accessToken, err := environment.RequiredString("HASHI_ACCESS_TOKEN")
	if err != nil {
		return nil, err
	}

	return &app.Config{
		ConfigPath:   environment.StringOr("HASHI_CONFIG_PATH", "./config.json"),
		SessionsPath: environment.StringOr("HASHI_SESSIONS_PATH", "./sessions.json"),
		DatabasePath: environment.StringOr("HASHI_DATABASE_PATH", "./hashi.db"),
		Matrix: matrix.Config{
			Homeserver:  homeserver,
			UserID:      userID,
			AccessToken: accessToken,
		},
		HTTPTimeout:  environment.DurationOr("HASHI_HTTP_TIMEOUT", 30*time.Second),
		BindAttempts: environment.IntOr("HASHI_BIND_ATTEMPTS", 3),
		BindWindow:   environment.DurationOr("HASHI_BIND_WINDOW", time.Hour),
	}, nil
}
