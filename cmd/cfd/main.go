package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/contestfeed/internal/client"
	"github.com/alfredjeanlab/contestfeed/internal/ui"
)

var (
	httpURL    string
	grpcAddr   string
	token      string
	transport  string
	jsonOutput bool
	noColor    bool

	apiClient  client.AdminClient
	feedClient client.FeedClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("CFD_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultGRPCAddr() string {
	if s := os.Getenv("CFD_GRPC_SERVER"); s != "" {
		return s
	}
	if a := activeRemoteGRPCAddr(); a != "" {
		return a
	}
	return "localhost:9090"
}

func defaultToken() string {
	if s := os.Getenv("CFD_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

var rootCmd = &cobra.Command{
	Use:           "cfd <command>",
	Short:         "Contest event feed server and client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor || !ui.ShouldUseColor(os.Stdout) {
			ui.ForceNoColor()
		}
		apiClient = client.NewHTTPClient(httpURL, token)
		switch transport {
		case "http":
			feedClient = apiClient
		case "grpc":
			c, err := client.NewGRPCClient(grpcAddr, token)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			feedClient = c
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if feedClient != nil {
			feedClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "server", defaultGRPCAddr(), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&token, "token", defaultToken(), "bearer token")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "feed transport (http or grpc)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "feed", Title: "Feed:"},
		&cobra.Group{ID: "contest", Title: "Contest:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Feed
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(feedsCmd)

	// Contest
	rootCmd.AddCommand(contestCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startTimeCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
