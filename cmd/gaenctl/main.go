// Command gaenctl is the operator CLI for the exposure-notification backend.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"

	apiURL  string
	timeout time.Duration

	httpClient *http.Client
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gaenctl",
		Short: "Exposure-notification backend CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional; existing environment wins
			_ = godotenv.Load()
			if apiURL == "" {
				apiURL = os.Getenv("GAENCTL_API_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set GAENCTL_API_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(bucketsCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gaenctl version %s\n", version)
		},
	}
}

// fetchCmd retrieves the JSON publication batch for a key date.
func fetchCmd() *cobra.Command {
	var publishedAfter int64
	cmd := &cobra.Command{
		Use:   "fetch <keyDate-millis>",
		Short: "Fetch the published keys of a day (JSON variant)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set GAENCTL_API_URL)")
			}
			url := fmt.Sprintf("%s/v1/gaen/exposedjson/%s", apiURL, args[0])
			if publishedAfter > 0 {
				url = fmt.Sprintf("%s?publishedafter=%d", url, publishedAfter)
			}
			return getAndPrint(url)
		},
	}
	cmd.Flags().Int64Var(&publishedAfter, "published-after", 0, "only keys published after this bucket boundary (ms)")
	return cmd
}

// bucketsCmd retrieves the bucket index of a calendar day.
func bucketsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buckets <day>",
		Short: "List the retrievable buckets of a day (YYYY-MM-DD)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiURL == "" {
				return fmt.Errorf("--api-url is required (or set GAENCTL_API_URL)")
			}
			return getAndPrint(fmt.Sprintf("%s/v1/gaen/buckets/%s", apiURL, args[0]))
		},
	}
}

func getAndPrint(url string) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Println(string(body))
	case http.StatusNoContent:
		fmt.Printf("no content (published until %s)\n", resp.Header.Get("X-PUBLISHED-UNTIL"))
	default:
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
