package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ambiyansyah-risyal/clientrt"
	"github.com/ambiyansyah-risyal/clientrt/dvr"
)

var (
	outputPath  string
	concurrency int
)

var recordCmd = &cobra.Command{
	Use:   "record URL...",
	Short: "GET each URL through the client runtime and save the traffic",
	Long: `Record sends a GET request to every URL, running them concurrently, and
writes everything that crossed the connector to a recording file. Retries
configured through --config show up as extra connections.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVarP(&outputPath, "output", "o", "", "recording file to write")
	recordCmd.Flags().IntVar(&concurrency, "concurrency", 4, "maximum number of requests in flight")
	_ = recordCmd.MarkFlagRequired("output")
}

func runRecord(cmd *cobra.Command, args []string) error {
	if concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1, got %d", concurrency)
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}

	recorder := dvr.NewHTTPSRecordingConnection()
	client := clientrt.New(append(opts,
		clientrt.WithConnector(recorder),
		clientrt.WithLogger(slog.Default()),
	)...)
	if err := client.ValidationError(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, u := range args {
		g.Go(func() error {
			resp, err := client.Get(ctx, u)
			if err != nil {
				return fmt.Errorf("GET %s: %w", u, err)
			}
			defer resp.Body.Close()
			n, err := io.Copy(io.Discard, resp.Body)
			if err != nil {
				return fmt.Errorf("GET %s: reading body: %w", u, err)
			}
			slog.Info("Recorded", "url", u, "status", resp.StatusCode, "bytes", n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := recorder.DumpToFile(outputPath); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d events to %s\n", len(recorder.Events()), outputPath)
	return nil
}
