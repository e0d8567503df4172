package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/clientrt/dvr"
)

var (
	mediaType      string
	checkedHeaders []string
)

var validateCmd = &cobra.Command{
	Use:   "validate EXPECTED ACTUAL",
	Short: "Check that the requests of one recording match another",
	Long: `Validate replays the requests captured in ACTUAL against the recording
EXPECTED and compares URI, body and headers connection by connection.

Without --header every recorded header is compared. Bodies are compared
according to --media-type: JSON semantically, form bodies as parameter
sets and anything else byte for byte.`,
	Args: cobra.ExactArgs(2),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&mediaType, "media-type", string(dvr.MediaTypeJSON), "media type used to compare bodies")
	validateCmd.Flags().StringSliceVar(&checkedHeaders, "header", nil, "only compare these headers (repeatable)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	replay, err := dvr.FromFile(args[0])
	if err != nil {
		return err
	}
	actual, err := dvr.LoadFile(args[1])
	if err != nil {
		return err
	}

	if err := replayRequests(cmd.Context(), replay, actual.Events); err != nil {
		return err
	}

	if len(checkedHeaders) > 0 {
		err = replay.Validate(checkedHeaders, dvr.MediaTypeComparer(dvr.MediaType(mediaType)))
	} else {
		err = replay.FullValidate(dvr.MediaType(mediaType))
	}
	if err != nil {
		return fmt.Errorf("%s does not match %s: %w", args[1], args[0], err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s matches %s\n", args[1], args[0])
	return nil
}

// replayRequests sends the requests found in events through replay, in
// connection order.
func replayRequests(ctx context.Context, replay *dvr.ReplayingConnection, events []dvr.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reqs, err := dvr.RecordedRequests(events)
	if err != nil {
		return err
	}
	ids := make([]int, 0, len(reqs))
	for id := range reqs {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	for _, id := range ids {
		req, err := reqs[dvr.ConnectionID(id)].HTTPRequest(ctx)
		if err != nil {
			return fmt.Errorf("connection %d: %w", id, err)
		}
		resp, err := replay.Call(ctx, req)
		if err != nil {
			slog.Warn("Replay failed", "connection", id, "error", err)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return nil
}
