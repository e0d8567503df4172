package cli

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ambiyansyah-risyal/clientrt/dvr"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Summarize every connection of a recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

// connectionSummary is one row of the inspect table.
type connectionSummary struct {
	ID           dvr.ConnectionID
	Method       string
	URI          string
	Status       string
	RequestBytes int
	BodyBytes    int
	Complete     bool
}

func runInspect(cmd *cobra.Command, args []string) error {
	traffic, err := dvr.LoadFile(args[0])
	if err != nil {
		return err
	}

	rows := summarize(traffic.Events)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "version: %s\n", traffic.Version)
	if traffic.Docs != nil && *traffic.Docs != "" {
		fmt.Fprintf(out, "docs: %s\n", *traffic.Docs)
	}
	fmt.Fprintf(out, "events: %d, connections: %d\n\n", len(traffic.Events), len(rows))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMETHOD\tURI\tSTATUS\tREQ BYTES\tRESP BYTES\tCOMPLETE")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%t\n", r.ID, r.Method, r.URI, r.Status, r.RequestBytes, r.BodyBytes, r.Complete)
	}
	return w.Flush()
}

func summarize(events []dvr.Event) []connectionSummary {
	byID := make(map[dvr.ConnectionID]*connectionSummary)
	for _, e := range events {
		s, ok := byID[e.ConnectionID]
		if !ok {
			s = &connectionSummary{ID: e.ConnectionID, Status: "-"}
			byID[e.ConnectionID] = s
		}
		a := e.Action
		switch {
		case a.Request != nil:
			s.Method = a.Request.Request.Method
			s.URI = a.Request.Request.URI
		case a.Response != nil && a.Response.Response.Ok != nil:
			s.Status = strconv.Itoa(a.Response.Response.Ok.Status)
		case a.Response != nil && a.Response.Response.Err != nil:
			s.Status = "error: " + *a.Response.Response.Err
		case a.Data != nil && a.Data.Direction == dvr.DirectionRequest:
			s.RequestBytes += a.Data.Data.Len()
		case a.Data != nil:
			s.BodyBytes += a.Data.Data.Len()
		case a.Eof != nil && a.Eof.Direction == dvr.DirectionResponse:
			s.Complete = a.Eof.Ok
		}
	}

	rows := make([]connectionSummary, 0, len(byID))
	for _, s := range byID {
		rows = append(rows, *s)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}
