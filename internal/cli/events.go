package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/othala/orchd/internal/store"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the append-only event log",
}

var eventsDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print events from the event log",
	RunE:  runEventsDump,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsDumpCmd)

	eventsDumpCmd.Flags().String("task", "", "filter by task ID")
	eventsDumpCmd.Flags().String("since", "", "only show events at or after this RFC3339 timestamp")
}

func runEventsDump(cmd *cobra.Command, args []string) error {
	taskFilter, _ := cmd.Flags().GetString("task")
	sinceStr, _ := cmd.Flags().GetString("since")

	var since time.Time
	if sinceStr != "" {
		var err error
		since, err = time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
	}

	st, err := openStoreFromConfig()
	if err != nil {
		return err
	}
	defer st.Close()

	return dumpEvents(st, taskFilter, since, cmd.OutOrStdout())
}

// dumpEvents writes one tab-separated line per event in the log that
// matches taskFilter (if non-empty) and is not older than since.
func dumpEvents(st *store.Store, taskFilter string, since time.Time, w io.Writer) error {
	events, err := store.ReadAllEvents(st.EventLogPath())
	if err != nil {
		return fmt.Errorf("failed to read event log: %w", err)
	}

	for _, ev := range events {
		if taskFilter != "" && ev.TaskID != taskFilter {
			continue
		}
		if !since.IsZero() && ev.At.Before(since) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", ev.At.Format(time.RFC3339), ev.TaskID, ev.RepoID, ev.Kind, ev.Payload)
	}
	return nil
}
