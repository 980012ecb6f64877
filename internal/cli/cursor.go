package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/groupwatch/internal/control"
	"github.com/vietddude/groupwatch/internal/core/cursor"
	"github.com/vietddude/groupwatch/internal/core/domain"
)

var (
	resetTo   string
	resetItem string
)

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or move per-source cursors",
}

var cursorListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the stored cursor of every source",
	Args:  cobra.NoArgs,
	RunE:  runCursorList,
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset <source>",
	Short: "Move a source's cursor, backwards included",
	Long: `Reset moves the cursor of a source to an arbitrary position. Without --to the
cursor is deleted and the next run starts from the source's start date.`,
	Args: cobra.ExactArgs(1),
	RunE: runCursorReset,
}

func init() {
	cursorResetCmd.Flags().StringVar(&resetTo, "to", "", "new position as RFC3339 timestamp")
	cursorResetCmd.Flags().StringVar(&resetItem, "item", "", "item id at the new position")
	cursorCmd.AddCommand(cursorListCmd, cursorResetCmd)
	rootCmd.AddCommand(cursorCmd)
}

func openCursors() (cursor.Manager, func(), error) {
	cfg, err := setup()
	if err != nil {
		return nil, nil, err
	}
	return control.OpenCursors(*cfg)
}

func runCursorList(cmd *cobra.Command, args []string) error {
	mgr, closeFn, err := openCursors()
	if err != nil {
		return err
	}
	defer closeFn()

	cursors, err := mgr.List(cmd.Context())
	if err != nil {
		return err
	}
	printCursors(os.Stdout, cursors)
	return nil
}

func printCursors(out io.Writer, cursors []domain.Cursor) {
	slices.SortFunc(cursors, func(a, b domain.Cursor) int { return strings.Compare(a.SourceID, b.SourceID) })

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SOURCE\tTIMESTAMP\tITEM\tUPDATED")
	for _, c := range cursors {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.SourceID,
			formatTime(c.LastTimestamp),
			c.LastItemID,
			formatTime(c.UpdatedAt),
		)
	}
	_ = w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func runCursorReset(cmd *cobra.Command, args []string) error {
	sourceID := args[0]
	c, err := resetTarget(sourceID, resetTo, resetItem)
	if err != nil {
		return err
	}

	mgr, closeFn, err := openCursors()
	if err != nil {
		return err
	}
	defer closeFn()

	return applyReset(cmd.Context(), cmd.OutOrStdout(), mgr, c)
}

// resetTarget builds the cursor to reset to. A zero cursor means delete.
func resetTarget(sourceID, to, item string) (domain.Cursor, error) {
	c := domain.Cursor{SourceID: sourceID}
	if to == "" {
		if item != "" {
			return c, fmt.Errorf("--item requires --to")
		}
		return c, nil
	}
	ts, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return c, fmt.Errorf("invalid --to: %w", err)
	}
	c.LastTimestamp = ts
	c.LastItemID = item
	return c, nil
}

func applyReset(ctx context.Context, out io.Writer, mgr cursor.Manager, c domain.Cursor) error {
	if c.IsZero() {
		if err := mgr.Clear(ctx, c.SourceID); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Cleared cursor for %s\n", c.SourceID)
		return nil
	}
	if err := mgr.Reset(ctx, c); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Successfully reset cursor for %s to %s (item %q)\n",
		c.SourceID, c.LastTimestamp.Format(time.RFC3339), c.LastItemID)
	return nil
}
