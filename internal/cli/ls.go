package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"aggfs/internal/aggregate"
	"aggfs/internal/state"
)

var lsCmd = &cobra.Command{
	Use:   `ls <share> [virtual-path]`,
	Short: "List a directory of a share without mounting it",
	Long: `List the entries of a virtual directory. Virtual paths use '\' as their
separator; the default is the merged root. Hidden entries are omitted unless
--all is given.`,
	Example: `  aggfs ls media
  aggfs ls media '\Movies (1)\2019'
  aggfs ls media '\Movies\poster.jpg' --streams`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLs,
}

var lsFlags struct {
	all     bool
	streams bool
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolVarP(&lsFlags.all, "all", "a", false, "Include hidden entries")
	lsCmd.Flags().BoolVar(&lsFlags.streams, "streams", false, "List the data streams of the path instead")
}

func runLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(globalFlags.configPath, globalFlags.verbose)
	if err != nil {
		return err
	}
	shares, err := selectShares(cfg, args[:1])
	if err != nil {
		return err
	}
	path := aggregate.Separator
	if len(args) == 2 {
		path = args[1]
	}

	store, err := state.NewManager(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("failed to initialize attribute store: %w", err)
	}
	ctx := cmdContext(cmd)
	fsys, err := openShare(ctx, cfg, shares[0], store)
	if err != nil {
		return err
	}

	if lsFlags.streams {
		streams, err := fsys.ListDataStreams(ctx, path)
		if err != nil {
			return err
		}
		for _, s := range streams {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", s.Name, s.Size)
		}
		return nil
	}

	entries, err := fsys.ListEntriesInDirectory(ctx, path)
	if err != nil {
		return err
	}
	return printEntries(cmd.OutOrStdout(), entries, lsFlags.all)
}

func printEntries(w io.Writer, entries []aggregate.Entry, all bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		if e.Hidden && !all {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", flags(e), e.Size, e.Modified.Format("2006-01-02 15:04"), e.Name)
	}
	return tw.Flush()
}

// flags renders d/r/h/a columns, '-' for unset.
func flags(e aggregate.Entry) string {
	b := []byte("----")
	if e.IsDir {
		b[0] = 'd'
	}
	if e.ReadOnly {
		b[1] = 'r'
	}
	if e.Hidden {
		b[2] = 'h'
	}
	if e.Archived {
		b[3] = 'a'
	}
	return string(b)
}
