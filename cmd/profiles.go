package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dlnabridge/dlnabridge/conf"
	"github.com/dlnabridge/dlnabridge/core/profiles"
	"github.com/dlnabridge/dlnabridge/db"
	"github.com/dlnabridge/dlnabridge/persistence"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the configured device profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		database, err := db.Init(conf.Server.DbPath)
		if err != nil {
			return fmt.Errorf("failed to open profile database: %w", err)
		}
		defer database.Close()

		repo := persistence.NewDeviceProfileRepository(ctx, database)
		if err := profiles.Seed(ctx, repo); err != nil {
			return fmt.Errorf("failed to seed device profiles: %w", err)
		}

		all, err := repo.GetAll()
		if err != nil {
			return fmt.Errorf("failed to list device profiles: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUA MATCH\tMAX BITRATE\tDIRECT PLAY")
		for i := range all {
			p := &all[i]
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
				p.ID, p.Name, p.UserAgentMatch, p.MaxStreamingBitrate, len(p.DirectPlay))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}
