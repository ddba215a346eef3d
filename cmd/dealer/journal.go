package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/cocaine/cocaine-framework-go/internal/infra/repository/journal"
	"github.com/spf13/cobra"
)

var journalOpts struct {
	service string
	limit   int
}

// journalCmd 查看发送记录
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "查看最近的发送记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, false)
		if err != nil {
			return err
		}
		if !cfg.Journal.Enabled {
			return fmt.Errorf("journal is not enabled in %s", globalFlags.Config)
		}

		repo, err := journal.NewRepoSQLite(cfg.Journal.Config)
		if err != nil {
			return err
		}
		defer repo.Close()

		entries, err := repo.List(cmd.Context(), journalOpts.service, journalOpts.limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDESTINATION\tSIZE\tSTATE\tCREATED\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s/%s\t%d\t%s\t%s\t%s\n",
				e.ID, e.Service, e.Handle, e.PayloadBytes, e.State,
				e.CreatedAt.Local().Format(time.DateTime), e.Detail)
		}
		return w.Flush()
	},
}

func init() {
	journalCmd.Flags().StringVarP(&journalOpts.service, "service", "s", "", "只显示该服务")
	journalCmd.Flags().IntVarP(&journalOpts.limit, "limit", "n", 20, "最多显示条数")
}
