package commands

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/panyam/classdraw/services"
	"github.com/spf13/cobra"
)

func newListCmd(opts *Options) *cobra.Command {
	var projectId string
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored diagrams, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			svc, err := openService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Store().Close()
			diagrams, err := svc.ListDiagrams(cmd.Context(), projectId)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				if diagrams == nil {
					diagrams = []*services.Diagram{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(diagrams)
			}
			if len(diagrams) == 0 {
				fmt.Fprintln(out, "No diagrams.")
				return nil
			}
			header := color.New(color.Bold)
			header.Fprintf(out, "%-12s %-30s %-8s %s\n", "ID", "NAME", "VERSION", "UPDATED")
			for _, d := range diagrams {
				fmt.Fprintf(out, "%-12s %-30s %-8d %s\n", d.Id, d.Name, d.Version, d.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectId, "project", "", "Only diagrams of this project")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	return cmd
}
