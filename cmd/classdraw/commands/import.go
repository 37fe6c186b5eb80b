package commands

import (
	"fmt"
	"os"

	"github.com/panyam/classdraw/importer"
	"github.com/panyam/classdraw/services"
	"github.com/spf13/cobra"
)

func newImportCmd(opts *Options) *cobra.Command {
	var projectId, name string
	cmd := &cobra.Command{
		Use:   "import <project.zip>",
		Short: "Create a stored diagram from a project archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			snap, err := importer.New(cfg.MaxImportSize).Import(f, "application/zip", args[0])
			if err != nil {
				return err
			}

			svc, err := openService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Store().Close()
			d, err := svc.CreateDiagram(cmd.Context(), &services.Diagram{ProjectId: projectId, Name: name}, snap)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %q as %s (%d classes, %d edges)\n", d.Name, d.Id, len(snap.Nodes), len(snap.Edges))
			return nil
		},
	}
	cmd.Flags().StringVar(&projectId, "project", "", "Project to file the diagram under")
	cmd.Flags().StringVar(&name, "name", "", "Diagram name (default: the archive's)")
	return cmd
}
