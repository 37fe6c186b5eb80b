package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/panyam/classdraw/diagram"
	"github.com/panyam/classdraw/export"
	"github.com/panyam/classdraw/importer"
	"github.com/spf13/cobra"
)

func newExportCmd(opts *Options) *cobra.Command {
	var output, format, diagramId string
	cmd := &cobra.Command{
		Use:   "export [snapshot.json | project.zip]",
		Short: "Export a diagram as a zip of generated files",
		Long: `Export a diagram read from a snapshot file, a project archive, or the
store (--diagram) as a zip with one top-level directory named after it.

Formats: java (default), mermaid, project.

Example:
  classdraw export zoo.json -o zoo.zip
  classdraw export --diagram 3kf9a2x1 --format mermaid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			var snap *diagram.Snapshot
			switch {
			case diagramId != "":
				cfg, err := loadConfig(cmd, opts)
				if err != nil {
					return err
				}
				svc, err := openService(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer svc.Store().Close()
				meta, err := svc.GetDiagram(cmd.Context(), diagramId)
				if err != nil {
					return err
				}
				if snap, err = svc.GetSnapshot(cmd.Context(), diagramId); err != nil {
					return err
				}
				snap.Name = meta.Name
			case len(args) == 1:
				if snap, err = readSnapshotFile(args[0]); err != nil {
					return err
				}
			default:
				return errors.New("give a snapshot file, a project archive or --diagram")
			}

			d, err := diagram.FromSnapshot(snap)
			if err != nil {
				return err
			}
			for _, div := range export.Divergences(d) {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", div)
			}
			if output == "" {
				output = export.ArchiveDir(d.Name) + ".zip"
			}
			return writeBundle(cmd, output, d, f)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output zip (default <diagram name>.zip)")
	cmd.Flags().StringVar(&format, "format", "java", "Export format: java, mermaid or project")
	cmd.Flags().StringVar(&diagramId, "diagram", "", "Export a stored diagram by id")
	return cmd
}

func writeBundle(cmd *cobra.Command, path string, d *diagram.Diagram, format export.Format) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.Bundle(out, d, format); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

// readSnapshotFile reads a bare snapshot json or a project archive.
func readSnapshotFile(path string) (*diagram.Snapshot, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return importer.New(0).ReadArchive(data)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return diagram.DecodeSnapshot(f)
}
