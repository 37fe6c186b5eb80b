package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/panyam/classdraw/config"
	"github.com/panyam/classdraw/services"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Options holds the persistent flags shared by every command.
type Options struct {
	ConfigFile string
	EnvFile    string
	Address    string
	DataDir    string
	Store      string
}

// flagKeys maps persistent flag names onto config keys.
var flagKeys = map[string]string{
	"addr":     "address",
	"data-dir": "dataDir",
	"store":    "store",
}

// NewRootCommand builds the classdraw command tree.
func NewRootCommand() *cobra.Command {
	opts := &Options{}
	rootCmd := &cobra.Command{
		Use:   "classdraw",
		Short: "classdraw is a collaborative UML class diagram editor",
		Long: `classdraw serves a browser based class diagram editor where several people
edit the same diagram live, and turns diagrams into Java stubs, Mermaid
or re-importable project archives.`,
		SilenceUsage: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigFile, "config", "c", "", "Config file (yaml, json or toml)")
	flags.StringVar(&opts.EnvFile, "env-file", ".env", "Env file loaded before the environment")
	flags.StringVar(&opts.Address, "addr", "", "Address to listen on (default :8080 or CLASSDRAW_ADDRESS)")
	flags.StringVar(&opts.DataDir, "data-dir", "", "Directory for the fs store (default ./data or CLASSDRAW_DATA_DIR)")
	flags.StringVar(&opts.Store, "store", "", "Storage backend: fs, sqlite or datastore")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newListCmd(opts),
		newConnectCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
// This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers explicitly set flags over the env file, config file and
// environment.
func loadConfig(cmd *cobra.Command, opts *Options) (*config.Config, error) {
	return config.LoadWith(opts.EnvFile, opts.ConfigFile, func(v *viper.Viper) error {
		for name, key := range flagKeys {
			flag := cmd.Root().PersistentFlags().Lookup(name)
			if flag == nil || !flag.Changed {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return err
			}
		}
		return nil
	})
}

func openService(ctx context.Context, cfg *config.Config) (*services.DiagramService, error) {
	store, err := services.OpenStore(ctx, services.StoreOptions{
		Backend:          cfg.Store,
		DataDir:          cfg.DataDir,
		SQLitePath:       cfg.SQLitePath,
		DatastoreProject: cfg.DatastoreProject,
	})
	if err != nil {
		return nil, err
	}
	return services.NewDiagramService(store), nil
}
