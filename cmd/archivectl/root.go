// Root command for archivectl.
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yanizio/schoolarchive/internal/app"
	"github.com/yanizio/schoolarchive/internal/config"
	"github.com/yanizio/schoolarchive/internal/logger"
)

// cli carries global flag values and the App built in PersistentPreRunE.
type cli struct {
	root    string
	actor   int64
	jsonOut bool
	verbose bool

	app *app.App
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "archivectl",
		Short:         "Archive, preview, and restore school portal records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}

	root.PersistentFlags().StringVar(&c.root, "root", "", "directory holding conf/global.yaml (default: discovered from cwd or RECOVERY_ROOT)")
	root.PersistentFlags().Int64Var(&c.actor, "actor", 0, "users id recorded as the actor in audit entries")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "output as JSON")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "tee logs to the console")

	root.AddCommand(
		newArchiveCmd(c),
		newPreviewCmd(c),
		newRestoreCmd(c),
		newReconcileCmd(c),
		newEntitiesCmd(c),
	)
	return root
}

// open loads config and wires the App with inline identity repairs.
func (c *cli) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		cfg *config.Config
		err error
	)
	if c.root != "" {
		cfg, err = config.LoadFrom(ctx, c.root)
	} else {
		cfg, err = config.Load(ctx)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Paths.Root, c.verbose)
	if err != nil {
		return fmt.Errorf("start logger: %w", err)
	}
	c.app, err = app.Build(ctx, cfg, log.Desugar(), true)
	return err
}

// emit writes v as indented JSON, or calls text for the human form.
func (c *cli) emit(cmd *cobra.Command, v any, text func()) error {
	if !c.jsonOut {
		text()
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
