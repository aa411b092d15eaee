package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yanizio/schoolarchive/internal/apperror"
	"github.com/yanizio/schoolarchive/internal/archive"
	"github.com/yanizio/schoolarchive/internal/identity"
	"github.com/yanizio/schoolarchive/internal/recovery"
)

func newArchiveCmd(c *cli) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "archive <entity> <root-id>...",
		Short: "Snapshot and archive records by users id",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseRootIDs(args[1:])
			if err != nil {
				return err
			}
			res, err := c.app.Archive.Archive(cmd.Context(), archive.Request{
				EntityKey: args[0],
				RootIDs:   ids,
				Reason:    reason,
				ActorID:   c.actor,
			})
			if res.OperationID != "" {
				if perr := c.emit(cmd, res, func() { printArchive(cmd, res) }); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason stored with each snapshot")
	return cmd
}

func newPreviewCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <entity> <id>...",
		Short: "Classify ids as recoverable, not recoverable, or not found",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.app.Recovery.Preview(cmd.Context(), recovery.PreviewRequest{
				EntityKey: args[0],
				IDs:       args[1:],
			})
			if err != nil {
				return err
			}
			return c.emit(cmd, p, func() { printPreview(cmd, p) })
		},
	}
}

func newRestoreCmd(c *cli) *cobra.Command {
	var reason, approval string
	cmd := &cobra.Command{
		Use:   "restore <entity> <id>...",
		Short: "Clear the soft-delete flag on recoverable ids",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.app.Recovery.Restore(cmd.Context(), recovery.RestoreRequest{
				EntityKey:    args[0],
				IDs:          args[1:],
				Reason:       reason,
				ApprovalNote: approval,
				ActorID:      c.actor,
			})
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func() {
				out := cmd.OutOrStdout()
				if res.NoOp {
					fmt.Fprintln(out, "nothing to restore")
				} else {
					fmt.Fprintf(out, "restored %d: %s\n", res.RestoredCount, strings.Join(res.RestoredIDs, ", "))
				}
				if len(res.NotRecoverable) > 0 {
					fmt.Fprintf(out, "not recoverable: %s\n", strings.Join(res.NotRecoverable, ", "))
				}
				if len(res.NotFound) > 0 {
					fmt.Fprintf(out, "not found: %s\n", strings.Join(res.NotFound, ", "))
				}
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the records are being restored (required)")
	cmd.Flags().StringVar(&approval, "approval-note", "", "supervisor approval note (required)")
	return cmd
}

func newReconcileCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <entity> <root-id>...",
		Short: "Rewrite divergent identifier copies to the canonical value",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseRootIDs(args[1:])
			if err != nil {
				return err
			}
			plans, err := c.app.Identity.Reconcile(cmd.Context(), identity.ReconcileRequest{
				EntityKey: args[0],
				RootIDs:   ids,
				ActorID:   c.actor,
			})
			if err != nil {
				return err
			}
			return c.emit(cmd, plans, func() {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ROOT ID\tCANONICAL\tSOURCE\tREPAIRS")
				for _, p := range plans {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", p.RootID, p.Canonical, p.Source, len(p.Repairs))
				}
				_ = tw.Flush()
			})
		},
	}
}

func newEntitiesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List configured entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := c.app.Entities.Keys()
			return c.emit(cmd, keys, func() {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ENTITY\tSTRATEGY\tMODE\tTABLES")
				for _, k := range keys {
					e, _ := c.app.Entities.Lookup(k)
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Key, e.Strategy, e.Mode, strings.Join(e.Tables, ","))
				}
				_ = tw.Flush()
			})
		},
	}
}

/*──────────────────────────── helpers ──────────────────────────────────────*/

func parseRootIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		n, err := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
		if err != nil {
			return nil, apperror.Invalid("root_ids", fmt.Sprintf("%q is not an integer", a))
		}
		ids = append(ids, n)
	}
	return ids, nil
}

func printArchive(cmd *cobra.Command, res archive.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "operation %s: archived %d\n", res.OperationID, res.ArchivedCount)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, a := range res.Archived {
		state := "new"
		if a.Reused {
			state = "reused"
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\tsnapshot %d (%s)\n", a.ID, a.Name, a.Email, a.ArchiveID, state)
	}
	_ = tw.Flush()
	for _, id := range res.NotFound {
		fmt.Fprintf(out, "  %d\tnot found\n", id)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(out, "  %d\tfailed: %s\n", f.ID, f.Error)
	}
}

func snapshotRef(st *archive.Stored) string {
	if st == nil || st.ArchiveID == 0 {
		return "-"
	}
	return fmt.Sprintf("#%d", st.ArchiveID)
}

func printPreview(cmd *cobra.Command, p recovery.Preview) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tREASON\tSNAPSHOT")
	for _, r := range p.Recoverable {
		fmt.Fprintf(tw, "%s\trecoverable\t%s\t%s\n", r.ID, r.Reason, snapshotRef(r.Snapshot))
	}
	for _, r := range p.NotRecoverable {
		fmt.Fprintf(tw, "%s\tactive\t\n", r.ID)
	}
	for _, id := range p.NotFound {
		fmt.Fprintf(tw, "%s\tnot found\t\n", id)
	}
	_ = tw.Flush()
}
