package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/Reconcile/internal/core"
	"github.com/JonMunkholm/Reconcile/internal/report"
)

func stdinIsTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

func (c *cli) console(cmd *cobra.Command) *console {
	return &console{
		service: c.service,
		owner:   c.owner,
		in:      bufio.NewReader(cmd.InOrStdin()),
		out:     cmd.OutOrStdout(),
	}
}

// finish drives prompts when interactive and prints the session status.
func (c *cli) finish(cmd *cobra.Command, importID uuid.UUID, out core.Outcome, interactive bool) error {
	ctx := cmd.Context()
	if interactive {
		var err error
		if out, err = c.console(cmd).drive(ctx, out); err != nil {
			return err
		}
	} else if out.State == core.RunSuspended && out.Prompt != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Waiting on row %d (%q). Answer with: importctl respond\n", out.Prompt.RowIndex+1, out.Prompt.Subject)
	}
	view, err := c.service.SessionStatus(ctx, importID)
	if err != nil {
		return err
	}
	return emit(cmd.OutOrStdout(), c.output, view, func() tableData { return statusTable(view) })
}

// printStatus prints the owner's open session.
func (c *cli) printStatus(ctx context.Context, w io.Writer) error {
	view, err := c.service.Status(ctx, c.owner)
	if errors.Is(err, core.ErrNoActiveSession) {
		fmt.Fprintln(w, "No open import session.")
		return nil
	}
	if err != nil {
		return err
	}
	return emit(w, c.output, view, func() tableData { return statusTable(view) })
}

func openSource(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func printReport(w io.Writer, rep core.RejectionReport) error {
	fmt.Fprintf(w, "%d rows accepted, %d rejected, %d skipped.\n", rep.Accepted, rep.RejectedRows(), len(rep.Skipped))
	if len(rep.IgnoredColumns) > 0 {
		fmt.Fprintf(w, "Ignored columns: %s\n", strings.Join(rep.IgnoredColumns, ", "))
	}
	if len(rep.Rejected) == 0 {
		return nil
	}
	return renderTable(w, rejectionTable(rep))
}

func (c *cli) startCmd() *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:     "start <flavor> <file.csv>",
		Short:   "Start an import session from a CSV file",
		GroupID: "session",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, size, err := openSource(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := c.service.Start(cmd.Context(), core.StartRequest{
				OwnerID:    c.owner,
				Flavor:     args[0],
				SourceName: filepath.Base(args[1]),
				SourceSize: size,
				Body:       f,
			})
			if res != nil {
				if perr := printReport(cmd.ErrOrStderr(), res.Report); perr != nil {
					return perr
				}
			}
			if err != nil {
				return describe(err)
			}
			return c.finish(cmd, res.Session.ID, res.Outcome, interactive)
		},
	}
	cmd.Flags().BoolVar(&interactive, "interactive", stdinIsTerminal(), "answer prompts in this terminal")
	return cmd
}

func (c *cli) respondCmd() *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "respond [choose|manual_id|requery|skip] [value]",
		Short: "Answer the pending prompt",
		Long: `Without arguments, respond shows the pending prompt and reads answers
from the terminal. With an action it answers once and exits.`,
		GroupID: "session",
		Args:    cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, prompt, err := c.service.Prompt(ctx, c.owner)
			if err != nil {
				return describe(err)
			}
			if prompt == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s has no pending prompt.\n", sess.ID)
				return nil
			}
			out := core.Outcome{State: core.RunSuspended, Status: sess.Status, Prompt: prompt}

			if len(args) > 0 {
				resp := core.Response{Token: prompt.Token, Action: core.ResponseAction(args[0])}
				if len(args) > 1 {
					resp.Value = args[1]
				}
				if out, err = c.service.Respond(ctx, c.owner, resp); err != nil {
					return describe(err)
				}
			} else {
				interactive = true
			}
			return c.finish(cmd, sess.ID, out, interactive)
		},
	}
	cmd.Flags().BoolVar(&interactive, "interactive", false, "keep answering prompts after this one")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	var importID string
	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show the open session, or any session with --import",
		GroupID: "session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if importID == "" {
				return c.printStatus(cmd.Context(), cmd.OutOrStdout())
			}
			id, err := uuid.Parse(importID)
			if err != nil {
				return fmt.Errorf("invalid import id %q: %w", importID, err)
			}
			view, err := c.service.SessionStatus(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			return emit(cmd.OutOrStdout(), c.output, view, func() tableData { return statusTable(view) })
		},
	}
	cmd.Flags().StringVar(&importID, "import", "", "import session id")
	return cmd
}

func (c *cli) pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "pause",
		Short:   "Pause the open session",
		GroupID: "session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.service.Pause(cmd.Context(), c.owner); err != nil {
				return describe(err)
			}
			return c.printStatus(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (c *cli) resumeCmd() *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:     "resume",
		Short:   "Resume a paused session",
		GroupID: "session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.service.Status(cmd.Context(), c.owner)
			if err != nil {
				return describe(err)
			}
			out, err := c.service.Resume(cmd.Context(), c.owner)
			if err != nil {
				return describe(err)
			}
			return c.finish(cmd, view.Session.ID, out, interactive)
		},
	}
	cmd.Flags().BoolVar(&interactive, "interactive", stdinIsTerminal(), "answer prompts in this terminal")
	return cmd
}

func (c *cli) cancelCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:     "cancel",
		Short:   "Cancel the open session",
		GroupID: "session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.service.Cancel(cmd.Context(), c.owner, purge)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s canceled.\n", sess.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "delete the session's items")
	return cmd
}

func (c *cli) retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "retry <import-id> <group-key>",
		Short:   "Retry a group whose commit failed",
		GroupID: "session",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid import id %q: %w", args[0], err)
			}
			out, err := c.service.RetryGroup(cmd.Context(), id, args[1])
			if err != nil {
				return describe(err)
			}
			return emit(cmd.OutOrStdout(), c.output, out, func() tableData {
				return tableData{
					Headers: []string{"Group", "Status", "Entity", "Members", "Changed"},
					Rows: [][]string{{
						out.GroupKey, string(out.Status), out.EntityID.String(),
						strconv.Itoa(out.Members), strconv.Itoa(out.Changed),
					}},
				}
			})
		},
	}
}

func (c *cli) checkCmd() *cobra.Command {
	var reportPath string
	cmd := &cobra.Command{
		Use:     "check <flavor> <file.csv>",
		Short:   "Validate a CSV file without importing it",
		GroupID: "files",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, size, err := openSource(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			rep, err := c.service.Check(cmd.Context(), args[0], f, size)
			if err != nil {
				return describe(err)
			}
			if reportPath != "" {
				if err := writeFile(reportPath, func(w io.Writer, format report.Format) error {
					return report.WriteRejections(w, format, rep)
				}); err != nil {
					return err
				}
			}
			if c.output != "table" {
				return emit(cmd.OutOrStdout(), c.output, rep, nil)
			}
			return printReport(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVar(&reportPath, "report", "", "write the rejection report to a .csv or .xlsx file")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:     "export <import-id>",
		Short:   "Export a session's items",
		GroupID: "files",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid import id %q: %w", args[0], err)
			}
			view, err := c.service.SessionStatus(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			items, err := c.service.Items(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			if outPath == "" {
				return emit(cmd.OutOrStdout(), c.output, items, func() tableData { return itemTable(items) })
			}
			f, err := core.Lookup(view.Session.Flavor)
			if err != nil {
				return err
			}
			return writeFile(outPath, func(w io.Writer, format report.Format) error {
				return report.WriteItems(w, format, f, items)
			})
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write items to a .csv or .xlsx file")
	return cmd
}

func (c *cli) auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "audit <import-id>",
		Short:   "Show a session's audit trail",
		GroupID: "session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid import id %q: %w", args[0], err)
			}
			entries, err := c.service.AuditTrail(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			return emit(cmd.OutOrStdout(), c.output, entries, func() tableData { return auditTable(entries) })
		},
	}
}

func (c *cli) templateCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:         "template <flavor>",
		Short:       "Write an empty import file for a flavor",
		GroupID:     "files",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := core.Lookup(args[0])
			if err != nil {
				return err
			}
			if outPath == "" {
				return report.WriteTemplate(cmd.OutOrStdout(), report.FormatCSV, f)
			}
			return writeFile(outPath, func(w io.Writer, format report.Format) error {
				return report.WriteTemplate(w, format, f)
			})
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write the template to a .csv or .xlsx file")
	return cmd
}

func (c *cli) flavorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "flavors",
		Short:       "List the available importers",
		GroupID:     "files",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			flavors := core.FlavorInfos()
			return emit(cmd.OutOrStdout(), c.output, flavors, func() tableData { return flavorTable(flavors) })
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store applies the schema.
			fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s).\n", c.cfg.Database.Driver)
			return nil
		},
	}
}

// writeFile creates path and writes it in the format its extension names.
func writeFile(path string, write func(io.Writer, report.Format) error) error {
	format, err := report.ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// describe adds the user-facing hint to a service error.
func describe(err error) error {
	msg := core.MapError(err)
	if msg.Action == "" {
		return fmt.Errorf("%s: %w", msg.Message, err)
	}
	return fmt.Errorf("%s %s: %w", msg.Message, msg.Action, err)
}
