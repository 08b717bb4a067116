package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/backmassage/neuroprep/internal/bids"
	"github.com/backmassage/neuroprep/internal/check"
	"github.com/backmassage/neuroprep/internal/display"
	"github.com/backmassage/neuroprep/internal/pipeline"
)

func newSubjectsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "subjects",
		Short: "List the subjects a run would process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := pipeline.NewEnv(&a.cfg, a.log, a.store)
			l, err := env.Layout(cmd.Context())
			if err != nil {
				return err
			}
			subjects, err := pipeline.SelectSubjects(&a.cfg, l)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range subjects {
				fmt.Fprintln(out, s)
			}
			return nil
		},
	}
}

func newLayoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Summarise the dataset: sessions, files and size per subject",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := pipeline.NewEnv(&a.cfg, a.log, a.store)
			l, err := env.Layout(cmd.Context())
			if err != nil {
				return err
			}
			display.PrintTable(cmd.OutOrStdout(),
				[]string{"Subject", "Sessions", "Files", "Size"}, layoutRows(l))
			return nil
		},
	}
}

// layoutRows groups the indexed files by subject. Files that vanished since
// indexing count towards Files but not Size.
func layoutRows(l *bids.Layout) [][]string {
	type tally struct {
		files int
		size  int64
	}
	bySubject := make(map[string]*tally)
	for _, f := range l.Files {
		t := bySubject[f.Subject]
		if t == nil {
			t = &tally{}
			bySubject[f.Subject] = t
		}
		t.files++
		if fi, err := os.Stat(f.Path); err == nil {
			t.size += fi.Size()
		}
	}

	var rows [][]string
	for _, s := range l.Subjects() {
		t := bySubject[s]
		rows = append(rows, []string{
			s,
			strings.Join(l.Sessions(s), " "),
			strconv.Itoa(t.files),
			display.FormatBytes(t.size),
		})
	}
	return rows
}

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report external tools, the FSL version and AIAA models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			check.RunCheck(cmd.Context(), &a.cfg, a.log, cmd.OutOrStdout())
			return nil
		},
	}
}

func newReportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Tabulate registration matrices and flag outliers",
		Long: `Read every coregistration matrix written by align, and print its
scale and translation per session. Matrices that are not rigid, or whose
values fall outside the interquartile fences, are flagged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := pipeline.NewEnv(&a.cfg, a.log, a.store)
			l, err := env.Layout(cmd.Context())
			if err != nil {
				return err
			}
			subjects, err := pipeline.SelectSubjects(&a.cfg, l)
			if err != nil {
				return err
			}
			return pipeline.Report(cmd.Context(), env, subjects, cmd.OutOrStdout())
		},
	}
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs, or the steps of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.store == nil {
				return errors.New("history needs a run ledger (set --db or index_db)")
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				steps, err := a.store.Steps(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(steps))
				for _, s := range steps {
					rows = append(rows, []string{s.Stage, s.Subject, s.Session, s.Status, s.Message})
				}
				display.PrintTable(out, []string{"Stage", "Subject", "Session", "Status", "Message"}, rows)
				return nil
			}

			runs, err := a.store.Runs(ctx, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				took := "running"
				if !r.FinishedAt.IsZero() {
					took = display.FormatDuration(r.FinishedAt.Sub(r.StartedAt))
				}
				rows = append(rows, []string{r.ID, r.Command, r.StartedAt.Local().Format("2006-01-02 15:04"), took})
			}
			display.PrintTable(out, []string{"Run", "Command", "Started", "Took"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}
