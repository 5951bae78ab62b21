package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelanni/qareview/internal/llm"
	"github.com/pavelanni/qareview/internal/model"
	"github.com/pavelanni/qareview/internal/review"
	"github.com/pavelanni/qareview/internal/seed"
	"github.com/pavelanni/qareview/internal/worker"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import a question bank for one subject and queue it for evaluation",
		Long: `Import questions for a subject. Without --file the built-in mortgage
question bank is used. Nothing is imported if the subject already has
questions.`,
		RunE: runSeed,
	}
	f := cmd.Flags()
	f.StringP("subject", "s", "", "Subject to file the questions under")
	f.StringP("file", "f", "", "YAML or JSON question bank (default: built-in mock bank)")
	f.String("imported-by", "", "Name recorded in the import session")
	f.Bool("no-enqueue", false, "Do not queue the imported questions for evaluation")
	addCommonFlags(f)
	return cmd
}

func runSeed(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	var (
		batch model.BatchImport
		err   error
	)
	if path := v.GetString("file"); path != "" {
		batch, err = seed.LoadFile(path, v.GetString("subject"))
	} else {
		if v.GetString("subject") == "" {
			return errors.New("--subject is required for the built-in question bank")
		}
		batch, err = seed.MockBatch(v.GetString("subject"))
	}
	if err != nil {
		return err
	}
	if by := v.GetString("imported-by"); by != "" {
		batch.ImportedBy = by
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	res, err := db.CreateBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("import questions: %w", err)
	}
	if !res.Seeded {
		fmt.Fprintf(cmd.OutOrStdout(), "Subject %q already has questions; nothing imported.\n", batch.Subject)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d questions into %q.\n", res.Count, batch.Subject)

	if v.GetBool("no-enqueue") {
		return nil
	}
	n, err := db.AdmitAll(ctx)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %d questions for evaluation.\n", n)
	return nil
}

func enqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue every question without a verdict or queue entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			db, err := openStore(v)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := db.AdmitAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %d questions for evaluation.\n", n)
			return nil
		},
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate queued questions until the queue is empty",
		RunE:  runEvaluate,
	}
	f := cmd.Flags()
	f.Bool("sweep", true, "Requeue stale processing entries before starting")
	f.Duration("stale-after", 10*time.Minute, "Processing entries older than this are requeued by --sweep")
	f.Bool("retry-failed", false, "Requeue failed entries before starting")
	addLLMFlags(f)
	addCommonFlags(f)
	return cmd
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	evaluator, err := newEvaluator(v)
	if err != nil {
		return err
	}
	if !evaluator.Configured() {
		return fmt.Errorf("%w: set --llm-key and --llm-model", llm.ErrNotConfigured)
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	cfg := reviewConfig(v)
	if v.GetBool("sweep") || cfg.RetryFailed {
		if !v.GetBool("sweep") {
			cfg.StaleAfter = 0
		}
		if _, err := worker.NewSweeper(db, cfg).Sweep(ctx); err != nil {
			return fmt.Errorf("sweep queue: %w", err)
		}
	}

	start := time.Now()
	st, err := worker.New(db, evaluator, cfg).Drain(ctx)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	slog.Info("evaluation finished", "done", st.Done, "failed", st.Failed, "duration", time.Since(start).Round(time.Millisecond))
	return printJSON(cmd.OutOrStdout(), st)
}

func progressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Print review progress as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			db, err := openStore(v)
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := review.New(db).Progress(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Print evaluation queue counts, or entries with --list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			db, err := openStore(v)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if v.GetBool("list") {
				entries, err := db.ListQueue(ctx, model.QueueStatus(v.GetString("status")))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			}
			st, err := db.QueueStatus(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	f := cmd.Flags()
	f.Bool("list", false, "List entries instead of counts")
	f.String("status", "", "Only list entries with this status (queued, processing, done, failed)")
	addCommonFlags(f)
	return cmd
}

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Record or list evaluator mistakes per subject",
	}

	record := &cobra.Command{
		Use:   "record",
		Short: "Record an evaluator mistake for a subject",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			db, err := openStore(v)
			if err != nil {
				return err
			}
			defer db.Close()

			m, err := review.New(db).RecordMistake(cmd.Context(), model.MistakeInput{
				Subject:         v.GetString("subject"),
				MistakePattern:  v.GetString("pattern"),
				ExampleQuestion: v.GetString("example"),
				Resolution:      v.GetString("resolution"),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
	rf := record.Flags()
	rf.StringP("subject", "s", "", "Subject the mistake applies to")
	rf.String("pattern", "", "Description of the recurring mistake")
	rf.String("example", "", "Example question where it happened")
	rf.String("resolution", "", "What the evaluator should do instead")
	addCommonFlags(rf)

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded mistakes, optionally for one subject",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			db, err := openStore(v)
			if err != nil {
				return err
			}
			defer db.Close()

			var mem []model.SubjectMemory
			if subject := v.GetString("subject"); subject != "" {
				mem, err = db.MemoryBySubject(cmd.Context(), subject)
			} else {
				mem, err = db.ListMemory(cmd.Context())
			}
			if err != nil {
				return err
			}
			if mem == nil {
				mem = []model.SubjectMemory{}
			}
			return printJSON(cmd.OutOrStdout(), mem)
		},
	}
	list.Flags().StringP("subject", "s", "", "Only list mistakes for this subject")
	addCommonFlags(list.Flags())

	cmd.AddCommand(record, list)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export reviewed questions as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.StringP("subject", "s", "", "Only export this subject")
	f.Bool("include-synced", false, "Include questions already marked as synced")
	f.Bool("mark-synced", false, "Mark exported questions as synced")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(f)
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	results, err := db.ExportReviewed(ctx, v.GetString("subject"), v.GetBool("include-synced"))
	if err != nil {
		return fmt.Errorf("export reviewed questions: %w", err)
	}

	out, err := openOutput(v.GetString("output"), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer out.Close()

	export := model.ReviewExport{
		ExportedAt: time.Now().UTC(),
		Subject:    v.GetString("subject"),
		Count:      len(results),
		Results:    results,
	}
	if err := printJSON(out, export); err != nil {
		return err
	}

	if v.GetBool("mark-synced") && len(results) > 0 {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.ID
		}
		n, err := db.MarkSynced(ctx, ids)
		if err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
		slog.Info("marked questions as synced", "count", n)
	}
	return nil
}
