package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"clearskin/internal/api"
	"clearskin/internal/config"
	"clearskin/internal/quiz"
	"clearskin/internal/records"
	"clearskin/internal/workflow"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var answersFlag string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Analyze an image while answering the lifestyle questionnaire",
		Long: `Scan stores the image, submits it to the analysis service, and walks
through the questionnaire while detection runs. The record is saved once
both the questionnaire and the analysis have finished.

Use --answers with comma-separated option numbers (1-based, one per
question) to skip the interactive prompts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *records.SQLiteStore) error {
				manager, err := workflow.NewFromConfig(cfg, store, logger, nil)
				if err != nil {
					return err
				}
				defer manager.Close()

				preset, err := parseAnswers(answersFlag, manager.Catalog())
				if err != nil {
					return err
				}

				session, err := manager.CaptureFile(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if !jsonOutput {
					fmt.Fprintf(out, "Scan %s started; analysis is running in the background.\n", session.ID)
				}
				var runErr error
				if preset != nil {
					runErr = answerPreset(session.Quiz, preset)
				} else {
					runErr = runQuestionnaire(cmd.Context(), session.Quiz, cmd.InOrStdin(), out)
				}
				if runErr != nil {
					_ = manager.Abandon(session.ID)
					return runErr
				}

				if session.Quiz.State().Phase == quiz.PhaseAwaitingJobCompletion && !jsonOutput {
					fmt.Fprintln(out, "Waiting for analysis to finish...")
				}
				if err := session.Quiz.Wait(cmd.Context()); err != nil {
					return fmt.Errorf("finalize scan %s: %w", session.ID, err)
				}
				rec := session.Record()
				if rec == nil {
					return fmt.Errorf("scan %s finished without a record", session.ID)
				}

				detail := api.DetailFromRecord(rec, manager.Catalog())
				if jsonOutput {
					return writeJSON(cmd, detail)
				}
				fmt.Fprintln(out)
				renderDetail(newStatusPrinter(out), detail)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&answersFlag, "answers", "", "Comma-separated option numbers, one per question")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the saved record as JSON")
	return cmd
}

// parseAnswers converts "1,3,2,..." into zero-based option indexes. An empty
// value returns nil for interactive mode.
func parseAnswers(value string, catalog *quiz.Catalog) ([]int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != catalog.Len() {
		return nil, fmt.Errorf("--answers needs %d values, got %d", catalog.Len(), len(parts))
	}
	out := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		q := catalog.Questions[i]
		if err != nil || n < 1 || n > len(q.Options) {
			return nil, fmt.Errorf("--answers value %d (%q) must be between 1 and %d", i+1, part, len(q.Options))
		}
		out[i] = n - 1
	}
	return out, nil
}

func answerPreset(machine *quiz.Machine, picks []int) error {
	for i, pick := range picks {
		if err := machine.SelectAnswer(pick); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
		if err := machine.Advance(); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
	}
	return nil
}

// runQuestionnaire prompts for each question on out and reads choices from
// in. A choice is an option number or the option text itself. It returns as
// soon as ctx ends, even while a read is blocked.
func runQuestionnaire(ctx context.Context, machine *quiz.Machine, in io.Reader, out io.Writer) error {
	lines := readLines(ctx, in)
	for {
		question, ok := machine.Current()
		if !ok {
			return nil
		}
		progress := machine.Progress()
		fmt.Fprintf(out, "\nQuestion %d of %d (%s)\n%s\n", progress.Index+1, progress.Total, question.Category, question.Text)
		for i, opt := range question.Options {
			fmt.Fprintf(out, "  %d) %s\n", i+1, opt.Key)
		}
		fmt.Fprint(out, "> ")

		var line inputLine
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return fmt.Errorf("questionnaire interrupted; the scan was left pending: %w", ctx.Err())
		case next, open := <-lines:
			if !open {
				return errors.New("input closed before the questionnaire finished; the scan was left pending")
			}
			if next.err != nil {
				return fmt.Errorf("read answer: %w", next.err)
			}
			line = next
		}

		if choice, ok := matchOption(question, line.text); ok {
			if err := machine.SelectAnswer(choice); err != nil {
				return err
			}
		}
		err := machine.Advance()
		switch {
		case err == nil:
		case errors.Is(err, quiz.ErrNoAnswerSelected):
			fmt.Fprintln(out, "Please pick one of the listed options.")
		default:
			return err
		}
	}
}

type inputLine struct {
	text string
	err  error
}

// readLines scans in on its own goroutine. The channel closes at EOF; a read
// error arrives as the final item.
func readLines(ctx context.Context, in io.Reader) <-chan inputLine {
	lines := make(chan inputLine)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- inputLine{text: scanner.Text()}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case lines <- inputLine{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return lines
}

func matchOption(question quiz.Question, input string) (int, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(question.Options) {
			return n - 1, true
		}
		return 0, false
	}
	for i, opt := range question.Options {
		if strings.EqualFold(opt.Key, input) {
			return i, true
		}
	}
	return 0, false
}
