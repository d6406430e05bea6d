package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/mofasa/internal/models"
	"github.com/soaringjerry/mofasa/internal/services"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Inspect and toggle questionnaire items per project",
}

var questionsListCmd = &cobra.Command{
	Use:   "list [project-id]",
	Short: "List questions; with a project id, show that project's resolved state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		var sections []models.SectionQuestions
		if len(args) == 0 {
			items, err := store.ListQuestionnaire(cmd.Context())
			if err != nil {
				return err
			}
			sections = groupBySection(items)
		} else {
			sections, err = services.NewQuestionService(store, logger).ProjectQuestions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), sections)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SECTION\tQUESTION\tTYPE\tENABLED")
		for _, sq := range sections {
			for _, q := range sq.Questions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", sq.Section, q.QuestionID, q.QuestionType, q.IsEnabled)
			}
		}
		return tw.Flush()
	},
}

var questionsSetCmd = &cobra.Command{
	Use:   "set <project-id> <question-id> <true|false>",
	Short: "Enable or disable a question for one project",
	Long: `Enable or disable a question for one project. Every section keeps at
least one enabled question; disabling the last one is refused.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := strconv.ParseBool(args[2])
		if err != nil {
			return fmt.Errorf("enabled must be true or false: %w", err)
		}
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		if err := services.NewQuestionService(store, logger).UpdateProjectQuestionStatus(cmd.Context(), args[0], args[1], enabled); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "project %s: %s enabled=%v\n", args[0], args[1], enabled)
		return nil
	},
}

func groupBySection(items []models.QuestionnaireItem) []models.SectionQuestions {
	var out []models.SectionQuestions
	for _, it := range items {
		if len(out) == 0 || out[len(out)-1].Section != it.Section {
			out = append(out, models.SectionQuestions{Section: it.Section})
		}
		last := &out[len(out)-1]
		last.Questions = append(last.Questions, it)
	}
	return out
}

func init() {
	questionsCmd.AddCommand(questionsListCmd, questionsSetCmd)
	rootCmd.AddCommand(questionsCmd)
}
