package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/llmeval/qa-registry/pkg/versioning"
)

func newQuestionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "questions",
		Aliases: []string{"question", "q"},
		Short:   "Create and inspect standard questions",
	}
	cmd.AddCommand(newQuestionsCreateCmd(c))
	cmd.AddCommand(newQuestionsGetCmd(c))
	return cmd
}

func questionRows(qs ...versioning.QuestionResponse) [][]string {
	rows := make([][]string, 0, len(qs))
	for _, q := range qs {
		rows = append(rows, []string{
			uintStr(q.ID),
			truncate(q.Question, 60),
			q.QuestionType,
			q.Difficulty,
			q.Status,
			fmt.Sprintf("v%d", q.CurrentVersion),
			q.CreatedBy,
		})
	}
	return rows
}

var questionHeaders = []string{"id", "question", "type", "difficulty", "status", "version", "created by"}

func newQuestionsCreateCmd(c *cli) *cobra.Command {
	var req versioning.CreateQuestionRequest
	var category uint

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a question",
		Example: `  qactl questions create --question "What is the boiling point of water at sea level?" --type simple_fact
  qactl questions create --question "Explain overfitting" --type subjective --difficulty medium --category 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("category") {
				req.CategoryID = &category
			}
			var out versioning.QuestionResponse
			if err := c.client.do(cmd.Context(), http.MethodPost, "/api/v1/questions", nil, req, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, questionHeaders, questionRows(out))
		},
	}
	cmd.Flags().StringVar(&req.Question, "question", "", "Question text (required)")
	cmd.Flags().StringVar(&req.QuestionType, "type", "", "Question type: single_choice, multiple_choice, simple_fact, subjective (required)")
	cmd.Flags().StringVar(&req.Difficulty, "difficulty", "", "Difficulty: easy, medium, hard")
	cmd.Flags().UintVar(&category, "category", 0, "Category id")
	_ = cmd.MarkFlagRequired("question")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newQuestionsGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get QUESTION_ID",
		Short: "Show a question and its current version number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "QUESTION_ID")
			if err != nil {
				return err
			}
			var out versioning.QuestionResponse
			if err := c.client.do(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/v1/questions/%d", id), nil, nil, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, questionHeaders, questionRows(out))
		},
	}
}
