package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/llmeval/qa-registry/pkg/versioning"
)

func newDatasetsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datasets",
		Aliases: []string{"dataset", "ds"},
		Short:   "Curate dataset versions",
		Long:    "Create, publish and delete dataset versions and manage which questions they contain.",
	}
	cmd.AddCommand(newDatasetsListCmd(c))
	cmd.AddCommand(newDatasetsGetCmd(c))
	cmd.AddCommand(newDatasetsLatestCmd(c))
	cmd.AddCommand(newDatasetsCheckNameCmd(c))
	cmd.AddCommand(newDatasetsCreateCmd(c))
	cmd.AddCommand(newDatasetsUpdateCmd(c))
	cmd.AddCommand(newDatasetsPublishCmd(c))
	cmd.AddCommand(newDatasetsDeleteCmd(c))
	cmd.AddCommand(newDatasetsQuestionsCmd(c))
	cmd.AddCommand(newDatasetsMembershipCmd(c, "add", http.MethodPost, "Add questions to a dataset version"))
	cmd.AddCommand(newDatasetsMembershipCmd(c, "remove", http.MethodDelete, "Remove questions from a dataset version"))
	return cmd
}

var datasetHeaders = []string{"id", "name", "questions", "published", "release date", "latest", "created by"}

func datasetRows(ds ...versioning.DatasetResponse) [][]string {
	rows := make([][]string, 0, len(ds))
	for _, d := range ds {
		release := "-"
		if d.ReleaseDate != nil {
			release = timeStr(*d.ReleaseDate)
		}
		rows = append(rows, []string{
			uintStr(d.ID),
			d.Name,
			strconv.Itoa(d.QuestionCount),
			strconv.FormatBool(d.IsPublished),
			release,
			strconv.FormatBool(d.IsLatest),
			d.CreatedBy,
		})
	}
	return rows
}

func datasetPath(id uint, suffix string) string {
	return fmt.Sprintf("/api/v1/dataset-versions/%d%s", id, suffix)
}

func newDatasetsListCmd(c *cli) *cobra.Command {
	var (
		page, size int
		keyword    string
		published  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dataset versions, newest first",
		Example: `  qactl datasets list --keyword mmlu
  qactl datasets list --published=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := pageQuery(page, size)
			if keyword != "" {
				query.Set("keyword", keyword)
			}
			if cmd.Flags().Changed("published") {
				query.Set("isPublished", strconv.FormatBool(published))
			}
			var out versioning.PagedResponse[versioning.DatasetResponse]
			if err := c.client.do(cmd.Context(), http.MethodGet, "/api/v1/dataset-versions", query, nil, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, datasetHeaders, datasetRows(out.Content...))
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "Page number, starting at 1")
	cmd.Flags().IntVar(&size, "size", 0, "Page size")
	cmd.Flags().StringVar(&keyword, "keyword", "", "Only names containing this text, ignoring case")
	cmd.Flags().BoolVar(&published, "published", false, "Only published (true) or unpublished (false) versions")
	return cmd
}

func newDatasetsGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get DATASET_ID",
		Short: "Show a dataset version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "DATASET_ID")
			if err != nil {
				return err
			}
			var out versioning.DatasetResponse
			if err := c.client.do(cmd.Context(), http.MethodGet, datasetPath(id, ""), nil, nil, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, datasetHeaders, datasetRows(out))
		},
	}
}

func newDatasetsLatestCmd(c *cli) *cobra.Command {
	var published bool
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the most recently created dataset version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/dataset-versions/latest"
			if published {
				path += "-published"
			}
			var out versioning.DatasetResponse
			if err := c.client.do(cmd.Context(), http.MethodGet, path, nil, nil, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, datasetHeaders, datasetRows(out))
		},
	}
	cmd.Flags().BoolVar(&published, "published", false, "Show the most recently released published version instead")
	return cmd
}

func newDatasetsCheckNameCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check-name NAME",
		Short: "Report whether a dataset version name is already taken",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out versioning.NameCheckResponse
			if err := c.client.do(cmd.Context(), http.MethodGet, "/api/v1/dataset-versions/check-name", url.Values{"name": {args[0]}}, nil, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, []string{"name", "exists"},
				[][]string{{out.Name, strconv.FormatBool(out.Exists)}})
		},
	}
}

func newDatasetsCreateCmd(c *cli) *cobra.Command {
	var req versioning.CreateDatasetRequest
	var questions []string
	var base uint
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a dataset version",
		Example: `  qactl datasets create --name v1.0 --questions 1,2,3
  qactl datasets create --name v1.1 --base 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("questions") {
				ids, err := parseUints(questions, "question id")
				if err != nil {
					return err
				}
				req.QuestionIDs = ids
			}
			if cmd.Flags().Changed("base") {
				req.BaseVersionID = &base
			}
			var out versioning.DatasetResponse
			if err := c.client.do(cmd.Context(), http.MethodPost, "/api/v1/dataset-versions", nil, req, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, datasetHeaders, datasetRows(out))
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Unique dataset version name (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Description")
	cmd.Flags().StringSliceVar(&questions, "questions", nil, "Question ids to include")
	cmd.Flags().UintVar(&base, "base", 0, "Copy membership from this dataset version when --questions is not set")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newDatasetsUpdateCmd(c *cli) *cobra.Command {
	var name, description string
	cmd := &cobra.Command{
		Use:   "update DATASET_ID",
		Short: "Rename a dataset version or change its description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "DATASET_ID")
			if err != nil {
				return err
			}
			var req versioning.UpdateDatasetRequest
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}
			var out versioning.DatasetResponse
			if err := c.client.do(cmd.Context(), http.MethodPatch, datasetPath(id, ""), nil, req, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, datasetHeaders, datasetRows(out))
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	return cmd
}

func newDatasetsPublishCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "publish DATASET_ID",
		Short: "Publish a dataset version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "DATASET_ID")
			if err != nil {
				return err
			}
			var out versioning.DatasetResponse
			if err := c.client.do(cmd.Context(), http.MethodPost, datasetPath(id, "/publish"), nil, nil, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, datasetHeaders, datasetRows(out))
		},
	}
}

func newDatasetsDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete DATASET_ID",
		Short: "Delete a dataset version and its membership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "DATASET_ID")
			if err != nil {
				return err
			}
			if err := c.client.do(cmd.Context(), http.MethodDelete, datasetPath(id, ""), nil, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dataset version %d deleted\n", id)
			return nil
		},
	}
}

func newDatasetsQuestionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "questions DATASET_ID",
		Short: "List the questions in a dataset version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "DATASET_ID")
			if err != nil {
				return err
			}
			var out []versioning.QuestionResponse
			if err := c.client.do(cmd.Context(), http.MethodGet, datasetPath(id, "/questions"), nil, nil, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, questionHeaders, questionRows(out...))
		},
	}
}

func newDatasetsMembershipCmd(c *cli, use, method, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " DATASET_ID QUESTION_ID...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "DATASET_ID")
			if err != nil {
				return err
			}
			ids, err := parseUints(args[1:], "QUESTION_ID")
			if err != nil {
				return err
			}
			var out versioning.DatasetResponse
			req := versioning.MembershipRequest{QuestionIDs: ids}
			if err := c.client.do(cmd.Context(), method, datasetPath(id, "/questions"), nil, req, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, datasetHeaders, datasetRows(out))
		},
	}
}
