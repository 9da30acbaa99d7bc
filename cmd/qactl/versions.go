package main

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/llmeval/qa-registry/pkg/versioning"
)

func newVersionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "versions",
		Aliases: []string{"version", "v"},
		Short:   "Work with question version history",
		Long:    "List, create, roll back, compare and delete question versions, and read version statistics.",
	}
	cmd.AddCommand(newVersionsListCmd(c))
	cmd.AddCommand(newVersionsCreateCmd(c))
	cmd.AddCommand(newVersionsGetCmd(c))
	cmd.AddCommand(newVersionsLatestCmd(c))
	cmd.AddCommand(newVersionsRollbackCmd(c))
	cmd.AddCommand(newVersionsDeleteCmd(c))
	cmd.AddCommand(newVersionsCompareCmd(c))
	cmd.AddCommand(newVersionsStatsCmd(c))
	cmd.AddCommand(newVersionsChangesCmd(c))
	cmd.AddCommand(newVersionsByActorCmd(c))
	return cmd
}

var versionHeaders = []string{"version id", "question", "version", "changed by", "reason", "created"}

func versionRows(vs ...versioning.VersionResponse) [][]string {
	rows := make([][]string, 0, len(vs))
	for _, v := range vs {
		rows = append(rows, []string{
			uintStr(v.VersionID),
			uintStr(v.QuestionID),
			v.VersionName,
			v.ChangedByName,
			truncate(v.ChangeReason, 40),
			timeStr(v.CreatedAt),
		})
	}
	return rows
}

func pageQuery(page, size int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if size > 0 {
		q.Set("size", strconv.Itoa(size))
	}
	return q
}

func newVersionsListCmd(c *cli) *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:   "list QUESTION_ID",
		Short: "List a question's versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "QUESTION_ID")
			if err != nil {
				return err
			}
			var out versioning.PagedResponse[versioning.VersionResponse]
			path := fmt.Sprintf("/api/v1/questions/%d/versions", id)
			if err := c.client.do(cmd.Context(), http.MethodGet, path, pageQuery(page, size), nil, &out); err != nil {
				return err
			}
			if err := printOutput(cmd.OutOrStdout(), c.format, out, versionHeaders, versionRows(out.Content...)); err != nil {
				return err
			}
			if c.format == outputTable {
				fmt.Fprintf(cmd.OutOrStdout(), "\npage %d of %d (%d versions)\n", out.CurrentPage, out.Pages, out.Total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "Page number, starting at 1")
	cmd.Flags().IntVar(&size, "size", 0, "Page size")
	return cmd
}

func newVersionsCreateCmd(c *cli) *cobra.Command {
	var req versioning.CreateVersionRequest
	cmd := &cobra.Command{
		Use:   "create QUESTION_ID",
		Short: "Record a new version of a question's text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "QUESTION_ID")
			if err != nil {
				return err
			}
			var out versioning.CreateVersionResponse
			path := fmt.Sprintf("/api/v1/questions/%d/versions", id)
			if err := c.client.do(cmd.Context(), http.MethodPost, path, nil, req, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, versionHeaders, versionRows(out.VersionInfo))
		},
	}
	cmd.Flags().StringVar(&req.QuestionBody, "body", "", "New question text (required)")
	cmd.Flags().StringVar(&req.ChangeReason, "reason", "", "Reason for the change")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func newVersionsGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get VERSION_ID",
		Short: "Show one version record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "VERSION_ID")
			if err != nil {
				return err
			}
			var out versioning.VersionResponse
			if err := c.client.do(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/v1/versions/%d", id), nil, nil, &out); err != nil {
				return err
			}
			return printVersionDetail(cmd, c, out)
		},
	}
}

func newVersionsLatestCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "latest QUESTION_ID",
		Short: "Show a question's newest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "QUESTION_ID")
			if err != nil {
				return err
			}
			var out versioning.VersionResponse
			path := fmt.Sprintf("/api/v1/questions/%d/versions/latest", id)
			if err := c.client.do(cmd.Context(), http.MethodGet, path, nil, nil, &out); err != nil {
				return err
			}
			return printVersionDetail(cmd, c, out)
		},
	}
}

func printVersionDetail(cmd *cobra.Command, c *cli, v versioning.VersionResponse) error {
	if c.format != outputTable {
		return printOutput(cmd.OutOrStdout(), c.format, v, nil, nil)
	}
	return printTable(cmd.OutOrStdout(), []string{"field", "value"}, [][]string{
		{"versionId", uintStr(v.VersionID)},
		{"questionId", uintStr(v.QuestionID)},
		{"version", v.VersionName},
		{"questionType", v.QuestionType},
		{"difficulty", v.Difficulty},
		{"categoryId", optUint(v.CategoryID)},
		{"changedBy", v.ChangedByName},
		{"changeReason", v.ChangeReason},
		{"createdAt", timeStr(v.CreatedAt)},
		{"question", truncate(v.QuestionBody, 100)},
	})
}

func newVersionsRollbackCmd(c *cli) *cobra.Command {
	var req versioning.RollbackRequest
	cmd := &cobra.Command{
		Use:   "rollback QUESTION_ID TARGET_VERSION_ID",
		Short: "Restore a question to an earlier version by appending a new one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qid, err := parseUint(args[0], "QUESTION_ID")
			if err != nil {
				return err
			}
			vid, err := parseUint(args[1], "TARGET_VERSION_ID")
			if err != nil {
				return err
			}
			var out versioning.CreateVersionResponse
			path := fmt.Sprintf("/api/v1/questions/%d/versions/%d/rollback", qid, vid)
			if err := c.client.do(cmd.Context(), http.MethodPost, path, nil, req, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, versionHeaders, versionRows(out.VersionInfo))
		},
	}
	cmd.Flags().StringVar(&req.ChangeReason, "reason", "", "Reason for the rollback")
	return cmd
}

func newVersionsDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete VERSION_ID",
		Short: "Soft-delete a non-current version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "VERSION_ID")
			if err != nil {
				return err
			}
			if err := c.client.do(cmd.Context(), http.MethodDelete, fmt.Sprintf("/api/v1/versions/%d", id), nil, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d deleted\n", id)
			return nil
		},
	}
}

func newVersionsCompareCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "compare FROM_VERSION_ID TO_VERSION_ID",
		Short: "Show field-level differences between two versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseUint(args[0], "FROM_VERSION_ID")
			if err != nil {
				return err
			}
			to, err := parseUint(args[1], "TO_VERSION_ID")
			if err != nil {
				return err
			}
			q := url.Values{}
			q.Set("fromVersionId", uintStr(from))
			q.Set("toVersionId", uintStr(to))
			var out versioning.VersionComparison
			if err := c.client.do(cmd.Context(), http.MethodGet, "/api/v1/versions/compare", q, nil, &out); err != nil {
				return err
			}

			fields := make([]string, 0, len(out.Differences))
			for f := range out.Differences {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			rows := make([][]string, 0, len(fields))
			for _, f := range fields {
				d := out.Differences[f]
				rows = append(rows, []string{
					f,
					strconv.FormatBool(d.Changed),
					truncate(fmt.Sprint(valueOrDash(d.OldValue)), 40),
					truncate(fmt.Sprint(valueOrDash(d.NewValue)), 40),
				})
			}
			headers := []string{"field", "changed", out.From.Label, out.To.Label}
			return printOutput(cmd.OutOrStdout(), c.format, out, headers, rows)
		},
	}
}

func valueOrDash(v any) any {
	if v == nil {
		return "-"
	}
	return v
}

func newVersionsStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show registry-wide version statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out versioning.VersionStatistics
			if err := c.client.do(cmd.Context(), http.MethodGet, "/api/v1/versions/statistics", nil, nil, &out); err != nil {
				return err
			}
			latest := out.LatestDatasetVersion
			if latest == "" {
				latest = "-"
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, []string{"metric", "value"}, [][]string{
				{"totalDatasetVersions", strconv.FormatInt(out.TotalDatasetVersions, 10)},
				{"publishedDatasetVersions", strconv.FormatInt(out.PublishedDatasetVersions, 10)},
				{"totalQuestionVersions", strconv.FormatInt(out.TotalQuestionVersions, 10)},
				{"questionsWithMultipleVersions", strconv.FormatInt(out.QuestionsWithMultipleVersions, 10)},
				{"latestDatasetVersion", latest},
				{"versionChangesThisMonth", strconv.FormatInt(out.VersionChangesThisMonth, 10)},
				{"versionChangesToday", strconv.FormatInt(out.VersionChangesToday, 10)},
			})
		},
	}
}

func newVersionsChangesCmd(c *cli) *cobra.Command {
	var since time.Duration
	var start, end string
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List versions created in a time window",
		Example: `  qactl versions changes --since 24h
  qactl versions changes --start 2024-05-01T00:00:00Z --end 2024-06-01T00:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if start == "" {
				now := time.Now().UTC()
				start = now.Add(-since).Format(time.RFC3339)
				if end == "" {
					end = now.Format(time.RFC3339)
				}
			}
			if end == "" {
				end = time.Now().UTC().Format(time.RFC3339)
			}
			q := url.Values{}
			q.Set("startTime", start)
			q.Set("endTime", end)
			var out []versioning.VersionResponse
			if err := c.client.do(cmd.Context(), http.MethodGet, "/api/v1/versions/changes", q, nil, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, versionHeaders, versionRows(out...))
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Window length ending now, used when --start is not set")
	cmd.Flags().StringVar(&start, "start", "", "Window start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "Window end (RFC3339)")
	return cmd
}

func newVersionsByActorCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "by-actor ACTOR",
		Short: "List versions authored by an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("actor", args[0])
			var out []versioning.VersionResponse
			if err := c.client.do(cmd.Context(), http.MethodGet, "/api/v1/versions/by-actor", q, nil, &out); err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, out, versionHeaders, versionRows(out...))
		},
	}
}
