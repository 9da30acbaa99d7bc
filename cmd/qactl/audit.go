package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

type auditEvent struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlationId,omitempty"`
	EventType     string         `json:"eventType"`
	Actor         string         `json:"actor"`
	ResourceType  string         `json:"resourceType,omitempty"`
	ResourceID    string         `json:"resourceId,omitempty"`
	Action        string         `json:"action,omitempty"`
	Outcome       string         `json:"outcome"`
	StatusCode    int            `json:"statusCode,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"createdAt"`
}

type auditEventsResponse struct {
	Events        []auditEvent `json:"events"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
	TotalSize     int          `json:"totalSize"`
}

func newAuditCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit log",
	}
	cmd.AddCommand(newAuditEventsCmd(c))
	return cmd
}

func newAuditEventsCmd(c *cli) *cobra.Command {
	var actor, eventType, resourceType, resourceID, action, pageToken string
	var pageSize int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for k, v := range map[string]string{
				"actor":        actor,
				"eventType":    eventType,
				"resourceType": resourceType,
				"resourceId":   resourceID,
				"action":       action,
				"pageToken":    pageToken,
			} {
				if v != "" {
					q.Set(k, v)
				}
			}
			if pageSize > 0 {
				q.Set("pageSize", strconv.Itoa(pageSize))
			}

			var out auditEventsResponse
			if err := c.client.do(cmd.Context(), http.MethodGet, "/api/audit/v1/events", q, nil, &out); err != nil {
				return err
			}

			rows := make([][]string, 0, len(out.Events))
			for _, e := range out.Events {
				resource := e.ResourceType
				if e.ResourceID != "" {
					resource += "/" + e.ResourceID
				}
				rows = append(rows, []string{e.CreatedAt, e.EventType, e.Actor, e.Action, resource, e.Outcome})
			}
			headers := []string{"time", "event", "actor", "action", "resource", "outcome"}
			if err := printOutput(cmd.OutOrStdout(), c.format, out, headers, rows); err != nil {
				return err
			}
			if c.format == outputTable && out.NextPageToken != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\nnext page: --page-token %s\n", out.NextPageToken)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "Filter by actor")
	cmd.Flags().StringVar(&eventType, "event-type", "", "Filter by event type, e.g. api.request or question.version.created")
	cmd.Flags().StringVar(&resourceType, "resource-type", "", "Filter by resource type")
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "Filter by resource id")
	cmd.Flags().StringVar(&action, "action", "", "Filter by action")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Events per page")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Continue from a previous page")
	return cmd
}
