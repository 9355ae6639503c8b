package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-incident/internal/api"
	"github.com/miradorstack/mirador-incident/internal/services"
)

type clientFlags struct {
	address string
	timeout time.Duration
}

func (f *clientFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.address, "address", "localhost:50061", "IncidentEngine gRPC address")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 2*time.Minute, "Request timeout")
}

// call sends one request and prints the response document, or the result attached to a failed call.
func (f *clientFlags) call(cmd *cobra.Command, method string, fields map[string]any) error {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	conn, err := grpc.NewClient(f.address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", f.address, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()
	out, err := api.NewClient(conn).Call(ctx, method, req)
	if err != nil {
		if res, ok := services.ResultFromStatus(err); ok && res.Incident != nil {
			body, _ := api.Encode(res)
			_ = printStruct(cmd.OutOrStdout(), body)
		}
		return err
	}
	return printStruct(cmd.OutOrStdout(), out)
}

func printStruct(w io.Writer, s *structpb.Struct) error {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newSubmitCommand() *cobra.Command {
	var (
		flags       clientFlags
		id          string
		title       string
		description string
		severity    string
		affected    []string
		metadata    map[string]string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Report an incident",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := make([]any, 0, len(affected))
			for _, s := range affected {
				svc = append(svc, s)
			}
			meta := make(map[string]any, len(metadata))
			for k, v := range metadata {
				meta[k] = v
			}
			return flags.call(cmd, api.MethodProcessIncident, map[string]any{
				"incident_id":       id,
				"title":             title,
				"description":       description,
				"severity":          severity,
				"affected_services": svc,
				"metadata":          meta,
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Incident ID (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "Incident title")
	cmd.Flags().StringVar(&description, "description", "", "Incident description")
	cmd.Flags().StringVar(&severity, "severity", "", "low, medium, high or critical")
	cmd.Flags().StringSliceVar(&affected, "service", nil, "Affected service (repeatable)")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "Metadata key=value pairs")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newGetCommand() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "get <incident-id>",
		Short: "Show an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.call(cmd, api.MethodGetIncident, map[string]any{"incident_id": args[0]})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newDecideCommand() *cobra.Command {
	var (
		flags    clientFlags
		approver string
		comments string
	)
	cmd := &cobra.Command{
		Use:   "decide <approval-id> <approve|reject>",
		Short: "Approve or reject a pending remediation plan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.call(cmd, api.MethodDecideApproval, map[string]any{
				"approval_id": args[0],
				"decision":    strings.ToLower(args[1]),
				"approver":    approver,
				"comments":    comments,
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&approver, "approver", "", "Who is deciding")
	cmd.Flags().StringVar(&comments, "comments", "", "Decision comments")
	_ = cmd.MarkFlagRequired("approver")
	return cmd
}

func newApprovalsCommand() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List pending approvals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.call(cmd, api.MethodListApprovals, map[string]any{})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newEscalateCommand() *cobra.Command {
	var (
		flags  clientFlags
		reason string
	)
	cmd := &cobra.Command{
		Use:   "escalate <incident-id>",
		Short: "Hand an incident to on-call humans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.call(cmd, api.MethodEscalateIncident, map[string]any{"incident_id": args[0], "reason": reason})
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&reason, "reason", "", "Escalation reason")
	return cmd
}
