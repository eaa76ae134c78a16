package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/patternd/internal/graduation"
)

var (
	adminUserID     string
	approvalComment string
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List graduations waiting for admin approval",
	Long: `List patterns that met the criteria for an approval-gated transition and
are waiting for an admin. Queries a running daemon.

Examples:
  patternd pending
  patternd pending --server http://localhost:8081 --json`,
	Args: cobra.NoArgs,
	RunE: runPending,
}

var approveCmd = &cobra.Command{
	Use:   "approve <pattern-id>",
	Short: "Approve a pending graduation to GLOBAL",
	Long: `Approve a pending PROJECT to GLOBAL graduation. The criteria are
re-checked on the server; a refusal is reported with its reason.

Examples:
  patternd approve 6f1c... --admin alice --comment "reviewed structure"`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var promoteCmd = &cobra.Command{
	Use:   "promote <pattern-id>",
	Short: "Perform any pending graduation",
	Long: `Perform the transition queued for a pattern by the graduation sweep,
whatever its levels. Use this for approval-gated transitions below GLOBAL.
The criteria are re-checked on the server and a stale request is dropped.

Examples:
  patternd pending
  patternd promote 6f1c... --admin alice`,
	Args: cobra.ExactArgs(1),
	RunE: runPromote,
}

var statusCmd = &cobra.Command{
	Use:   "status <pattern-id>",
	Short: "Show a pattern's progress toward its next level",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	for _, c := range []*cobra.Command{pendingCmd, approveCmd, promoteCmd, statusCmd} {
		c.Flags().StringVar(&serverURL, "server", "http://localhost:9090", "patternd server URL")
		c.Flags().BoolVar(&outputJSON, "json", false, "print the raw JSON response")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{approveCmd, promoteCmd} {
		c.Flags().StringVar(&adminUserID, "admin", "", "approving admin user id (required)")
		c.Flags().StringVar(&approvalComment, "comment", "", "approval comment")
		_ = c.MarkFlagRequired("admin")
	}
}

// apiError is a non-2xx response the command knows how to present.
type apiError struct {
	Status int
	Body   []byte
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, strings.TrimSpace(string(e.Body)))
}

// call sends a JSON request to the daemon and returns the body of a 2xx
// response, or *apiError.
func call(method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reqJSON, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqJSON)
	}

	endpoint := strings.TrimRight(serverURL, "/") + path
	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return respBody, &apiError{Status: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

func runPending(cmd *cobra.Command, _ []string) error {
	body, err := call(http.MethodGet, "/api/v1/graduation/pending", nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if outputJSON {
		_, err := out.Write(body)
		return err
	}

	var pending []graduation.PendingApproval
	if err := json.Unmarshal(body, &pending); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "No graduations pending approval")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATTERN\tNAME\tCOMPANY\tTRANSITION\tOBSERVATIONS\tACCEPTANCE\tREQUESTED")
	for _, p := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s -> %s\t%d\t%.0f%%\t%s\n",
			p.PatternID, p.PatternName, p.Company, p.FromLevel, p.ToLevel,
			p.Stats.TotalObservations, p.Stats.AcceptanceRate*100,
			p.RequestedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runApprove(cmd *cobra.Command, args []string) error {
	return postApproval(cmd, args[0], "approve")
}

func runPromote(cmd *cobra.Command, args []string) error {
	return postApproval(cmd, args[0], "graduate")
}

// postApproval posts an admin decision to the graduation action endpoint
// and prints the outcome.
func postApproval(cmd *cobra.Command, id, action string) error {
	path := "/api/v1/graduation/" + url.PathEscape(id) + "/" + action
	body, err := call(http.MethodPost, path, map[string]string{
		"admin_user_id": adminUserID,
		"comment":       approvalComment,
	})

	// 404 and 409 carry an ApprovalResult explaining the refusal.
	var apiErr *apiError
	refused := errors.As(err, &apiErr) &&
		(apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusConflict)
	if err != nil && !refused {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		if _, err := out.Write(body); err != nil {
			return err
		}
	} else {
		var res graduation.ApprovalResult
		if err := json.Unmarshal(body, &res); err != nil {
			if refused {
				return apiErr
			}
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if res.Success {
			fmt.Fprintf(out, "Graduated %s: %s -> %s (approved by %s)\n",
				res.PatternID, res.FromLevel, res.ToLevel, res.ApprovedBy)
		} else {
			fmt.Fprintf(out, "Approval refused for %s: %s\n", res.PatternID, res.Reason)
		}
	}
	if refused {
		return fmt.Errorf("approval refused (status %d)", apiErr.Status)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	body, err := call(http.MethodGet, "/api/v1/graduation/"+url.PathEscape(args[0])+"/status", nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if outputJSON {
		_, err := out.Write(body)
		return err
	}

	var st graduation.Status
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Fprintf(out, "Pattern:   %s %s\n", st.PatternID, st.PatternName)
	fmt.Fprintf(out, "Level:     %s\n", st.CurrentLevel)
	if st.NextLevel != nil {
		fmt.Fprintf(out, "Next:      %s\n", *st.NextLevel)
	}
	fmt.Fprintf(out, "Progress:  %.0f%%\n", st.Progress*100)
	if st.PendingApproval {
		fmt.Fprintln(out, "Status:    pending admin approval")
	} else if st.CanGraduate {
		fmt.Fprintln(out, "Status:    eligible")
	} else if st.Reason != "" {
		fmt.Fprintf(out, "Status:    %s\n", st.Reason)
	}
	for _, m := range st.MissingCriteria {
		fmt.Fprintf(out, "  missing: %s\n", m)
	}
	return nil
}
