package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/go-resty/resty/v2"
	"github.com/goodtune/tasktracker/internal/storage"
	"github.com/spf13/cobra"
)

var (
	serverURL     string
	clientTimeout time.Duration
)

var checkinCmd = &cobra.Command{
	Use:   "checkin USER TASK",
	Short: "Check a user in to a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			SessionID string `json:"session_id"`
		}
		if err := newClient().post(cmd.Context(), "/checkin", map[string]string{"user": args[0], "task": args[1]}, &resp); err != nil {
			return err
		}
		_, _ = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✅ %s checked in to %q (session %s)\n", args[0], args[1], resp.SessionID)
		return nil
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout USER",
	Short: "Check a user out of their active task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().post(cmd.Context(), "/checkout", map[string]string{"user": args[0]}, nil); err != nil {
			return err
		}
		_, _ = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✅ %s checked out\n", args[0])
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print accumulated time per user and task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := newClient().report(cmd.Context())
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), users)
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions [USER]",
	Short: "List open sessions, or show one user's session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()

		if len(args) == 1 {
			session, err := c.session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), []storage.Session{*session})
			return nil
		}

		var resp struct {
			Sessions []storage.Session `json:"sessions"`
			Count    int               `json:"count"`
		}
		if err := c.get(cmd.Context(), "/sessions", &resp); err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), resp.Sessions)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{checkinCmd, checkoutCmd, reportCmd, sessionsCmd} {
		cmd.Flags().StringVar(&serverURL, "url", "http://localhost:9000", "Base URL of the tasktracker server")
		cmd.Flags().DurationVar(&clientTimeout, "timeout", 10*time.Second, "Request timeout")
		rootCmd.AddCommand(cmd)
	}
}

// apiClient talks to a running tasktracker server.
type apiClient struct {
	http *resty.Client
}

// apiError carries the server's {"error": ...} body.
type apiError struct {
	Message string `json:"error"`
}

func newClient() *apiClient {
	return newClientWithURL(serverURL, clientTimeout)
}

func newClientWithURL(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "tasktracker/"+version),
	}
}

func (c *apiClient) post(ctx context.Context, path string, body, result interface{}) error {
	req := c.http.R().SetContext(ctx).SetBody(body).SetError(&apiError{})
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	return checkResponse(resp)
}

func (c *apiClient) get(ctx context.Context, path string, result interface{}) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(result).SetError(&apiError{}).Get(path)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	return checkResponse(resp)
}

// session fetches one user's open session. The name is path-escaped, so
// names containing "/" or spaces work.
func (c *apiClient) session(ctx context.Context, user string) (*storage.Session, error) {
	var session storage.Session
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("user", user).
		SetResult(&session).
		SetError(&apiError{}).
		Get("/sessions/{user}")
	if err != nil {
		return nil, fmt.Errorf("request to /sessions/%s failed: %w", user, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return &session, nil
}

// report fetches the report. A 204 yields no users and no error.
func (c *apiClient) report(ctx context.Context) ([]reportUser, error) {
	resp, err := c.http.R().SetContext(ctx).SetError(&apiError{}).Get("/report")
	if err != nil {
		return nil, fmt.Errorf("request to /report failed: %w", err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNoContent {
		return nil, nil
	}
	return parseReport(resp.Body())
}

func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	if e, ok := resp.Error().(*apiError); ok && e.Message != "" {
		return fmt.Errorf("%s (HTTP %d)", e.Message, resp.StatusCode())
	}
	return fmt.Errorf("unexpected response: HTTP %d", resp.StatusCode())
}

type reportTask struct {
	Task  string
	Value json.Number
}

type reportUser struct {
	User  string
	Tasks []reportTask
}

// parseReport decodes {"user": [{"task": n}, ...], ...} keeping key order.
func parseReport(body []byte) ([]reportUser, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var users []reportUser
	for dec.More() {
		user, err := readString(dec)
		if err != nil {
			return nil, err
		}

		var entries []map[string]json.Number
		if err := dec.Decode(&entries); err != nil {
			return nil, fmt.Errorf("invalid tasks for %s: %w", user, err)
		}

		u := reportUser{User: user}
		for _, entry := range entries {
			// Each entry holds exactly one task
			for task, value := range entry {
				u.Tasks = append(u.Tasks, reportTask{Task: task, Value: value})
			}
		}
		users = append(users, u)
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return users, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("invalid report: expected %q, got %v", want, tok)
	}
	return nil
}

func readString(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("invalid report: %w", err)
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("invalid report: expected user name, got %v", tok)
	}
	return s, nil
}

func printReport(out io.Writer, users []reportUser) {
	if len(users) == 0 {
		_, _ = fmt.Fprintln(out, "No data available.")
		return
	}

	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	for _, u := range users {
		_, _ = cyan.Fprintf(out, "%s\n", u.User)
		for _, t := range u.Tasks {
			_, _ = fmt.Fprintf(out, "  %s: ", t.Task)
			_, _ = yellow.Fprintf(out, "%s\n", t.Value)
		}
	}
}

func printSessions(out io.Writer, sessions []storage.Session) {
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(out, "No open sessions.")
		return
	}

	cyan := color.New(color.FgCyan, color.Bold)
	for _, s := range sessions {
		_, _ = cyan.Fprintf(out, "%s", s.User)
		_, _ = fmt.Fprintf(out, "  %s  since %s  (%s)\n", s.Task, s.StartedAt.Format(time.RFC3339), s.ID)
	}
}
