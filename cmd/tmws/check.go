package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the check command.
const (
	ExitGranted     = 0
	ExitFailure     = 1
	ExitDenied      = 2
	ExitUnavailable = 3
)

var (
	checkAgentID      string
	checkResourceID   string
	checkResourceType string
	checkAction       string
	checkMetadata     []string
	checkGatewayURL   string
	checkAPIKey       string
	checkTimeout      int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a one-shot access check against a running server",
	Long: `Send an access check to a running TMWS server and print the verdict.

Examples:
  tmws check --agent worker-007 --resource task-42 --type task --action read
  tmws check --agent auditor-01 --resource mem-1 --type memory --action delete \
      --meta agent_id=worker-007

Exit codes:
  0  access granted
  1  execution failure
  2  access denied or approval pending
  3  server unavailable`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkAgentID, "agent", "", "requesting agent ID (required)")
	checkCmd.Flags().StringVar(&checkResourceID, "resource", "", "target resource ID (required)")
	checkCmd.Flags().StringVar(&checkResourceType, "type", "", "resource type, e.g. task or memory (required)")
	checkCmd.Flags().StringVar(&checkAction, "action", "", "action, e.g. read or delete (required)")
	checkCmd.Flags().StringArrayVar(&checkMetadata, "meta", nil, "resource metadata as key=value (repeatable)")
	checkCmd.Flags().StringVar(&checkGatewayURL, "server-url", "http://localhost:8080", "TMWS server URL")
	checkCmd.Flags().StringVar(&checkAPIKey, "api-key", "", "API key for authentication (or TMWS_API_KEY env)")
	checkCmd.Flags().IntVar(&checkTimeout, "timeout", 30, "timeout in seconds")

	_ = checkCmd.MarkFlagRequired("agent")
	_ = checkCmd.MarkFlagRequired("resource")
	_ = checkCmd.MarkFlagRequired("type")
	_ = checkCmd.MarkFlagRequired("action")
}

func runCheck(_ *cobra.Command, _ []string) error {
	apiKey := goutils.Env("TMWS_API_KEY", checkAPIKey)
	serverURL := goutils.Env("TMWS_SERVER_URL", checkGatewayURL)

	metadata := map[string]any{}
	for _, kv := range checkMetadata {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid --meta %q: expected key=value", kv)
		}
		metadata[k] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(checkTimeout)*time.Second)
	defer cancel()

	reqBody, _ := json.Marshal(map[string]any{
		"agent_id":          checkAgentID,
		"resource_id":       checkResourceID,
		"resource_type":     checkResourceType,
		"action":            checkAction,
		"resource_metadata": metadata,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", serverURL+"/v1/access/check", bytes.NewReader(reqBody))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var result struct {
			Status        string `json:"status"`
			Decision      string `json:"decision"`
			Monitored     bool   `json:"monitored"`
			ApprovalID    string `json:"approval_id"`
			Reason        string `json:"reason"`
			CorrelationID string `json:"correlation_id"`
		}
		_ = json.Unmarshal(respBody, &result)

		switch result.Status {
		case "granted":
			fmt.Printf("granted (%s)\n", result.Decision)
			if result.Monitored {
				fmt.Fprintln(os.Stderr, "  session will be monitored")
			}
			fmt.Fprintf(os.Stderr, "  [correlation_id=%s]\n", result.CorrelationID)
			os.Exit(ExitGranted)
		case "pending":
			fmt.Println("approval required")
			fmt.Fprintf(os.Stderr, "  approval_id: %s\n  [correlation_id=%s]\n",
				result.ApprovalID, result.CorrelationID)
			os.Exit(ExitDenied)
		default:
			fmt.Printf("denied: %s\n", result.Reason)
			fmt.Fprintf(os.Stderr, "  [correlation_id=%s]\n", result.CorrelationID)
			os.Exit(ExitDenied)
		}

	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitDenied)

	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited, try again later")
		os.Exit(ExitDenied)

	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: server unavailable (%d)\n", resp.StatusCode)
		os.Exit(ExitUnavailable)

	default:
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(ExitFailure)
	}

	return nil
}
