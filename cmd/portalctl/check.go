package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/eshaffer321/portalgate-go/pkg/portal"
)

// CheckResult is the outcome of one connectivity check
type CheckResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	// Retryable marks failures worth running again later
	Retryable bool `json:"retryable,omitempty"`
}

// CheckReport is the full report
type CheckReport struct {
	Timestamp time.Time     `json:"timestamp"`
	BaseURL   string        `json:"base_url"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Results   []CheckResult `json:"results"`
}

type check struct {
	name string
	fn   func(ctx context.Context, client *portal.Client) (string, error)
}

// checksFor lists the checks to run; login is added when credentials are set
func checksFor(cfg *CLIConfig) []check {
	checks := []check{
		{"token", checkToken},
		{"identity", checkIdentity},
	}
	if cfg.Username != "" {
		checks = append(checks, check{"login", func(ctx context.Context, client *portal.Client) (string, error) {
			if err := client.Gate.Login(ctx, cfg.Username, cfg.Password); err != nil {
				return "", err
			}
			return "logged in as " + client.Gate.User(), nil
		}})
	}
	return checks
}

func checkToken(ctx context.Context, client *portal.Client) (string, error) {
	if err := client.Tokens.Fetch(ctx); err != nil {
		return "", err
	}
	if _, ok := client.Tokens.Token(); !ok {
		return "", portal.ErrNoToken
	}
	return "token stored", nil
}

func checkIdentity(ctx context.Context, client *portal.Client) (string, error) {
	if err := client.Gate.Verify(ctx); err != nil {
		return "", err
	}
	return client.Gate.State().String(), nil
}

// runCheck runs every check in order, writes the report to out and to
// OutputDir when set, and fails if any check failed
func runCheck(ctx context.Context, cfg *CLIConfig, client *portal.Client, out io.Writer) error {
	checks := checksFor(cfg)
	report := &CheckReport{
		Timestamp: time.Now(),
		BaseURL:   cfg.BaseURL,
		Results:   make([]CheckResult, 0, len(checks)),
	}

	for _, c := range checks {
		start := time.Now()
		detail, err := c.fn(ctx, client)
		result := CheckResult{
			Name:     c.name,
			Passed:   err == nil,
			Detail:   detail,
			Duration: time.Since(start),
		}
		if err != nil {
			result.Error = err.Error()
			result.Retryable = portal.IsRetryable(err)
		}

		report.Results = append(report.Results, result)
		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	report.Total = len(report.Results)

	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
		path := filepath.Join(cfg.OutputDir, fmt.Sprintf("check_report_%d.json", report.Timestamp.Unix()))
		if err := saveReport(report, path); err != nil {
			return errors.Wrap(err, "failed to save report")
		}
	}

	printSummary(out, report)

	if report.Failed > 0 {
		return errors.Errorf("%d of %d checks failed", report.Failed, report.Total)
	}
	return nil
}

func saveReport(report *CheckReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printSummary(out io.Writer, report *CheckReport) {
	fmt.Fprintf(out, "Checks against %s\n", report.BaseURL)
	for _, r := range report.Results {
		status := "PASS"
		text := r.Detail
		if !r.Passed {
			status = "FAIL"
			text = r.Error
			if r.Retryable {
				text += " (retryable)"
			}
		}
		fmt.Fprintf(out, "  [%s] %-10s %-8s %s\n", status, r.Name, r.Duration.Round(time.Millisecond), text)
	}
	fmt.Fprintf(out, "%d passed, %d failed\n", report.Passed, report.Failed)
}
