// portalctl talks to a portal backend from the command line: it can check
// connectivity, verify or start a session, dispatch an operation and log out.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/eshaffer321/portalgate-go/internal/obs"
	"github.com/eshaffer321/portalgate-go/pkg/portal"
)

// CLIConfig holds configuration for one invocation
type CLIConfig struct {
	BaseURL  string
	TokenURL string
	Origin   string
	Username string
	Password string

	// SessionFile persists backend cookies between invocations
	SessionFile string

	Timeout   time.Duration
	OutputDir string
	Verbose   bool
	Command   string
	Args      []string
}

func main() {
	_ = godotenv.Load()

	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	env := "production"
	if cfg.Verbose {
		env = "development"
	}
	logger := obs.NewLogger(env)

	err = run(context.Background(), cfg, logger, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "portalctl: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode is 3 when the session is missing or the login was refused, so
// scripts can tell "log in first" apart from other failures
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case portal.IsAuthError(err):
		return 3
	default:
		return 1
	}
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	flags := flag.NewFlagSet("portalctl", flag.ContinueOnError)
	flags.StringVar(&cfg.BaseURL, "base-url", envOr("PORTAL_BACKEND_URL", portal.DefaultBaseURL), "Backend origin")
	flags.StringVar(&cfg.TokenURL, "token-url", os.Getenv("PORTAL_TOKEN_URL"), "Anti-forgery token endpoint (path or absolute relay URL)")
	flags.StringVar(&cfg.Origin, "origin", os.Getenv("PORTAL_ORIGIN"), "Origin header to send")
	flags.StringVar(&cfg.Username, "user", os.Getenv("PORTAL_USERNAME"), "Log in as this user before running the command")
	flags.StringVar(&cfg.Password, "password", os.Getenv("PORTAL_PASSWORD"), "Password for -user")
	flags.StringVar(&cfg.SessionFile, "session-file", os.Getenv("PORTAL_SESSION_FILE"), "Load and save backend cookies here")
	flags.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Overall timeout")
	flags.StringVar(&cfg.OutputDir, "output", "", "Directory for the check report (check only)")
	flags.BoolVar(&cfg.Verbose, "verbose", false, "Verbose output")
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "usage: portalctl [flags] check|whoami|login|dispatch <route> [key=value ...]|dispatch '<json envelope>'|logout\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return nil, errors.New("missing command")
	}
	cfg.Command = rest[0]
	cfg.Args = rest[1:]

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient(cfg *CLIConfig, logger *slog.Logger) (*portal.Client, error) {
	return portal.NewClient(&portal.ClientOptions{
		BaseURL:  cfg.BaseURL,
		TokenURL: cfg.TokenURL,
		Origin:   cfg.Origin,
		Logger:   logger,
		// A CLI has nowhere to navigate; the state is reported instead
		Navigator: portal.NavigatorFunc(func(target string) {
			logger.Debug("Gate requested redirect", "target", target)
		}),
	})
}

func run(ctx context.Context, cfg *CLIConfig, logger *slog.Logger, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := newClient(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "failed to create client")
	}
	defer client.Close()

	if cfg.SessionFile != "" {
		if err := client.LoadSession(cfg.SessionFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if err := execute(ctx, cfg, client, out); err != nil {
		return err
	}

	if cfg.SessionFile == "" {
		return nil
	}
	if cfg.Command == "logout" {
		if err := os.Remove(cfg.SessionFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrap(err, "failed to remove session file")
		}
		return nil
	}
	return client.SaveSession(cfg.SessionFile)
}

func execute(ctx context.Context, cfg *CLIConfig, client *portal.Client, out io.Writer) error {
	if cfg.Username != "" && cfg.Command != "login" && cfg.Command != "check" {
		if err := client.Gate.Login(ctx, cfg.Username, cfg.Password); err != nil {
			return errors.Wrap(err, "login failed")
		}
	}

	switch cfg.Command {
	case "check":
		return runCheck(ctx, cfg, client, out)
	case "whoami":
		if err := client.Gate.Verify(ctx); err != nil {
			return err
		}
		return writeJSON(out, map[string]interface{}{
			"state":   client.Gate.State().String(),
			"session": client.Gate.Session(),
		})
	case "login":
		if cfg.Username == "" {
			return errors.New("login requires -user")
		}
		if err := client.Gate.Login(ctx, cfg.Username, cfg.Password); err != nil {
			return err
		}
		return writeJSON(out, client.Gate.Session())
	case "dispatch":
		env, err := envelopeFromArgs(cfg.Args)
		if err != nil {
			return err
		}
		resp, err := portal.Call[json.RawMessage](ctx, client, env)
		if err != nil {
			return err
		}
		if len(resp) == 0 {
			resp = json.RawMessage("null")
		}
		return writeJSON(out, resp)
	case "logout":
		result, err := client.Gate.Logout(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, result)
	default:
		return errors.Errorf("unknown command: %s", cfg.Command)
	}
}

// envelopeFromArgs builds an envelope from "route key=value ..." or from a
// single wire-form JSON object. Values that parse as JSON are sent as JSON,
// anything else as a string.
func envelopeFromArgs(args []string) (*portal.Envelope, error) {
	if len(args) == 0 {
		return nil, errors.New("dispatch requires a route")
	}
	if len(args) == 1 && strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
		return portal.ParseEnvelope([]byte(args[0]))
	}

	params := make(map[string]interface{}, len(args)-1)
	for _, arg := range args[1:] {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, errors.Errorf("invalid parameter %q, want key=value", arg)
		}
		params[key] = parseValue(raw)
	}

	return portal.NewEnvelope(args[0], params)
}

func parseValue(raw string) interface{} {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil || dec.More() {
		return raw
	}
	return value
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
