package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/eshaffer321/portalgate-go/pkg/portal"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	_ = godotenv.Load()

	// stdout carries the MCP stream, so logs go to stderr
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	baseURL := os.Getenv("PORTAL_BACKEND_URL")
	if baseURL == "" {
		baseURL = portal.DefaultBaseURL
	}

	client, err := portal.NewClient(&portal.ClientOptions{
		BaseURL:   baseURL,
		TokenURL:  os.Getenv("PORTAL_TOKEN_URL"),
		Logger:    logger,
		SentryDSN: os.Getenv("SENTRY_DSN"),
	})
	if err != nil {
		logger.Error("failed to initialize portal client", "err", err)
		os.Exit(1)
	}
	defer client.Close()

	if user := os.Getenv("PORTAL_USERNAME"); user != "" {
		if err := client.Gate.Login(context.Background(), user, os.Getenv("PORTAL_PASSWORD")); err != nil {
			logger.Error("login failed", "user", user, "err", err)
			os.Exit(1)
		}
	}

	impl := &mcp.Implementation{
		Name:    "portalgate",
		Version: "1.0.0",
	}

	server := mcp.NewServer(impl, nil)

	registerTools(server, client)

	// Run server over stdio transport (for Claude Desktop)
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func registerTools(server *mcp.Server, client *portal.Client) {
	tools := &portalTools{client: client}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoami",
		Description: "Verify the current session with the backend. Returns the gate state and, when authenticated, the username and role.",
	}, tools.Whoami)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dispatch",
		Description: "Send one operation to the backend's generic dispatch endpoint. The route selects the operation; params are merged into the request body. Returns the backend's JSON answer.",
	}, tools.Dispatch)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "login",
		Description: "Start a backend session with a username and password.",
	}, tools.Login)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "logout",
		Description: "End the backend session. The session is kept if the backend refuses.",
	}, tools.Logout)
}
