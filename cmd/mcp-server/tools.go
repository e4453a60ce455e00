package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eshaffer321/portalgate-go/pkg/portal"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// portalTools holds the portal client and implements all tool handlers
type portalTools struct {
	client *portal.Client
}

// Whoami tool - verifies the session
type WhoamiInput struct{}

type WhoamiOutput struct {
	State    string `json:"state" jsonschema:"Gate state: authenticated or unauthenticated"`
	Username string `json:"username,omitempty" jsonschema:"Authenticated username"`
	Role     string `json:"role,omitempty" jsonschema:"Authenticated role"`
}

func (t *portalTools) Whoami(ctx context.Context, req *mcp.CallToolRequest, input WhoamiInput) (*mcp.CallToolResult, WhoamiOutput, error) {
	if err := t.client.Gate.Verify(ctx); err != nil {
		return nil, WhoamiOutput{}, fmt.Errorf("failed to verify session: %w", err)
	}

	session := t.client.Gate.Session()
	return nil, WhoamiOutput{
		State:    t.client.Gate.State().String(),
		Username: session.Username,
		Role:     session.Role,
	}, nil
}

// Dispatch tool - sends one operation envelope
type DispatchInput struct {
	Route  string                 `json:"route" jsonschema:"Operation name sent as apiRoute"`
	Params map[string]interface{} `json:"params,omitempty" jsonschema:"Operation parameters (optional)"`
}

type DispatchOutput struct {
	Route     string      `json:"route" jsonschema:"Operation that was sent"`
	Result    interface{} `json:"result" jsonschema:"Backend JSON answer"`
	ElapsedMS int64       `json:"elapsedMs" jsonschema:"Round trip time in milliseconds"`
}

func (t *portalTools) Dispatch(ctx context.Context, req *mcp.CallToolRequest, input DispatchInput) (*mcp.CallToolResult, DispatchOutput, error) {
	env, err := portal.NewEnvelope(input.Route, input.Params)
	if err != nil {
		return nil, DispatchOutput{}, fmt.Errorf("invalid operation: %w", err)
	}

	start := time.Now()
	raw, err := portal.Call[json.RawMessage](ctx, t.client, env)
	if err != nil {
		return nil, DispatchOutput{}, fmt.Errorf("operation %s failed: %w", input.Route, err)
	}

	var result interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, DispatchOutput{}, fmt.Errorf("failed to parse answer: %w", err)
		}
	}

	return nil, DispatchOutput{
		Route:     input.Route,
		Result:    result,
		ElapsedMS: time.Since(start).Milliseconds(),
	}, nil
}

// Login tool - starts a session
type LoginInput struct {
	Username string `json:"username" jsonschema:"Username"`
	Password string `json:"password" jsonschema:"Password"`
}

func (t *portalTools) Login(ctx context.Context, req *mcp.CallToolRequest, input LoginInput) (*mcp.CallToolResult, WhoamiOutput, error) {
	if err := t.client.Gate.Login(ctx, input.Username, input.Password); err != nil {
		return nil, WhoamiOutput{}, fmt.Errorf("login failed: %w", err)
	}

	session := t.client.Gate.Session()
	return nil, WhoamiOutput{
		State:    t.client.Gate.State().String(),
		Username: session.Username,
		Role:     session.Role,
	}, nil
}

// Logout tool - ends the session
type LogoutInput struct{}

type LogoutOutput struct {
	Success bool   `json:"success" jsonschema:"Whether the backend ended the session"`
	Detail  string `json:"detail,omitempty" jsonschema:"Backend reason when the logout was refused"`
}

func (t *portalTools) Logout(ctx context.Context, req *mcp.CallToolRequest, input LogoutInput) (*mcp.CallToolResult, LogoutOutput, error) {
	result, err := t.client.Gate.Logout(ctx)
	if err != nil {
		var refused *portal.LogoutError
		if errors.As(err, &refused) {
			return nil, LogoutOutput{Success: false, Detail: refused.Detail}, nil
		}
		return nil, LogoutOutput{}, fmt.Errorf("logout failed: %w", err)
	}

	return nil, LogoutOutput{Success: result.Success, Detail: result.Detail}, nil
}
