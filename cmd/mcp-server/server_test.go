package main

import (
	"testing"

	"github.com/eshaffer321/portalgate-go/pkg/portal"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

// TestServerInitialization verifies that the server can initialize without panicking
// This catches jsonschema validation errors and other startup issues
func TestServerInitialization(t *testing.T) {
	client, err := portal.NewClient(&portal.ClientOptions{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	impl := &mcp.Implementation{
		Name:    "portalgate",
		Version: "1.0.0",
	}

	server := mcp.NewServer(impl, nil)

	require.NotPanics(t, func() {
		registerTools(server, client)
	})
}
