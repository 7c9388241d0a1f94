package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/shelfrec/internal/profile"
	"github.com/kalambet/shelfrec/internal/refresh"
	"github.com/kalambet/shelfrec/internal/worker"
)

// IndexStatusURI is the MCP resource describing the served index.
const IndexStatusURI = "shelfrec://index/status"

// StatusReporter reports refresh and index state.
type StatusReporter interface {
	Status() refresh.Status
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Profiles    *profile.Manager
	Recommender Recommender
	Status      StatusReporter
	// Jobs receives refresh_catalog requests; a running server's worker
	// picks them up.
	Jobs         worker.JobStore
	DefaultLimit int
}

// NewMCPServer creates an MCP server with all shelfrec tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.DefaultLimit <= 0 {
		deps.DefaultLimit = 15
	}

	s := server.NewMCPServer(
		"shelfrec",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("shelfrec recommends books from a reader's liked books, authors, genres and searches."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recommend_books",
			mcp.WithDescription("Recommend catalog books for a reader based on their stored preferences."),
			mcp.WithString("user_id", mcp.Description("Reader id"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Maximum number of books (default %d)", deps.DefaultLimit))),
		),
		mcpRecommendBooks(deps),
	)

	s.AddTool(
		mcp.NewTool("log_search",
			mcp.WithDescription("Record a free-text search so it informs future recommendations."),
			mcp.WithString("user_id", mcp.Description("Reader id"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search text, at least 3 characters"), mcp.Required()),
		),
		mcpLogSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("set_preferences",
			mcp.WithDescription("Replace a reader's liked books, authors and genres."),
			mcp.WithString("user_id", mcp.Description("Reader id"), mcp.Required()),
			mcp.WithString("liked_books", mcp.Description("Comma-separated catalog book ids")),
			mcp.WithString("liked_authors", mcp.Description("Comma-separated author names")),
			mcp.WithString("liked_genres", mcp.Description("Comma-separated genre names")),
		),
		mcpSetPreferences(deps),
	)

	s.AddTool(
		mcp.NewTool("refresh_catalog",
			mcp.WithDescription("Queue a catalog refresh and index rebuild."),
		),
		mcpRefreshCatalog(deps),
	)

	s.AddResource(
		mcp.NewResource(
			IndexStatusURI,
			"Index Status",
			mcp.WithResourceDescription("Served index version, size and last refresh outcome"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceIndexStatus(deps),
	)

	return s
}

func mcpRecommendBooks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || strings.TrimSpace(userID) == "" {
			return mcpError("user_id is required"), nil
		}
		limit := req.GetInt("limit", deps.DefaultLimit)
		if limit <= 0 {
			limit = deps.DefaultLimit
		}
		limit = min(limit, maxLimit)

		p, err := deps.Profiles.Get(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("loading profile: %v", err)), nil
		}
		res := deps.Recommender.Recommend(ctx, p, limit)
		if len(res) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLogSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || strings.TrimSpace(userID) == "" {
			return mcpError("user_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		logged, err := deps.Profiles.LogSearch(ctx, userID, query)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to log search: %v", err)), nil
		}
		if !logged {
			return mcpText(fmt.Sprintf("Ignored: searches need at least %d characters", profile.MinSearchLen)), nil
		}
		return mcpText(fmt.Sprintf("Logged search %q for %s", strings.TrimSpace(query), userID)), nil
	}
}

func mcpSetPreferences(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || strings.TrimSpace(userID) == "" {
			return mcpError("user_id is required"), nil
		}

		saved, err := deps.Profiles.SavePreferences(ctx, userID, profile.Preferences{
			LikedBooks:   splitList(req.GetString("liked_books", "")),
			LikedAuthors: splitList(req.GetString("liked_authors", "")),
			LikedGenres:  splitList(req.GetString("liked_genres", "")),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save preferences: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Saved %d book(s), %d author(s), %d genre(s) for %s",
			len(saved.LikedBooks), len(saved.LikedAuthors), len(saved.LikedGenres), userID)), nil
	}
}

func mcpRefreshCatalog(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Jobs == nil {
			return mcpError("refresh not available: no job queue configured"), nil
		}
		id, err := worker.Enqueue(deps.Jobs, worker.TypeCatalogRefresh, "mcp")
		if errors.Is(err, worker.ErrAlreadyQueued) {
			return mcpText("A catalog refresh is already queued"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue refresh: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued catalog refresh %s", id)), nil
	}
}

func mcpResourceIndexStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Status.Status())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal index status: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// splitList splits a comma-separated tool argument, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
