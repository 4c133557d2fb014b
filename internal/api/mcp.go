package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/indexline/ingestd/internal/contentstore"
	"github.com/indexline/ingestd/internal/listener"
	"github.com/indexline/ingestd/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Content  contentstore.Store
	Listener *listener.Listener
}

// NewMCPServer creates an MCP server exposing ingestion and inspection
// tools over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"ingestd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("ingestd syncs site content into a vector index. Use ingest_text to add or update a document, list_documents to inspect the index, and queue_status to follow batch ingestion."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ingest_text",
			mcp.WithDescription("Chunk, embed, and store a document. Replaces any previous version stored under the same source URL."),
			mcp.WithString("text", mcp.Description("Document text"), mcp.Required()),
			mcp.WithString("source_url", mcp.Description("Canonical URL identifying the document"), mcp.Required()),
			mcp.WithString("bot_id", mcp.Description("Bot namespace (default: default)")),
			mcp.WithString("content_type", mcp.Description("Content type label (default: post)")),
		),
		mcpIngestText(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List stored documents grouped by source URL, newest first."),
			mcp.WithNumber("page", mcp.Description("Page number, 1-based (default 1)")),
			mcp.WithNumber("page_size", mcp.Description("Documents per page (default 10, max 100)")),
			mcp.WithString("bot_id", mcp.Description("Bot namespace (default: default)")),
			mcp.WithString("search", mcp.Description("Substring filter on source URL")),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("queue_status",
			mcp.WithDescription("Report progress of a batch ingestion queue."),
			mcp.WithString("queue_id", mcp.Description("Queue identifier"), mcp.Required()),
		),
		mcpQueueStatus(deps),
	)

	return s
}

func mcpIngestText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		sourceURL, err := req.RequireString("source_url")
		if err != nil {
			return mcpError("source_url is required"), nil
		}

		result, err := deps.Listener.OnPublish(ctx, listener.PublishEvent{
			Text:        text,
			SourceURL:   sourceURL,
			BotID:       req.GetString("bot_id", ""),
			ContentType: req.GetString("content_type", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("sync failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("%s %s as %d chunk(s)", result.Action, sourceURL, result.ChunkCount)), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		page := req.GetInt("page", 1)
		if page < 1 {
			page = 1
		}
		pageSize := req.GetInt("page_size", 10)
		if pageSize < 1 {
			pageSize = 10
		}
		if pageSize > 100 {
			pageSize = 100
		}
		botID := req.GetString("bot_id", "default")

		result, err := deps.Content.ListGroupedByURL(ctx, botID, page, pageSize,
			contentstore.Filter{Search: req.GetString("search", "")})
		if err != nil {
			return mcpError(fmt.Sprintf("listing failed: %v", err)), nil
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpQueueStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queueID, err := req.RequireString("queue_id")
		if err != nil {
			return mcpError("queue_id is required"), nil
		}

		status, err := deps.Store.Status(queueID)
		if err != nil {
			return mcpError(fmt.Sprintf("queue status failed: %v", err)), nil
		}

		b, err := json.Marshal(status)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
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
