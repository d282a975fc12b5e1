package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/mdpress/internal/storage"
	"github.com/kalambet/mdpress/internal/templates"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Documents   storage.DocumentStore
	Templates   *templates.Set
	PublicURL   string // used to build view links; empty yields relative paths
	DocumentTTL time.Duration
}

// NewMCPServer creates an MCP server exposing document upload and lookup.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"mdpress",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mdpress renders Markdown into styled HTML pages that can be shared by link."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("upload_markdown",
			mcp.WithDescription("Store a Markdown document and return the link to its rendered HTML page."),
			mcp.WithString("content", mcp.Description("Markdown source"), mcp.Required()),
			mcp.WithString("template", mcp.Description("Page template name (default general)")),
			mcp.WithString("title", mcp.Description("Page title")),
		),
		mcpUploadMarkdown(deps),
	)

	s.AddTool(
		mcp.NewTool("get_document",
			mcp.WithDescription("Fetch a stored Markdown document by its ID."),
			mcp.WithString("id", mcp.Description("16 character document ID"), mcp.Required()),
		),
		mcpGetDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("list_templates",
			mcp.WithDescription("List the available page templates."),
		),
		mcpListTemplates(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"templates://list",
			"Templates",
			mcp.WithResourceDescription("Available page templates as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTemplates(deps),
	)

	return s
}

func mcpUploadMarkdown(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil || strings.TrimSpace(content) == "" {
			return mcpError("content is required"), nil
		}
		if len(content) > maxContentSize {
			return mcpError(sizeMessage(int64(len(content)))), nil
		}

		tmpl := req.GetString("template", templates.Default)
		if tmpl == "" {
			tmpl = templates.Default
		}
		if !deps.Templates.IsValid(tmpl) {
			return mcpError(fmt.Sprintf("unknown template %q, available: %s", tmpl, strings.Join(deps.Templates.Names(), ", "))), nil
		}

		now := time.Now().UTC()
		doc := storage.Document{
			ID:        storage.NewDocumentID(),
			Content:   content,
			Template:  tmpl,
			Title:     req.GetString("title", ""),
			CreatedAt: now,
		}
		if deps.DocumentTTL > 0 {
			doc.ExpiresAt = now.Add(deps.DocumentTTL)
		}
		if err := deps.Documents.SaveDocument(ctx, doc); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		link := strings.TrimRight(deps.PublicURL, "/") + "/view/" + doc.ID
		return mcpText(fmt.Sprintf("Stored document %s\n%s", doc.ID, link)), nil
	}
}

func mcpGetDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		doc, err := deps.Documents.GetDocument(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("document %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load document: %v", err)), nil
		}

		b, err := json.Marshal(struct {
			ID string `json:"id"`
			storage.Document
		}{ID: doc.ID, Document: doc})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal document: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListTemplates(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Templates.Available())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal templates: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceTemplates(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Templates.Available())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal templates: %w", err)
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
