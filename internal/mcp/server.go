// Package mcp exposes the workspace over the Model Context Protocol on
// stdio, so editor agents can search published notes and manage drafts.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/publish"
	"github.com/inkwell-labs/inkwell/internal/query"
	"github.com/inkwell-labs/inkwell/internal/workspace"
)

// Server wraps a workspace for MCP transport.
type Server struct {
	ws      *workspace.Workspace
	version string
}

func NewServer(ws *workspace.Workspace, version string) *Server {
	return &Server{ws: ws, version: version}
}

// Serve runs the MCP server on stdio until the client disconnects.
func (s *Server) Serve(ctx context.Context) error {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "inkwell",
		Version: s.version,
	}, nil)
	s.register(srv)
	return srv.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) register(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search_notes",
		Description: "Search the user's published notes. Only published versions are searchable; drafts never appear. Returns ranked passages plus an extractive answer with anchored citations when the evidence supports one.\n\nArgs:\n  query: Natural language search text (1-500 chars)\n  collections: Comma-separated collection names or ids to scope the search\n  page, page_size: Pagination (page_size max 50)",
	}, s.handleSearch)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "save_draft",
		Description: "Save a note's draft body. Drafts are private working copies: saving never changes search results until the note is published. Last write wins.\n\nArgs:\n  note_id: Target note\n  body_md: Full markdown body\n  tags: Optional tags",
	}, s.handleSaveDraft)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "publish_note",
		Description: "Publish a note's current draft as an immutable version into one or more collections. Returns immediately with the version id; searchability follows asynchronously. Pass the same client_token to retry safely.\n\nArgs:\n  note_id: Note to publish\n  collections: Comma-separated collection names or ids (at least one)\n  label: 'minor' (default) or 'major'\n  client_token: Idempotency token chosen by the caller",
	}, s.handlePublish)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "rollback_note",
		Description: "Restore a prior version's content by publishing it as a new version. History is never rewritten; the new version's parent is the rollback target.\n\nArgs:\n  note_id: Note to roll back\n  target_version_id: Version whose content to restore\n  client_token: Idempotency token",
	}, s.handleRollback)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_versions",
		Description: "List a note's versions, newest first.\n\nArgs:\n  note_id: Note to inspect\n  page, page_size: Pagination",
	}, s.handleListVersions)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "visibility_status",
		Description: "Report where a published version stands in the indexing pipeline (queued, building, committing, committed, failed).\n\nArgs:\n  version_id: Version to check",
	}, s.handleVisibility)
}

// Tool input types.

type searchInput struct {
	Query       string `json:"query" jsonschema:"Natural language search text"`
	Collections string `json:"collections,omitempty" jsonschema:"Comma-separated collection names or ids"`
	Page        int    `json:"page,omitempty" jsonschema:"Zero-based page"`
	PageSize    int    `json:"page_size,omitempty" jsonschema:"Results per page (max 50)"`
}

type saveDraftInput struct {
	NoteID string   `json:"note_id" jsonschema:"Target note id"`
	BodyMD string   `json:"body_md" jsonschema:"Full markdown body"`
	Tags   []string `json:"tags,omitempty" jsonschema:"Optional tags"`
}

type publishInput struct {
	NoteID      string `json:"note_id" jsonschema:"Note to publish"`
	Collections string `json:"collections" jsonschema:"Comma-separated collection names or ids"`
	Label       string `json:"label,omitempty" jsonschema:"minor or major"`
	ClientToken string `json:"client_token" jsonschema:"Idempotency token"`
}

type rollbackInput struct {
	NoteID          string `json:"note_id" jsonschema:"Note to roll back"`
	TargetVersionID string `json:"target_version_id" jsonschema:"Version to restore"`
	ClientToken     string `json:"client_token" jsonschema:"Idempotency token"`
}

type listVersionsInput struct {
	NoteID   string `json:"note_id" jsonschema:"Note to inspect"`
	Page     int    `json:"page,omitempty" jsonschema:"Zero-based page"`
	PageSize int    `json:"page_size,omitempty" jsonschema:"Versions per page"`
}

type visibilityInput struct {
	VersionID string `json:"version_id" jsonschema:"Version to check"`
}

// Tool handlers. Errors surface as text results so the agent can read
// the kind and react; transport errors stay nil.

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, input searchInput) (*mcp.CallToolResult, any, error) {
	resp, err := s.ws.Search(query.Request{
		Text:        input.Query,
		Collections: splitList(input.Collections),
		Page:        input.Page,
		PageSize:    input.PageSize,
	})
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(resp), nil, nil
}

func (s *Server) handleSaveDraft(ctx context.Context, req *mcp.CallToolRequest, input saveDraftInput) (*mcp.CallToolResult, any, error) {
	d, err := s.ws.SaveDraft(input.NoteID, input.BodyMD, input.Tags)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(map[string]any{
		"note_id":     d.NoteID,
		"autosave_ts": d.AutosaveTS,
		"note":        "draft saved; not searchable until published",
	}), nil, nil
}

func (s *Server) handlePublish(ctx context.Context, req *mcp.CallToolRequest, input publishInput) (*mcp.CallToolResult, any, error) {
	resp, err := s.ws.Publish(publish.Request{
		NoteID:      input.NoteID,
		Collections: splitList(input.Collections),
		Label:       input.Label,
		ClientToken: input.ClientToken,
	})
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(resp), nil, nil
}

func (s *Server) handleRollback(ctx context.Context, req *mcp.CallToolRequest, input rollbackInput) (*mcp.CallToolResult, any, error) {
	resp, err := s.ws.Rollback(input.NoteID, input.TargetVersionID, input.ClientToken)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(resp), nil, nil
}

func (s *Server) handleListVersions(ctx context.Context, req *mcp.CallToolRequest, input listVersionsInput) (*mcp.CallToolResult, any, error) {
	pageSize := input.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	versions, total, err := s.ws.ListVersions(input.NoteID, input.Page, pageSize)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(map[string]any{
		"versions":    versions,
		"total_count": total,
	}), nil, nil
}

func (s *Server) handleVisibility(ctx context.Context, req *mcp.CallToolRequest, input visibilityInput) (*mcp.CallToolResult, any, error) {
	st, err := s.ws.VisibilityStatus(input.VersionID)
	if err != nil {
		return errResult(err), nil, nil
	}
	return jsonResult(st), nil, nil
}

// Helpers.

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errResult(err)
	}
	return textResult(string(data))
}

func errResult(err error) *mcp.CallToolResult {
	res := textResult(fmt.Sprintf("Error (%s): %v", apperr.KindOf(err), err))
	res.IsError = true
	return res
}
