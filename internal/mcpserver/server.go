// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes stash tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/stash/internal/apperr"
	"github.com/starford/stash/internal/stashservice"
)

const formatURI = "stash://category-format"

// Server wraps the MCP server with stash tools.
type Server struct {
	mcp *server.MCPServer
	svc *stashservice.Service
}

// New creates a new MCP server with all stash tools registered.
func New(svc *stashservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Stash",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_categories",
		mcp.WithDescription("List every stash category with its id, title, description and note count."),
	), s.listCategories)

	s.mcp.AddTool(mcp.NewTool("create_category",
		mcp.WithDescription("Create an empty category. Returns the new category with its id."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Category title")),
		mcp.WithString("description", mcp.Description("Optional description")),
	), s.createCategory)

	s.mcp.AddTool(mcp.NewTool("update_category",
		mcp.WithDescription("Change a category's title and/or description. Blank values leave the field unchanged."),
		mcp.WithString("category_id", mcp.Required(), mcp.Description("Category id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
	), s.updateCategory)

	s.mcp.AddTool(mcp.NewTool("delete_category",
		mcp.WithDescription("Delete a category together with all of its notes. This cannot be undone."),
		mcp.WithString("category_id", mcp.Required(), mcp.Description("Category id")),
	), s.deleteCategory)

	s.mcp.AddTool(mcp.NewTool("get_notes",
		mcp.WithDescription("Return all notes of a category with their current identifiers."),
		mcp.WithString("category_id", mcp.Required(), mcp.Description("Category id")),
	), s.getNotes)

	s.mcp.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Append a note to a category. Start the content with '# Title' to give it a title. "+
			"Read the format via the "+formatURI+" resource first."),
		mcp.WithString("category_id", mcp.Required(), mcp.Description("Category id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Note content (Markdown)")),
	), s.addNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace a note's content. The note_id must come from a recent get_notes call; "+
			"a stale id is rejected with the current note so you can retry."),
		mcp.WithString("category_id", mcp.Required(), mcp.Description("Category id")),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Note identifier (index:hash)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New note content")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note. Later notes shift down and get new identifiers."),
		mcp.WithString("category_id", mcp.Required(), mcp.Description("Category id")),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Note identifier (index:hash)")),
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("search_stash",
		mcp.WithDescription("Case-insensitive search over note titles and identifiers, optionally note content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search pattern")),
		mcp.WithBoolean("in_content", mcp.Description("Also search note content")),
	), s.searchStash)

	// Resource: category format contract.
	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Category Format",
			mcp.WithResourceDescription("Stash category file format and note identifier rules."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

// errorResult turns expected failures into tool errors the model can read.
// Storage faults are returned as protocol errors.
func errorResult(err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrAlreadyExists):
		return mcp.NewToolResultError(err.Error()), nil
	default:
		return nil, err
	}
}

func conflictResult(c *stashservice.Conflict) *mcp.CallToolResult {
	var b strings.Builder
	fmt.Fprintf(&b, "conflict (%s): %s", c.Code, c.Message)
	if c.Current != nil {
		fmt.Fprintf(&b, "\ncurrent note id: %s\ncurrent content:\n%s", c.Current.ID, c.Current.Content)
	} else {
		b.WriteString("\nre-read the category with get_notes and retry")
	}
	return mcp.NewToolResultError(b.String())
}

func (s *Server) listCategories(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cats, err := s.svc.GetCategories(ctx)
	if err != nil {
		return errorResult(err)
	}
	if len(cats) == 0 {
		return mcp.NewToolResultText("no categories"), nil
	}
	return jsonResult(cats), nil
}

func (s *Server) createCategory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cat, err := s.svc.CreateCategory(ctx, title, req.GetString("description", ""))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(cat), nil
}

func (s *Server) updateCategory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("category_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var upd stashservice.CategoryUpdate
	if v := req.GetString("title", ""); v != "" {
		upd.Title = &v
	}
	if v := req.GetString("description", ""); v != "" {
		upd.Description = &v
	}
	cat, err := s.svc.UpdateCategory(ctx, id, upd)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(cat), nil
}

func (s *Server) deleteCategory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("category_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteCategory(ctx, id); err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText("deleted category: " + id), nil
}

func (s *Server) getNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("category_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notes, err := s.svc.GetNotes(ctx, id)
	if err != nil {
		return errorResult(err)
	}
	if len(notes) == 0 {
		return mcp.NewToolResultText("category has no notes"), nil
	}
	return jsonResult(notes), nil
}

func (s *Server) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("category_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.AddNote(ctx, id, content)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(note), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("category_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	noteID, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.UpdateNote(ctx, id, noteID, content)
	if err != nil {
		return errorResult(err)
	}
	if !res.OK() {
		return conflictResult(res.Conflict), nil
	}
	return jsonResult(res.Value), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("category_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	noteID, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.DeleteNote(ctx, id, noteID)
	if err != nil {
		return errorResult(err)
	}
	if !res.OK() {
		return conflictResult(res.Conflict), nil
	}
	return mcp.NewToolResultText("deleted: " + noteID), nil
}

func (s *Server) searchStash(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.Search(ctx, query, req.GetBool("in_content", false))
	if err != nil {
		return errorResult(err)
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	return jsonResult(hits), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     CategoryFormatContract,
		},
	}, nil
}
