// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Raido tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/raido/internal/digest"
	"github.com/starford/raido/internal/itemstore"
	"github.com/starford/raido/internal/library"
	"github.com/starford/raido/internal/query"
)

// Server wraps the MCP server with Raido tools.
type Server struct {
	mcp *server.MCPServer
	svc *library.Service
}

// New creates a new MCP server with all Raido tools registered.
func New(svc *library.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Raido",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_images",
		mcp.WithDescription("Search the image library by tags and fuzzy text. "+
			"Returns matching items as JSON, newest first (or by match score for fuzzy queries)."),
		mcp.WithString("query", mcp.Description("Fuzzy tag query, e.g. 'lndscp' finds 'landscape'")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags an item must all carry")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.searchImages)

	s.mcp.AddTool(mcp.NewTool("get_image",
		mcp.WithDescription("Get one image item by its content digest, including tags, provenance and metadata."),
		mcp.WithString("digest", mcp.Required(), mcp.Description("Item digest (64 hex chars)")),
	), s.getImage)

	s.mcp.AddTool(mcp.NewTool("tag_image",
		mcp.WithDescription("Attach tags to an image. Tags MUST follow the canonical format "+
			"(lowercase kebab-case, '/' for hierarchy). Read the contract first via the "+
			"get_tagging_contract tool or the raido://tagging-guide resource."),
		mcp.WithString("digest", mcp.Required(), mcp.Description("Item digest")),
		mcp.WithString("tags", mcp.Required(), mcp.Description("Comma-separated tags to attach")),
	), s.tagImage)

	s.mcp.AddTool(mcp.NewTool("untag_image",
		mcp.WithDescription("Detach tags from an image."),
		mcp.WithString("digest", mcp.Required(), mcp.Description("Item digest")),
		mcp.WithString("tags", mcp.Required(), mcp.Description("Comma-separated tags to detach")),
	), s.untagImage)

	s.mcp.AddTool(mcp.NewTool("import_image",
		mcp.WithDescription("Import an image file from the library root. Re-importing identical "+
			"content merges tags into the existing item instead of duplicating it."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Library-relative path, e.g. trips/coast.png")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags for the imported image")),
	), s.importImage)

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List every tag in the library with its item count."),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("get_tagging_contract",
		mcp.WithDescription("Returns the canonical Raido tagging contract. "+
			"Call this before tagging images to ensure correct structure."),
	), s.getTaggingContract)

	// Resource: tagging guide.
	s.mcp.AddResource(
		mcp.NewResource("raido://tagging-guide", "Tagging Contract",
			mcp.WithResourceDescription("Canonical tag format that all image tags must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTaggingGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// Listen serves stdin/stdout until ctx is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// splitTags parses a comma-separated tag argument.
func splitTags(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) searchImages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := query.Query{Limit: 20}
	if v, err := req.RequireString("query"); err == nil {
		q.Fuzzy = v
	}
	if v, err := req.RequireString("tags"); err == nil {
		q.Tags = splitTags(v)
	}
	if v, err := req.RequireFloat("limit"); err == nil && int(v) > 0 {
		q.Limit = int(v)
	}

	var results []any
	for it := range s.svc.Search(q) {
		results = append(results, it)
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("digest")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := digest.Parse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid digest: %s", raw)), nil
	}
	it, err := s.svc.Get(ctx, d)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", raw)), nil
	}
	out, _ := json.MarshalIndent(it, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) tagImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.mutateTags(ctx, req, s.svc.AddTags)
}

func (s *Server) untagImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.mutateTags(ctx, req, s.svc.RemoveTags)
}

func (s *Server) mutateTags(ctx context.Context, req mcp.CallToolRequest, op func(context.Context, digest.Digest, []string) (itemstore.Item, error)) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("digest")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tagArg, err := req.RequireString("tags")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := digest.Parse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid digest: %s", raw)), nil
	}
	tags := splitTags(tagArg)
	if len(tags) == 0 {
		return mcp.NewToolResultError("tags is required"), nil
	}
	it, err := op(ctx, d, tags)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s tags: %s", it.Digest.Short(), strings.Join(it.Tags, ", "))), nil
}

func (s *Server) importImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var tags []string
	if v, tagErr := req.RequireString("tags"); tagErr == nil {
		tags = splitTags(v)
	}

	b, err := s.svc.ImportPath(ctx, path, tags)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	completed, failed, err := b.Wait(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if failed > 0 {
		for u := range b.Updates() {
			if u.Err != "" {
				return mcp.NewToolResultError(fmt.Sprintf("import failed: %s", u.Err)), nil
			}
		}
		return mcp.NewToolResultError("import failed"), nil
	}
	for u := range b.Updates() {
		if !u.Digest.IsZero() {
			return mcp.NewToolResultText(fmt.Sprintf("imported %s as %s", path, u.Digest.Format())), nil
		}
	}
	return mcp.NewToolResultText(fmt.Sprintf("imported %d file(s)", completed)), nil
}

func (s *Server) listTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags := s.svc.Tags()
	if len(tags) == 0 {
		return mcp.NewToolResultText("no tags"), nil
	}
	var sb strings.Builder
	for _, tc := range tags {
		fmt.Fprintf(&sb, "%s (%d)\n", tc.Tag, tc.Count)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) getTaggingContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TaggingContract), nil
}

func (s *Server) readTaggingGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "raido://tagging-guide",
			MIMEType: "text/markdown",
			Text:     TaggingContract,
		},
	}, nil
}
