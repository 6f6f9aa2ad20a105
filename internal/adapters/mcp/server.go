// Package mcpadapter exposes a document session as Model Context Protocol tools over stdio.
package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/agentic-rag-assistant/internal/core/domain"
	"github.com/kirillkom/agentic-rag-assistant/internal/core/ports"
)

const (
	ServerName = "docqa"

	ToolAskDocuments    = "ask_documents"
	ToolIngestDocuments = "ingest_documents"
	ToolIndexStatus     = "index_status"
)

type Server struct {
	assistant ports.Assistant
	logger    *slog.Logger
	mcp       *server.MCPServer
}

func NewServer(assistant ports.Assistant, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		assistant: assistant,
		logger:    logger.With("component", "mcp"),
		mcp:       server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool(ToolAskDocuments,
		mcp.WithDescription("Answer a question using only the documents indexed in this session."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question about the indexed documents")),
	), s.askDocuments)

	s.mcp.AddTool(mcp.NewTool(ToolIngestDocuments,
		mcp.WithDescription("Index local files (.pdf, .docx, .pptx, .csv, .txt, .md) into the session."),
		mcp.WithArray("paths",
			mcp.Required(),
			mcp.Description("Absolute paths of files to index"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), s.ingestDocuments)

	s.mcp.AddTool(mcp.NewTool(ToolIndexStatus,
		mcp.WithDescription("Report whether documents are indexed and how many vectors are searchable."),
	), s.indexStatus)

	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves JSON-RPC over the given streams until ctx is done or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("mcp_server_started", "transport", "stdio")
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve mcp stdio: %w", err)
	}
	return nil
}

type askResult struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
	TraceID string   `json:"trace_id"`
}

func (s *Server) askDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, _ := req.GetArguments()["question"].(string)
	if strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	answer, err := s.assistant.Ask(ctx, question)
	if err != nil {
		return s.toolError(ToolAskDocuments, err), nil
	}
	sources := answer.Sources
	if sources == nil {
		sources = []string{}
	}
	return jsonResult(askResult{Answer: answer.Content, Sources: sources, TraceID: answer.TraceID})
}

func (s *Server) ingestDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, err := stringSlice(req.GetArguments()["paths"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(paths) == 0 {
		return mcp.NewToolResultError("paths must contain at least one file"), nil
	}

	result, err := s.assistant.IngestPaths(ctx, paths)
	if err != nil {
		return s.toolError(ToolIngestDocuments, err), nil
	}
	return jsonResult(result)
}

func (s *Server) indexStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.assistant.Status(ctx)
	if err != nil {
		return s.toolError(ToolIndexStatus, err), nil
	}
	return jsonResult(status)
}

func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	level := slog.LevelWarn
	if !domain.IsKind(err, domain.ErrInvalidInput) && !domain.IsKind(err, domain.ErrNotReady) {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "mcp_tool_failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func stringSlice(v any) ([]string, error) {
	switch items := v.(type) {
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for i, item := range items {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("paths[%d] must be a string", i)
			}
			if str = strings.TrimSpace(str); str != "" {
				out = append(out, str)
			}
		}
		return out, nil
	case nil:
		return nil, errors.New("paths is required")
	default:
		return nil, fmt.Errorf("paths must be an array of strings, got %T", v)
	}
}
