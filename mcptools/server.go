// Package mcptools exposes PII analysis and anonymization as MCP tools so
// agents can scrub text before it leaves the machine.
package mcptools

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	pii "github.com/SamuelRCrider/pii-go"
	"github.com/SamuelRCrider/pii-go/core"
	"github.com/SamuelRCrider/pii-go/utils"
)

const (
	ServerName    = "pii-go"
	ServerVersion = "0.1.0"

	ToolAnalyze   = "analyze_pii"
	ToolAnonymize = "anonymize_pii"
)

// Server registers the PII tools on an MCP server
type Server struct {
	svc    *pii.Service
	mcp    *server.MCPServer
	logger *log.Logger
}

// NewServer creates an MCP server backed by svc. A nil logger discards output.
func NewServer(svc *pii.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = utils.Discard()
	}
	s := &Server{
		svc:    svc,
		mcp:    server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		logger: logger,
	}

	s.mcp.AddTool(mcp.NewTool(ToolAnalyze,
		mcp.WithDescription("Detect personally identifiable information in text and return the entity spans"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to analyze")),
		mcp.WithString("language", mcp.Description("Language code, defaults to the first supported language")),
	), s.handleAnalyze)

	s.mcp.AddTool(mcp.NewTool(ToolAnonymize,
		mcp.WithDescription("Replace personally identifiable information in text and return the anonymized text"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to anonymize")),
		mcp.WithString("language", mcp.Description("Language code, defaults to the first supported language")),
		mcp.WithString("policy", mcp.Description("Redaction policy, defaults to the configured policy"), mcp.Enum(core.PolicyNames()...)),
	), s.handleAnonymize)

	return s
}

// MCPServer returns the underlying server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Serve runs the server over stdin/stdout until the input closes
func (s *Server) Serve() error {
	s.logger.Info("mcp server listening on stdio", "tools", []string{ToolAnalyze, ToolAnonymize})
	return server.ServeStdio(s.mcp)
}

type toolArgs struct {
	text     string
	language string
	policy   string
}

func parseArgs(request mcp.CallToolRequest) (toolArgs, error) {
	var a toolArgs
	text, ok := request.Params.Arguments["text"].(string)
	if !ok || text == "" {
		return a, fmt.Errorf("text must be a non-empty string")
	}
	a.text = text
	a.language, _ = request.Params.Arguments["language"].(string)
	a.policy, _ = request.Params.Arguments["policy"].(string)
	return a, nil
}

func (s *Server) callerContext(ctx context.Context) context.Context {
	return pii.WithCaller(ctx, pii.Caller{
		RequestID: core.NewRequestID(),
		Source:    "mcp",
	})
}

func (s *Server) handleAnalyze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	spans, err := s.svc.Analyze(s.callerContext(ctx), args.text, args.language)
	if err != nil {
		s.logger.Warn("analyze tool failed", "err", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	if spans == nil {
		spans = []utils.DetectedSpan{}
	}

	out, err := json.Marshal(spans)
	if err != nil {
		return nil, fmt.Errorf("failed to encode spans: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) handleAnonymize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	policy, err := s.svc.Policy(args.policy)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.svc.Anonymize(s.callerContext(ctx), args.text, args.language, policy)
	if err != nil {
		s.logger.Warn("anonymize tool failed", "err", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(res.Text), nil
}
