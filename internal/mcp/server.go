// Package mcp exposes the adaptive router as a Model Context Protocol
// server over stdio.
package mcp

import (
	"context"
	"fmt"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/nvandessel/skillroute/internal/adjust"
	"github.com/nvandessel/skillroute/internal/detector"
	"github.com/nvandessel/skillroute/internal/logging"
	"github.com/nvandessel/skillroute/internal/models"
	"github.com/nvandessel/skillroute/internal/recommend"
)

// Config configures the MCP server.
type Config struct {
	Name    string
	Version string

	// Router serves every tool call. The server closes it on Close.
	Router *recommend.Router

	Logger *zap.Logger
}

// Server wraps the SDK server and the router it serves.
type Server struct {
	server *sdk.Server
	router *recommend.Router
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewServer registers the skillroute tools on a new MCP server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Router == nil {
		return nil, fmt.Errorf("mcp server requires a router")
	}
	logger := logging.OrNop(cfg.Logger)
	name := cfg.Name
	if name == "" {
		name = "skillroute"
	}

	s := &Server{
		server: sdk.NewServer(&sdk.Implementation{Name: name, Version: cfg.Version}, nil),
		router: cfg.Router,
		logger: logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdin/stdout until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting")
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// Connect serves a single session over transport.
func (s *Server) Connect(ctx context.Context, transport sdk.Transport) (*sdk.ServerSession, error) {
	return s.server.Connect(ctx, transport, nil)
}

// Close flushes pending follow-ups and closes the router. Safe to call twice.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.router.Close(context.Background())
	})
	return s.closeErr
}

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "skillroute_recommend",
		Description: "Recommend a CLI tool, skills, and command for a natural-language request. Logs a conversation unless peek is set.",
	}, s.handleRecommend)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "skillroute_adaptive",
		Description: "Recommend a tool for a request, adjusted by past satisfaction. Always logs a conversation.",
	}, s.handleAdaptive)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "skillroute_feedback",
		Description: "Record a 1-5 satisfaction score for a logged conversation.",
	}, s.handleFeedback)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "skillroute_follow_up",
		Description: "Record a follow-up message for a conversation so satisfaction can be inferred from it.",
	}, s.handleFollowUp)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "skillroute_history",
		Description: "List recent conversations, newest first, or only the unsatisfied ones.",
	}, s.handleHistory)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "skillroute_stats",
		Description: "Summarize satisfaction: average, daily trend, and the history used for adjustments.",
	}, s.handleStats)
}

// RecommendInput is the argument of skillroute_recommend.
type RecommendInput struct {
	Request string `json:"request" jsonschema:"the natural-language request to route"`
	Peek    bool   `json:"peek,omitempty" jsonschema:"classify without logging a conversation"`
}

// RecommendOutput is the result of skillroute_recommend.
type RecommendOutput struct {
	Recommendation models.Recommendation `json:"recommendation"`
}

func (s *Server) handleRecommend(ctx context.Context, _ *sdk.CallToolRequest, in RecommendInput) (*sdk.CallToolResult, RecommendOutput, error) {
	var (
		rec models.Recommendation
		err error
	)
	if in.Peek {
		rec, err = s.router.Peek(in.Request)
	} else {
		rec, err = s.router.Recommend(ctx, in.Request)
	}
	if err != nil {
		return nil, RecommendOutput{}, err
	}
	return nil, RecommendOutput{Recommendation: rec}, nil
}

// AdaptiveInput is the argument of skillroute_adaptive.
type AdaptiveInput struct {
	Request string `json:"request" jsonschema:"the natural-language request to route"`
}

func (s *Server) handleAdaptive(ctx context.Context, _ *sdk.CallToolRequest, in AdaptiveInput) (*sdk.CallToolResult, adjust.Adjusted, error) {
	adj, err := s.router.Adaptive(ctx, in.Request)
	if err != nil {
		return nil, adjust.Adjusted{}, err
	}
	return nil, adj, nil
}

// FeedbackInput is the argument of skillroute_feedback.
type FeedbackInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"id returned by a previous recommendation"`
	Score          int    `json:"score" jsonschema:"satisfaction from 1 (bad) to 5 (great)"`
	Text           string `json:"text,omitempty" jsonschema:"optional free-text feedback"`
}

// FeedbackOutput is the result of skillroute_feedback.
type FeedbackOutput struct {
	ConversationID string `json:"conversation_id"`
	Score          int    `json:"score"`
	Recorded       bool   `json:"recorded"`
}

func (s *Server) handleFeedback(ctx context.Context, _ *sdk.CallToolRequest, in FeedbackInput) (*sdk.CallToolResult, FeedbackOutput, error) {
	if err := s.router.SubmitFeedback(ctx, in.ConversationID, in.Score, in.Text); err != nil {
		return nil, FeedbackOutput{}, err
	}
	return nil, FeedbackOutput{ConversationID: in.ConversationID, Score: in.Score, Recorded: true}, nil
}

// FollowUpInput is the argument of skillroute_follow_up.
type FollowUpInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"id returned by a previous recommendation"`
	Message        string `json:"message" jsonschema:"what the user said after running the command"`
	Analyze        bool   `json:"analyze,omitempty" jsonschema:"infer a score now instead of waiting for the next sweep"`
}

func (s *Server) handleFollowUp(ctx context.Context, _ *sdk.CallToolRequest, in FollowUpInput) (*sdk.CallToolResult, detector.Outcome, error) {
	out, err := s.router.FollowUp(ctx, in.ConversationID, in.Message, in.Analyze)
	if err != nil {
		return nil, detector.Outcome{}, err
	}
	s.logger.Debug("follow-up recorded",
		zap.String("conversation_id", in.ConversationID),
		zap.String("status", string(out.Status)))
	return nil, out, nil
}

// HistoryInput is the argument of skillroute_history.
type HistoryInput struct {
	Limit       int  `json:"limit,omitempty" jsonschema:"maximum conversations to return (default 10)"`
	Unsatisfied bool `json:"unsatisfied,omitempty" jsonschema:"only conversations scored 2 or lower or not yet scored"`
}

// HistoryOutput is the result of skillroute_history.
type HistoryOutput struct {
	Conversations []models.Conversation `json:"conversations"`
}

func (s *Server) handleHistory(ctx context.Context, _ *sdk.CallToolRequest, in HistoryInput) (*sdk.CallToolResult, HistoryOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}

	var (
		convs []models.Conversation
		err   error
	)
	if in.Unsatisfied {
		convs, err = s.router.Store().UnsatisfiedConversations(ctx)
		if len(convs) > limit {
			convs = convs[:limit]
		}
	} else {
		convs, err = s.router.Store().RecentConversations(ctx, limit)
	}
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to read history: %w", err)
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	return nil, HistoryOutput{Conversations: convs}, nil
}

// StatsInput is the (empty) argument of skillroute_stats.
type StatsInput struct{}

func (s *Server) handleStats(ctx context.Context, _ *sdk.CallToolRequest, _ StatsInput) (*sdk.CallToolResult, recommend.Stats, error) {
	st, err := s.router.Stats(ctx)
	if err != nil {
		return nil, recommend.Stats{}, err
	}
	return nil, st, nil
}
