package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/types"
	"github.com/BaSui01/resumeflow/workflow"
)

// 节点名
const (
	NodeSearch   = "search"
	NodeAnalyze  = "analyze"
	NodeApproval = "approval"
	NodeReport   = "report"
)

// 状态通道
const (
	ChannelQuery         = "query"
	ChannelNeedsApproval = "needs_approval"
	ChannelMessages      = "messages"
	ChannelSearchResults = "search_results"
	ChannelAnalysis      = "analysis"
	ChannelApproved      = "approved"
	ChannelFeedback      = "feedback"
	ChannelFinalReport   = "final_report"
)

const (
	searchSystem  = "You are a research assistant. Gather key information about the topic. Be concise but thorough."
	analyzeSystem = "You are an analyst. Synthesize research findings into insights."
	reportSystem  = "You are a report writer. Create a concise, well-structured research report."
)

// BuildGraph 构建研究图：search → analyze → approval → report
func BuildGraph(completer Completer) *workflow.Graph {
	n := &nodes{completer: completer}
	return workflow.NewGraph().
		AddChannel(ChannelMessages, workflow.AppendReducer()).
		AddNode(NodeSearch, n.search).
		AddNode(NodeAnalyze, n.analyze).
		AddNode(NodeApproval, n.approval).
		AddNode(NodeReport, n.report).
		SetEntryPoint(NodeSearch).
		AddEdge(NodeSearch, NodeAnalyze).
		AddEdge(NodeAnalyze, NodeApproval).
		AddEdge(NodeApproval, NodeReport).
		AddEdge(NodeReport, workflow.END)
}

// Compile 编译研究图。completer 为 nil 时使用 TemplateCompleter。
func Compile(saver workflow.Saver, completer Completer, logger *zap.Logger) (*workflow.CompiledGraph, error) {
	if completer == nil {
		completer = TemplateCompleter{}
	}
	return BuildGraph(completer).Compile(saver, logger)
}

// InitialState 新运行的初始通道
func InitialState(query string, needsApproval bool) workflow.State {
	return workflow.State{
		ChannelQuery:         query,
		ChannelNeedsApproval: needsApproval,
		ChannelSearchResults: "",
		ChannelAnalysis:      "",
		ChannelFinalReport:   "",
	}
}

type nodes struct {
	completer Completer
}

func (n *nodes) search(ctx context.Context, s workflow.State) (workflow.State, error) {
	query := s.String(ChannelQuery)
	if strings.TrimSpace(query) == "" {
		return nil, types.NewNonRetryable("research query is empty")
	}
	out, err := n.completer.Complete(ctx, Prompt{
		System:    searchSystem,
		User:      fmt.Sprintf("Research topic: %s\n\nProvide key facts and findings.", query),
		MaxTokens: 500,
	})
	if err != nil {
		return nil, completionError(NodeSearch, err)
	}
	return workflow.State{
		ChannelSearchResults: out,
		ChannelMessages:      "search: gathered findings",
	}, nil
}

func (n *nodes) analyze(ctx context.Context, s workflow.State) (workflow.State, error) {
	out, err := n.completer.Complete(ctx, Prompt{
		System: analyzeSystem,
		User: fmt.Sprintf("Topic: %s\n\nResearch findings:\n%s\n\nProvide analysis and insights.",
			s.String(ChannelQuery), s.String(ChannelSearchResults)),
		MaxTokens: 500,
	})
	if err != nil {
		return nil, completionError(NodeAnalyze, err)
	}
	return workflow.State{
		ChannelAnalysis: out,
		ChannelMessages: "analyze: synthesized insights",
	}, nil
}

// approval 需要审批时挂起，恢复值为 {"approved": bool, "feedback": string}
func (n *nodes) approval(ctx context.Context, s workflow.State) (workflow.State, error) {
	if !s.Bool(ChannelNeedsApproval) {
		return workflow.State{
			ChannelApproved: true,
			ChannelMessages: "approval: not required",
		}, nil
	}
	value, err := workflow.Interrupt(ctx, map[string]any{
		"message":  "Approve the research report before it is written",
		"query":    s.String(ChannelQuery),
		"analysis": s.String(ChannelAnalysis),
	})
	if err != nil {
		return nil, err
	}
	resp := DecodeApproval(value)
	return workflow.State{
		ChannelApproved: resp.Approved,
		ChannelFeedback: resp.Feedback,
		ChannelMessages: fmt.Sprintf("approval: approved=%t", resp.Approved),
	}, nil
}

func (n *nodes) report(ctx context.Context, s workflow.State) (workflow.State, error) {
	query := s.String(ChannelQuery)
	feedback := s.String(ChannelFeedback)
	if !s.Bool(ChannelApproved) {
		report := fmt.Sprintf("Research on %q was rejected by the reviewer.", query)
		if feedback != "" {
			report += " Feedback: " + feedback
		}
		return workflow.State{
			ChannelFinalReport: report,
			ChannelMessages:    "report: rejected",
		}, nil
	}

	user := fmt.Sprintf("Topic: %s\n\nResearch findings:\n%s\n\nAnalysis:\n%s\n\n"+
		"Write a final research report with Summary, Key Findings, and Conclusions.",
		query, s.String(ChannelSearchResults), s.String(ChannelAnalysis))
	if feedback != "" {
		user += "\n\nReviewer feedback: " + feedback
	}
	out, err := n.completer.Complete(ctx, Prompt{System: reportSystem, User: user, MaxTokens: 800})
	if err != nil {
		return nil, completionError(NodeReport, err)
	}
	return workflow.State{
		ChannelFinalReport: out,
		ChannelMessages:    "report: written",
	}, nil
}

// DecodeApproval 解析恢复值，接受 map 或 ApprovalResponse
func DecodeApproval(v any) types.ApprovalResponse {
	switch r := v.(type) {
	case types.ApprovalResponse:
		return r
	case *types.ApprovalResponse:
		if r != nil {
			return *r
		}
	case map[string]any:
		approved, _ := r["approved"].(bool)
		feedback, _ := r["feedback"].(string)
		return types.ApprovalResponse{Approved: approved, Feedback: feedback}
	}
	return types.ApprovalResponse{}
}

// completionError 结构化错误原样返回，其余视为可重试的瞬时错误
func completionError(node string, err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.NewTransient(fmt.Sprintf("%s completion failed", node)).WithCause(err)
}
