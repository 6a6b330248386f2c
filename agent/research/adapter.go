package research

import (
	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/agent"
	"github.com/BaSui01/resumeflow/workflow"
)

// Input 研究任务输入
type Input struct {
	Query         string         `json:"query"`
	NeedsApproval bool           `json:"needs_approval"`
	ResumeValue   map[string]any `json:"resume_value,omitempty"`
}

// Output 研究任务输出。Interrupted 为 true 时 InterruptValue 是节点挂起时给出的值。
type Output struct {
	FinalReport    string `json:"final_report"`
	ThreadID       string `json:"thread_id"`
	SuperstepCount int    `json:"superstep_count"`
	Interrupted    bool   `json:"interrupted"`
	InterruptValue any    `json:"interrupt_value,omitempty"`
}

// Binding 研究任务到图的映射
func Binding() agent.GraphBinding[Input, Output] {
	return agent.GraphBinding[Input, Output]{
		Input: func(in Input) (workflow.State, any) {
			initial := InitialState(in.Query, in.NeedsApproval)
			if in.ResumeValue == nil {
				return initial, nil
			}
			return initial, in.ResumeValue
		},
		Output: func(run agent.GraphRun) (Output, error) {
			out := Output{ThreadID: run.ThreadID, SuperstepCount: run.StepCount}

			pending := run.Interrupt
			if pending == nil && run.Final.Interrupted() {
				pending = &run.Final.Interrupts[0]
			}
			if pending != nil {
				out.Interrupted = true
				out.InterruptValue = pending.Value
				return out, nil
			}
			if run.Final != nil {
				out.FinalReport = run.Final.Values.String(ChannelFinalReport)
			}
			return out, nil
		},
	}
}

// NewAdapter 创建一次尝试使用的研究适配器
func NewAdapter(graph *workflow.CompiledGraph, logger *zap.Logger) *agent.GraphAdapter[Input, Output] {
	return agent.NewGraphAdapter(graph, Binding(), logger)
}

// NewFactory 每次调用返回新的研究适配器
func NewFactory(graph *workflow.CompiledGraph, logger *zap.Logger) agent.Factory[Input, Output] {
	return func() agent.Adapter[Input, Output] {
		return NewAdapter(graph, logger)
	}
}
