package host

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/resumeflow/agent"
	"github.com/BaSui01/resumeflow/agent/longrunning"
	"github.com/BaSui01/resumeflow/types"
)

// Execute 执行泛型活动，结果经 JSON 往返，与跨进程宿主的序列化边界一致
func Execute[Out any](ctx context.Context, h *LocalHost, threadID, name string, opts ActivityOptions,
	fn func(ctx context.Context, env longrunning.ActivityEnv) (Out, error)) (Out, error) {
	var zero Out

	raw, err := h.ExecuteActivity(ctx, threadID, name, func(ctx context.Context, env longrunning.ActivityEnv) ([]byte, error) {
		out, err := fn(ctx, env)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, types.NewError(types.ErrInternal, "encode activity result").WithCause(err)
		}
		return data, nil
	}, opts)
	if err != nil {
		return zero, err
	}

	var out Out
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decode activity %s result: %w", name, err)
	}
	return out, nil
}

// RunAdapter 在宿主中运行适配器；每次尝试由 factory 创建新的适配器实例
func RunAdapter[In, Out any](ctx context.Context, h *LocalHost, threadID, name string, opts ActivityOptions,
	factory agent.Factory[In, Out], input In, runOpts ...longrunning.Option) (Out, error) {
	return Execute(ctx, h, threadID, name, opts, func(ctx context.Context, env longrunning.ActivityEnv) (Out, error) {
		return longrunning.Execute(ctx, env, factory(), input, runOpts...)
	})
}
