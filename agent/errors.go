package agent

import (
	"errors"

	"github.com/BaSui01/resumeflow/types"
)

var (
	// ErrAlreadyRun Run 序列只能消费一次
	ErrAlreadyRun = types.NewError(types.ErrAlreadyRun, "adapter sequence already consumed")

	// ErrNotFinished 序列尚未耗尽时请求最终输出
	ErrNotFinished = types.NewError(types.ErrNotFinished, "final output requested before the sequence was exhausted")

	// ErrNotSetup 未调用 Setup 就开始运行
	ErrNotSetup = errors.New("adapter used before setup")
)
