// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 resumeflow 测试的共享工具和辅助函数。

# 概述

testutil 为 runner、宿主与工作流测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual / WaitFor /
    WaitForChannel，支持超时轮询等待条件满足
  - 检查点断言: AssertProgressMonotonic 校验心跳载荷中进度单调不减
  - 数据工具: MustJSON / MustCheckpoint
  - 假宿主: FakeActivityEnv 记录心跳，NextAttempt 模拟宿主把最后一次
    心跳交给下一次尝试

# 使用示例

	env := testutil.NewFakeActivityEnv("thread-1", "research")
	_, err := longrunning.Execute(ctx, env, adapter, input)
	testutil.AssertProgressMonotonic(t, env.Heartbeats())
	retry := env.NextAttempt()
*/
package testutil
