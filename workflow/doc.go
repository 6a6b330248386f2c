// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供带持久化步骤历史的最小状态图引擎。

# 概述

workflow 是任务体（如 research 图）所依赖的外部状态存储的参考实现。
图由节点和边组成，每执行完一个节点（一个 superstep）就写入一个
Snapshot，并以 thread id 为键保存在 Saver 中。Snapshot 的 ID 就是
检查点适配器在心跳中携带的不透明句柄。

# 核心接口与类型

  - Graph / CompiledGraph: 构建与执行状态图
  - State / Reducer: 通道状态与合并策略
  - Snapshot: 一次 superstep 之后的完整状态
  - Saver: 快照存储（MemorySaver、SQLSaver、RedisSaver）
  - Interrupt / Command: 节点内暂停等待外部决策，并以 Resume 值恢复

# 恢复语义

  - Stream(ctx, thread, State)      从入口节点开始新的运行
  - Stream(ctx, thread, nil)        从最新快照的 Next 继续
  - Stream(ctx, thread, Command{})  以 Resume 值重新执行被中断的节点
*/
package workflow
