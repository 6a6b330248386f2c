// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 resumeflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、runner、hitl、host
等上层模块提供统一的数据契约，避免循环依赖。

# 核心类型

  - Checkpoint: 通过宿主心跳通道传递的进度快照（线程、外部句柄、进度、最后单元）
  - StepResult: 适配器每完成一个逻辑步骤产出的进度事件
  - ApprovalResponse: 外部人工审批信号的载荷
  - Error / ErrorCode: 结构化错误体系，区分可重试与不可重试
*/
package types
