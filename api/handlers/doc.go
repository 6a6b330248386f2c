// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 resumeflow HTTP API 的请求处理器。

# 核心类型

  - ThreadHandler: 审批信号投递、协调器状态、检查点与快照历史
  - WatchHandler: WebSocket 心跳流（coder/websocket）
  - HealthHandler: 服务健康检查（/health, /healthz, /ready）
  - RunHandler: 后台启动工作流（POST /v1/runs/{kind}）并查询结果，由 RunTracker 记录
  - Response: 统一 JSON 响应结构（success + data + error + timestamp）

# 错误映射

WriteError 把 types.Error 的错误码映射为 HTTP 状态码：INVALID_REQUEST、
INVALID_INPUT、CHECKPOINT_DECODE 为 400，UNAUTHORIZED 为 401，NOT_FOUND 为 404，
CONFLICT 为 409（信号在协调器终止后到达），RATE_LIMITED 为 429，TRANSIENT 为 503；
其余错误统一为 500，不暴露内部细节。
*/
package handlers
