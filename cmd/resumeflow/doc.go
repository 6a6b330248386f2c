// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 resumeflow 命令行程序。

# 概述

resumeflow 在一个进程内装配心跳存储、图快照存储、LocalHost 宿主与
审批注册表，并提供以下子命令：

  - serve：HTTP 服务。信号、检查点、快照历史、心跳观察（WebSocket）、
    后台运行与 /metrics
  - run：在本进程运行 research、order 或 sleep 工作流，等待审批期间
    同样暴露信号接口；以相同 --thread 重新运行即从检查点恢复
  - signal：向等待中的线程投递审批或拒绝
  - inspect：列出线程或输出一个线程的快照历史
  - migrate：golang-migrate 管理 graph_snapshots 与 heartbeat_details
  - health、version

# 中间件

Recovery、RequestID、SecurityHeaders、RequestLogger、MetricsMiddleware、
OTelTracing、RateLimiter（按 IP），配置了 jwt.secret 时追加 JWTAuth，
仅对 /v1/ 路径生效。

# 优雅关闭

SIGINT/SIGTERM 取消根 ctx：HTTP 服务排空连接，后台运行随 ctx 取消，
宿主在尝试结束时刷入最新心跳，下次以同一线程启动时从该检查点继续。
*/
package main
