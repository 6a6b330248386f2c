// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖心跳、步骤、
活动尝试、中断等待、HTTP 与数据库连接。

# 概述

Collector 统一注册和记录 Prometheus 指标。NewCollector 使用 promauto
注册到默认 Registry；NewCollectorWithRegistry 允许测试或嵌入方传入
独立的 Registry。所有指标按 namespace 隔离。

# 主要能力

  - 心跳指标：按 activity/kind 计数，kind 为 initial、step、
    background、handle。
  - 步骤指标：完成步骤数与相邻步骤间隔。
  - 启动模式：resume、restart（检查点被丢弃）、fresh。
  - Host 指标：尝试结果、重试退避时长、心跳存储写入与节流。
  - 中断指标：paused、resumed、expired。
  - HTTP 与数据库指标：请求计数与耗时、连接数 Gauge。
*/
package metrics
