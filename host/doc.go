// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 host 提供进程内的持久化执行宿主，作为检查点恢复协议的参考实现。

# 概述

LocalHost 以"尝试"为单位执行命名活动：

  - 尝试序号从 1 开始，每次尝试拿到的 HeartbeatDetails 是同一
    (线程, 活动) 上一次尝试最后记录的心跳，不是历史；
  - 失败后按 RetryPolicy 指数退避重试，Retryable=false 或错误码在
    NonRetryableErrorTypes 中时立即停止；
  - HeartbeatTimeout 内没有心跳时看门狗使尝试失败（HEARTBEAT_TIMEOUT，可重试）；
  - StartToCloseTimeout 限制单次尝试时长（ATTEMPT_TIMEOUT，可重试）；
  - 活动成功后清除心跳载荷。

# 心跳存储

HeartbeatStore 有内存、Redis 与 SQL（gorm，heartbeat_details 表）三种实现。存储写入通过令牌桶节流，
尝试结束时总会补写最新载荷。Subscribe 按线程推送心跳事件，供
WebSocket 观察接口使用。
*/
package host
