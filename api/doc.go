// Package api 定义 resumeflow HTTP API 的请求与响应结构。
//
// # API Overview
//
// 服务端暴露长时间运行线程的外部接口：
//   - POST /v1/threads/{id}/approval   投递人工审批信号
//   - GET  /v1/threads/{id}/state      协调器状态（RUNNING、AWAITING_SIGNAL 等）
//   - GET  /v1/threads/{id}/checkpoint 宿主保存的最近一次检查点
//   - GET  /v1/threads/{id}/history    图快照历史，最新在前
//   - GET  /v1/threads/{id}/watch      WebSocket 心跳流
//   - GET  /v1/threads                 已保存快照的线程列表
//
// # Authentication
//
// 配置 jwt.secret 后，/v1 下的接口需要 Bearer Token：
//
//	Authorization: Bearer <token>
//
// 健康检查与 /metrics 不需要认证。
package api
