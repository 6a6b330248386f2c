// Package config 提供 ResumeFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 RESUMEFLOW_）的顺序叠加，
// Watcher 在配置文件变化时重新加载并通知订阅者。
package config
