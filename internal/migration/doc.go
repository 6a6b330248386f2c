// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理检查点存储的数据库 Schema，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

# 概述

迁移文件通过 embed.FS 内嵌，按方言分目录：

  - 000001_create_graph_snapshots：图快照表，(thread_id, version) 唯一；
  - 000002_create_heartbeat_details：每个 (线程, 活动) 最近一次心跳载荷。

DefaultMigrator 在调用方已打开的 *sql.DB 上运行，NewMigratorFromGorm
直接复用 internal/database 打开的连接池。CLI 为 resumeflow migrate
子命令提供格式化输出。
*/
package migration
