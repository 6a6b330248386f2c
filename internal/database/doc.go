// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 打开检查点快照所用的关系数据库，并管理其连接池。

# 概述

Open 按 config.DatabaseConfig 选择 GORM 方言（postgres、mysql、
纯 Go sqlite），再交给 PoolManager 统一设置最大连接数、连接生命周期
与空闲回收。RunHealthCheck 定时探活，并把打开/空闲连接数上报到
metrics.Collector。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置。
  - PoolStats：连接池统计信息。
*/
package database
