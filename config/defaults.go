// =============================================================================
// 📦 ResumeFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Runner:    DefaultRunnerConfig(),
		Host:      DefaultHostConfig(),
		Approval:  DefaultApprovalConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Server:    DefaultServerConfig(),
		JWT:       JWTConfig{Issuer: "resumeflow"},
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultRunnerConfig 返回默认运行器配置
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{HeartbeatInterval: 5 * time.Second}
}

// DefaultHostConfig 返回默认宿主配置
func DefaultHostConfig() HostConfig {
	return HostConfig{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		InitialInterval:     5 * time.Second,
		BackoffCoefficient:  2.0,
		MaximumAttempts:     5,
		StoreWriteRate:      0,
		StoreWriteBurst:     1,
	}
}

// DefaultApprovalConfig 返回默认审批配置
func DefaultApprovalConfig() ApprovalConfig {
	return ApprovalConfig{
		ResearchTimeout: 30 * time.Minute,
		OrderTimeout:    30 * time.Second,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Snapshots:  "sql",
		Heartbeats: "memory",
		KeyPrefix:  "resumeflow",
		TTL:        7 * 24 * time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置：本地 sqlite 文件
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "resumeflow",
		Password:        "",
		Name:            "resumeflow_checkpoints.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "resumeflow",
		SampleRate:   0.1,
	}
}
