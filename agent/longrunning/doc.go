// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 longrunning 提供长时任务在持久化执行宿主中的检查点恢复运行器。

# 概述

宿主以"尝试"为单位调用任务，失败时按重试策略重新调度，并通过心跳
判断任务是否存活。Execute 负责把一个 agent.Adapter 接入宿主：

  - 从宿主最近一次心跳载荷中恢复 Checkpoint；
  - 根据适配器能力决定精确恢复（resume）还是从零重启（restart）；
  - 在每个步骤完成后立即发送心跳；
  - 后台按固定间隔发送保活心跳，即使单个步骤耗时很长；
  - 在任何退出路径上停止并等待后台心跳协程。

# 核心类型

  - ActivityEnv: 宿主存活通道，提供 Info、HeartbeatDetails、RecordHeartbeat。
  - ActivityInfo: 线程 ID、活动名与尝试序号。
  - Option: WithHeartbeatInterval、WithLogger、WithMetrics、WithTracer。

# 并发模型

一次尝试包含主步骤循环和一个后台心跳协程，两者共享同一个受互斥锁
保护的检查点单元。每次心跳都在锁内读取并发送，因此宿主观察到的
ProgressCount 单调不减。运行器从不重试，失败原样返回给宿主。
*/
package longrunning
