// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 research 提供可审批的研究任务：search → analyze → approval → report。

图的每个节点是一步，节点后保存的快照 ID 即检查点句柄，因此研究
适配器可以精确恢复。needs_approval 为 true 时 approval 节点挂起，
Workflow 通过 hitl.Coordinator 等待审批信号，收到后以恢复值重新
运行活动；超时返回过期消息。

Completer 是模型调用的边界，TemplateCompleter 为离线确定性实现。
*/
package research
