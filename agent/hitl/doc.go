// Package hitl 提供 Human-in-the-Loop 中断等待与恢复能力。
//
// Coordinator 在任务尝试之上运行一个状态机：尝试报告"已中断"时进入
// AWAITING_SIGNAL，等待外部审批信号或超时；信号先到则携带信号重新调用
// 任务，超时先到则以 EXPIRED 结束。每次暂停都记录为一条 Interrupt，
// Registry 按线程 ID 把外部信号路由到正在等待的协调器。
package hitl
