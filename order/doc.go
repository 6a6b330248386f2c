// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 order 提供订单履约工作流：扣款、预留库存、装箱、等待发货审批、发货。

装箱由 PackingAdapter 执行。它在首次尝试的 Setup 中签发装箱单，
把单号编码为检查点句柄 slip:<id>，运行器随即心跳该句柄；之后的
尝试从句柄取回同一单号并从已装件数继续，装箱单在整个线程中只
签发一次。
*/
package order
