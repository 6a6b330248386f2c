// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 HTTP 服务器生命周期。

Manager 封装 net/http.Server：Start 非阻塞启动，Run 阻塞到 ctx
取消后优雅关闭，Shutdown 可重复调用。信号处理交给调用方的
signal.NotifyContext，Manager 本身只认 ctx。
*/
package server
