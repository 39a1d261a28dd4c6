/*
包 debounce 实现入站消息防抖器，位于传输层与编排引擎之间。

# 概述

同一会话方快速连发的多条消息在静默窗口（默认 2250 毫秒）内聚合，
窗口被每条新消息重置；窗口结束后把按提交顺序以单个空格连接的合并
文本一次性交给引擎处理。一个人快速连发三条消息应得到一次连贯的
回复，而不是三次零散的回复。

# 并发模型

每个会话方标识持有独立缓冲与计时器；isProcessing 守卫保证同一
标识同一时刻至多一次冲洗在执行，这是会话状态读写的唯一串行化点。
处理期间到达的消息进入新列表，等当前冲洗结束后再调度。不同标识
互不阻塞。缓冲映射只在进程内存中，水平扩展需要外部协调器。

# 失败语义

引擎处理失败时向会话方发送固定的降级通知，并照常释放守卫；已读
回执与出站投递都是尽力而为，失败只记日志。
*/
package debounce
