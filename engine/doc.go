/*
包 engine 实现阶段编排引擎，驱动多轮商务会话沿预设漏斗推进。

# 概述

每轮对话由 ProcessMessage 完成：加载会话与阶段目录，执行前置越序
检查（购买意图跳转、必填变量预推进），检索知识库上下文，组装系统
提示词并生成回复，再由第二次模型调用提取结构化变量并决定阶段推进，
最后在预约阶段满足条件时创建日历事件。

# 组成

  - Engine / ProcessMessage：单轮对话控制器，外部传输层唯一入口。
  - 意图识别（intent.go）：购买意图与人工接管的关键词匹配。
  - 启发式提取（extract.go）：模型调用前的姓名与业务领域快速提取，
    以及同义变量名到规范名的折叠。
  - 提示词构建（prompt.go）：确定性的系统提示词组装。
  - 分析器（analyzer.go）：第二次模型调用与 JSON 输出解析。
  - 预约（schedule.go）：DD/MM 日期解析与日历副作用。

# 错误语义

配置性错误（代理缺失、无阶段）对本轮致命，调用方降级为
FallbackReply；分析与预约的失败都就地恢复，永不阻断已生成的回复。
*/
package engine
