/*
包 store 提供持久化数据模型与存储访问层，基于 GORM 实现。

# 概述

本包定义四类持久化实体：Agent（代理身份与模型配置）、Stage（漏斗
阶段，同一代理下按 stage_order 全序排列）、Session（单条会话线程的
阶段指针、阶段历史与变量表）与 KnowledgeDocument（知识库文档）。
JSONB 列通过自定义 Valuer/Scanner 包装类型映射，同时兼容 PostgreSQL
与 SQLite 两种底层存储。

# 核心类型

  - Store：存储访问层，封装全部 CRUD 与会话生命周期操作。
  - VariableMap / StringList / MessageHistory / ModelConfig：JSONB
    包装类型。
  - StageType：阶段类型枚举，schedule 与 transfer 可作为跳转目标。

# 会话不变式

Session.StageHistory 只追加不截断，末元素恒等于 CurrentStageID；
新会话以代理序号最小的阶段为起点创建。阶段推进统一经由
TransitionStage 完成以维持该不变式。
*/
package store
