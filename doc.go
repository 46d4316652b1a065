// Package agb2o 提供将 Antigravity 后端（cloudcode streamGenerateContent 分块 JSON 流）
// 转换为 OpenAI 兼容 API 的能力，方便第三方程序以 OpenAI SDK 的方式调用。
//
// 该仓库主要包含以下能力：
//  1. transport 包：同一契约下的两种上游传输（net/http 拉取读、回调推送流）
//  2. backend 包：分行缓冲、帧解析、事件翻译状态机与会话编排（Client），以及 Eino ChatModel
//  3. openaihttp 包：导出 /v1/models、/v1/chat/completions handlers 与 Gin 路由注册
//  4. auth/config/logging：凭证池、YAML 配置与 logrus 日志
package agb2o
