// Package openaihttp 提供基于 Antigravity 上游的 OpenAI v1 兼容 HTTP 处理器。
//
// 该包对外只暴露：
// - net/http 形式的 handlers（models/chat.completions）
// - Gin 路由注册方法与日志中间件
//
// 上游访问通过 Completer 注入（通常是 *backend.Client），该包不直接读取凭证。
//
// 使用示例：
//
//	// net/http
//	modelsH, chatH, _ := openaihttp.Handlers(openaihttp.Config{Client: client})
//	mux.HandleFunc("/v1/models", modelsH)
//	mux.HandleFunc("/v1/chat/completions", chatH)
//
//	// gin
//	_ = openaihttp.RegisterGinRoutes(r, openaihttp.Config{
//		BasePath: "/v1",
//		Client:   client,
//	})
package openaihttp
