package backend

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/LubyRuffy/agb2o/auth"
)

// ErrNoCredential 表示 TokenProvider 没有返回可用凭证，调用立即失败且不重试。
var ErrNoCredential = auth.ErrNoCredential

// UpstreamRequestError 表示上游返回了非 200 状态。
// 403 时在返回该错误之前凭证已被禁用。
type UpstreamRequestError struct {
	StatusCode int
	Body       string
	// CredentialDisabled 标记本次错误是否触发了凭证禁用。
	CredentialDisabled bool
}

func (e *UpstreamRequestError) Error() string {
	if e == nil {
		return ""
	}
	body := strings.TrimSpace(e.Body)
	if e.CredentialDisabled {
		return fmt.Sprintf("upstream request failed with status %d (credential disabled): %s", e.StatusCode, body)
	}
	return fmt.Sprintf("upstream request failed with status %d: %s", e.StatusCode, body)
}

// IsForbidden 判断是否为 403。
func (e *UpstreamRequestError) IsForbidden() bool {
	return e != nil && e.StatusCode == http.StatusForbidden
}

// FrameDecodeError 表示单行 data 帧的 JSON 无法解析；属于可恢复错误，调用方跳过该行继续处理。
type FrameDecodeError struct {
	Line string
	Err  error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("failed to decode frame: %v", e.Err)
}

func (e *FrameDecodeError) Unwrap() error { return e.Err }
