package research

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Prompt 一次补全请求
type Prompt struct {
	System    string `json:"system"`
	User      string `json:"user"`
	MaxTokens int    `json:"max_tokens"`
}

// Completer 文本补全接口，由模型网关实现
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// CompleterFunc 函数适配器
type CompleterFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// TemplateCompleter 离线、确定性的补全实现。Delay 模拟模型延迟，可被 ctx 取消。
type TemplateCompleter struct {
	Delay time.Duration
}

func (c TemplateCompleter) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if c.Delay > 0 {
		timer := time.NewTimer(c.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	role := strings.TrimSuffix(firstSentence(prompt.System), ".")
	text := fmt.Sprintf("%s: %s", role, firstLine(prompt.User))
	return truncateWords(text, prompt.MaxTokens), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}

// truncateWords 粗略按词数截断
func truncateWords(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	words := strings.Fields(s)
	if len(words) <= limit {
		return s
	}
	return strings.Join(words[:limit], " ")
}
