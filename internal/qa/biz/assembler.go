package biz

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/internal/qa/store"
)

// AssemblerConfig 上下文组装配置。
type AssemblerConfig struct {
	// Budget 组装结果的最大 Unicode 字符数
	Budget int
}

// DefaultAssemblerConfig 返回默认组装配置。
func DefaultAssemblerConfig() *AssemblerConfig {
	return &AssemblerConfig{Budget: 4000}
}

// noGroundingMarkers 检索结果为空时写入上下文的标记。
var noGroundingMarkers = map[string]string{
	"en": "[No reference material was retrieved for this question.]",
	"zh": "（未检索到与该问题相关的参考资料。）",
}

// historyHeaders 对话历史段落标题。
var historyHeaders = map[string]string{
	"en": "Recent conversation:",
	"zh": "近期对话：",
}

// ContextAssembler 将检索结果与会话历史组装为生成上下文。
// 检索块优先占用预算；历史轮次按最新优先纳入、按时间顺序渲染。
type ContextAssembler struct {
	config *AssemblerConfig
}

// NewContextAssembler 创建上下文组装器。
func NewContextAssembler(config *AssemblerConfig) *ContextAssembler {
	if config == nil {
		config = DefaultAssemblerConfig()
	}
	return &ContextAssembler{config: config}
}

// Assemble 组装上下文。相同输入总是产生相同输出。
func (a *ContextAssembler) Assemble(results []*store.SearchResult, turns []*model.Turn, language string) string {
	var sb strings.Builder
	used := 0

	if len(results) == 0 {
		marker := pick(noGroundingMarkers, language)
		sb.WriteString(marker)
		sb.WriteString("\n")
		used += utf8.RuneCountInString(marker) + 1
	}

	for i, r := range results {
		block := fmt.Sprintf("[%d] From %s - %s:\n%s\n\n", i+1, r.Source, r.Topic, r.Content)
		cost := utf8.RuneCountInString(block)
		if used+cost > a.config.Budget {
			break
		}
		sb.WriteString(block)
		used += cost
	}

	history := a.selectTurns(turns, a.config.Budget-used, language)
	sb.WriteString(history)

	return strings.TrimRight(sb.String(), "\n")
}

// selectTurns 在剩余预算内挑选历史轮次：从最新往回纳入，渲染时恢复时间顺序。
func (a *ContextAssembler) selectTurns(turns []*model.Turn, budget int, language string) string {
	if len(turns) == 0 || budget <= 0 {
		return ""
	}

	header := pick(historyHeaders, language) + "\n"
	budget -= utf8.RuneCountInString(header)
	if budget <= 0 {
		return ""
	}

	var lines []string
	for i := len(turns) - 1; i >= 0; i-- {
		line := fmt.Sprintf("%s: %s\n", turns[i].Role, turns[i].Content)
		cost := utf8.RuneCountInString(line)
		if cost > budget {
			break
		}
		lines = append([]string{line}, lines...)
		budget -= cost
	}
	if len(lines) == 0 {
		return ""
	}

	return header + strings.Join(lines, "")
}

func pick(m map[string]string, language string) string {
	if v, ok := m[language]; ok {
		return v
	}
	return m["en"]
}
