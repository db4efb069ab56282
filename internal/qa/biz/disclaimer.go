package biz

import "strings"

// disclaimers 按语言索引的固定免责声明。
var disclaimers = map[string]string{
	"en": "This information is for general education only and is not a substitute for professional medical advice. Always consult a qualified healthcare provider about your health.",
	"zh": "以上内容仅供健康知识参考，不能替代专业医疗建议。任何健康问题请咨询执业医生。",
}

// DisclaimerInjector 在正常回答末尾追加免责声明。拒答文案不追加。
type DisclaimerInjector struct{}

// NewDisclaimerInjector 创建免责声明注入器。
func NewDisclaimerInjector() *DisclaimerInjector {
	return &DisclaimerInjector{}
}

// Text 返回指定语言的免责声明全文。未知语言回退英文。
func (d *DisclaimerInjector) Text(language string) string {
	if text, ok := disclaimers[language]; ok {
		return text
	}
	return disclaimers["en"]
}

// Inject 追加免责声明。幂等：已包含声明的文本原样返回。
func (d *DisclaimerInjector) Inject(answer, language string) string {
	text := d.Text(language)
	if strings.Contains(answer, text) {
		return answer
	}
	return strings.TrimRight(answer, " \t\n") + "\n\n" + text
}
