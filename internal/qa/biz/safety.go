package biz

import (
	"context"
	"regexp"
	"strings"

	"github.com/kart-io/logger"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/internal/pkg/textutil"
	"github.com/medkb-io/medqa/pkg/llm"
)

// SafetyConfig 安全门控配置。
type SafetyConfig struct {
	// EnableLLM 启用 LLM 分类器；失败或结果不可解析时回退规则分类
	EnableLLM bool
	// Temperature LLM 分类温度
	Temperature float32
}

// DefaultSafetyConfig 返回默认安全配置。
func DefaultSafetyConfig() *SafetyConfig {
	return &SafetyConfig{
		EnableLLM:   false,
		Temperature: 0.0,
	}
}

// SafetyGate 对查询与生成结果做安全分类。
// 急症求助优先级最高，其次诊断请求、治疗请求、其他不允许内容。
type SafetyGate struct {
	config    *SafetyConfig
	generator llm.GenerationProvider
}

// NewSafetyGate 创建安全门控。generator 可为 nil，此时仅用规则分类。
func NewSafetyGate(config *SafetyConfig, generator llm.GenerationProvider) *SafetyGate {
	if config == nil {
		config = DefaultSafetyConfig()
	}
	return &SafetyGate{config: config, generator: generator}
}

// categoryRule 单条分类规则。
type categoryRule struct {
	category model.SafetyCategory
	patterns []*regexp.Regexp
}

// classifyRules 按优先级排列的规则表，命中即返回。
var classifyRules = []categoryRule{
	{
		category: model.CategoryEmergencyRequest,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(emergency|call 911|can'?t breathe|cannot breathe|chest pain|overdos(e|ed|ing)|suicid\w*|kill (myself|himself|herself)|unconscious|severe bleeding|heart attack|stroke right now)\b`),
			regexp.MustCompile(`急救|呼吸困难|喘不上气|胸痛|心脏病发作|中风了|大出血|昏迷不醒|自杀|过量服[用药]|想死`),
		},
	},
	{
		category: model.CategoryDiagnosticRequest,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(do i have|what('?s| is) wrong with me|diagnos(e|is) (me|my)|am i sick|what disease do i|is (this|it) cancer)\b`),
			regexp.MustCompile(`我(是不是|得了|患了|有没有)(?:.{0,8})(病|癌|症)|帮我诊断|我这是什么病|我的症状是什么病`),
		},
	},
	{
		category: model.CategoryTreatmentRequest,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(what should i take|how much .{0,20}should i take|prescribe|dosage for me|which (medicine|medication|drug) should i|how do i treat my|cure my)\b`),
			regexp.MustCompile(`我(该|应该|要)吃(什么|多少)药|给我开药|我的(剂量|用量)|怎么治我的|治好我的`),
		},
	},
	{
		category: model.CategoryOtherDisallowed,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(synthesi(s|ze) .{0,20}(drug|opioid|fentanyl)|make .{0,10}(poison|meth)|lethal dose|harm (someone|others))\b`),
			regexp.MustCompile(`制[作造毒]毒|致死剂量|怎么下毒|伤害别人`),
		},
	},
}

// Classify 对文本分类。总是返回确定的类别，从不返回错误：
// 任何不确定都落到 CategoryAllowed 以外由规则覆盖，规则未命中即放行。
func (g *SafetyGate) Classify(ctx context.Context, text string) model.SafetyCategory {
	normalized := strings.ToLower(textutil.NormalizeText(text))
	if normalized == "" {
		return model.CategoryAllowed
	}

	if g.config.EnableLLM && g.generator != nil {
		if cat, ok := g.classifyLLM(ctx, normalized); ok {
			return cat
		}
	}

	return classifyByRules(normalized)
}

// classifyByRules 规则分类，按优先级首个命中返回。
func classifyByRules(normalized string) model.SafetyCategory {
	for _, rule := range classifyRules {
		for _, p := range rule.patterns {
			if p.MatchString(normalized) {
				return rule.category
			}
		}
	}
	return model.CategoryAllowed
}

// classifyPrompt LLM 分类提示词，要求仅输出类别标签。
const classifyPrompt = `You are a safety classifier for a medical information service. Classify the user text into exactly one category:
- emergency_request: the user describes an ongoing medical emergency or intent to self-harm
- diagnostic_request: the user asks to be personally diagnosed
- treatment_request: the user asks for personal treatment or dosage decisions
- other_disallowed: requests for harmful, illegal or dangerous medical content
- allowed: general medical knowledge questions

Reply with only the category name.

Text: `

// classifyMaxInput LLM 分类输入长度上限（Unicode 字符），超出部分截断。
const classifyMaxInput = 2000

// classifyLLM 调用 LLM 分类。输出不可解析或调用失败时返回 ok=false。
func (g *SafetyGate) classifyLLM(ctx context.Context, text string) (model.SafetyCategory, bool) {
	out, err := g.generator.Generate(ctx, classifyPrompt+textutil.TruncateString(text, classifyMaxInput), &llm.GenerateOptions{
		Temperature: g.config.Temperature,
		MaxTokens:   8,
	})
	if err != nil {
		logger.Warnw("LLM 安全分类失败，回退规则分类", "error", err)
		return "", false
	}

	label := strings.ToLower(strings.TrimSpace(out))
	switch {
	case strings.Contains(label, "emergency"):
		return model.CategoryEmergencyRequest, true
	case strings.Contains(label, "diagnostic"):
		return model.CategoryDiagnosticRequest, true
	case strings.Contains(label, "treatment"):
		return model.CategoryTreatmentRequest, true
	case strings.Contains(label, "disallowed"):
		return model.CategoryOtherDisallowed, true
	case strings.Contains(label, "allowed"):
		return model.CategoryAllowed, true
	default:
		logger.Warnw("LLM 安全分类输出不可解析，回退规则分类", "output", out)
		return "", false
	}
}

// refusalMessages 固定拒答文案，按类别与语言索引。
var refusalMessages = map[model.SafetyCategory]map[string]string{
	model.CategoryEmergencyRequest: {
		"en": "This may be a medical emergency. Please contact your local emergency services (such as 911 or 120) or go to the nearest emergency department immediately. I cannot provide emergency medical guidance.",
		"zh": "这可能是医疗紧急情况。请立即拨打当地急救电话（如 120 或 911）或前往最近的急诊科。我无法提供急救医疗指导。",
	},
	model.CategoryDiagnosticRequest: {
		"en": "I cannot diagnose medical conditions. Only a qualified healthcare professional who can examine you is able to do that. Please consult a doctor about your symptoms.",
		"zh": "我无法进行医学诊断。只有能够当面检查您的执业医生才能做出诊断。请就您的症状咨询医生。",
	},
	model.CategoryTreatmentRequest: {
		"en": "I cannot recommend treatments or dosages for your personal situation. Medication and treatment decisions must be made with a qualified healthcare professional.",
		"zh": "我无法针对您的个人情况推荐治疗方案或用药剂量。用药与治疗决定必须由执业医生做出。",
	},
	model.CategoryOtherDisallowed: {
		"en": "I cannot help with this request.",
		"zh": "我无法协助这个请求。",
	},
}

// RefusalMessage 返回固定拒答文案。未知语言回退英文。
func (g *SafetyGate) RefusalMessage(category model.SafetyCategory, language string) string {
	byLang, ok := refusalMessages[category]
	if !ok {
		byLang = refusalMessages[model.CategoryOtherDisallowed]
	}
	if msg, ok := byLang[language]; ok {
		return msg
	}
	return byLang["en"]
}
