package biz

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medkb-io/medqa/internal/model"
	"github.com/medkb-io/medqa/internal/qa/store"
)

func searchResult(id, source, topic, content string) *store.SearchResult {
	return &store.SearchResult{ChunkID: id, Source: source, Topic: topic, Content: content}
}

func TestAssembleNumberedBlocks(t *testing.T) {
	a := NewContextAssembler(nil)

	out := a.Assemble([]*store.SearchResult{
		searchResult("c1", "WHO guideline", "fever", "Aspirin reduces fever."),
		searchResult("c2", "NHS leaflet", "pain", "Ibuprofen relieves pain."),
	}, nil, "en")

	assert.Contains(t, out, "[1] From WHO guideline - fever:\nAspirin reduces fever.")
	assert.Contains(t, out, "[2] From NHS leaflet - pain:\nIbuprofen relieves pain.")
	assert.Less(t, strings.Index(out, "[1]"), strings.Index(out, "[2]"))
}

func TestAssembleNoGroundingMarker(t *testing.T) {
	a := NewContextAssembler(nil)

	en := a.Assemble(nil, nil, "en")
	assert.Contains(t, en, "No reference material")

	zh := a.Assemble(nil, nil, "zh")
	assert.Contains(t, zh, "未检索到")
}

func TestAssembleBudgetPrefersGrounding(t *testing.T) {
	a := NewContextAssembler(&AssemblerConfig{Budget: 120})

	results := []*store.SearchResult{
		searchResult("c1", "WHO", "fever", strings.Repeat("a", 60)),
		searchResult("c2", "WHO", "fever", strings.Repeat("b", 60)),
	}
	turns := []*model.Turn{
		{Role: model.RoleUser, Content: "previous question"},
	}

	out := a.Assemble(results, turns, "en")

	// 第一块放得下，第二块超出预算被丢弃，历史同样放不下
	assert.Contains(t, out, strings.Repeat("a", 60))
	assert.NotContains(t, out, strings.Repeat("b", 60))
	assert.NotContains(t, out, "previous question")
}

func TestAssembleTurnsNewestAdmittedOldestRendered(t *testing.T) {
	a := NewContextAssembler(&AssemblerConfig{Budget: 130})

	turns := []*model.Turn{
		{Role: model.RoleUser, Content: strings.Repeat("old", 20)},
		{Role: model.RoleUser, Content: "what about children"},
		{Role: model.RoleAssistant, Content: "dosing differs by age"},
	}

	out := a.Assemble([]*store.SearchResult{searchResult("c1", "WHO", "fever", "short")}, turns, "en")

	// 预算内从最新往回纳入：最旧的长轮次被丢弃
	assert.NotContains(t, out, strings.Repeat("old", 20))
	assert.Contains(t, out, "what about children")
	assert.Contains(t, out, "dosing differs by age")

	// 渲染保持时间顺序
	assert.Less(t, strings.Index(out, "what about children"), strings.Index(out, "dosing differs by age"))
	assert.Contains(t, out, "user: what about children")
	assert.Contains(t, out, "assistant: dosing differs by age")
}

func TestAssembleDeterministic(t *testing.T) {
	a := NewContextAssembler(nil)
	results := []*store.SearchResult{searchResult("c1", "WHO", "fever", "Aspirin reduces fever.")}
	turns := []*model.Turn{{Role: model.RoleUser, Content: "hello"}}

	first := a.Assemble(results, turns, "en")
	second := a.Assemble(results, turns, "en")
	assert.Equal(t, first, second)
}

func TestDisclaimerInject(t *testing.T) {
	d := NewDisclaimerInjector()

	en := d.Inject("Aspirin reduces fever.", "en")
	assert.Contains(t, en, "not a substitute for professional medical advice")

	zh := d.Inject("阿司匹林可以退烧。", "zh")
	assert.Contains(t, zh, "不能替代专业医疗建议")

	// 幂等：重复注入不叠加
	require.Equal(t, en, d.Inject(en, "en"))

	// 未知语言回退英文
	fr := d.Inject("Bonjour.", "fr")
	assert.Contains(t, fr, "not a substitute")

	// Text 返回注入的全文
	assert.Contains(t, en, d.Text("en"))
	assert.Contains(t, zh, d.Text("zh"))
	assert.Equal(t, d.Text("en"), d.Text("fr"))
}
