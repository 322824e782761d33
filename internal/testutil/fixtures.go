// Package testutil 提供测试共用的知识库、模块目录与协作者替身
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/module"
	"github.com/easyops/contextengine/pkg/retrieval"
	"github.com/easyops/contextengine/pkg/session"
)

// 常用主题
const (
	TopicHours     = "hours"
	TopicPackages  = "packages"
	TopicRitual    = "ritual"
	TopicAgePolicy = "age_policy"
	TopicTransport = "transport"
	TopicDining    = "dining"
)

// Fragments 返回一组中英（冰岛语）片段
func Fragments() []*knowledge.Fragment {
	specs := []knowledge.FragmentSpec{
		{ID: "hours-en", Language: knowledge.LanguageEnglish, TopicTags: []string{TopicHours}, Body: "Open daily 09:00 to 22:00. Last entry one hour before closing.", PriorityHint: 8},
		{ID: "hours-is", Language: knowledge.LanguageIcelandic, TopicTags: []string{TopicHours}, Body: "Opið alla daga 09:00 til 22:00.", PriorityHint: 8},
		{ID: "packages-en", Language: knowledge.LanguageEnglish, TopicTags: []string{TopicPackages}, Body: "Classic: entry and towel. Premium: robe, drink and the ritual.", PriorityHint: 6},
		{ID: "packages-is", Language: knowledge.LanguageIcelandic, TopicTags: []string{TopicPackages}, Body: "Classic: aðgangur og handklæði. Premium: sloppur, drykkur og ritúal.", PriorityHint: 6},
		{ID: "ritual-en", Language: knowledge.LanguageEnglish, TopicTags: []string{TopicRitual}, Body: "The seven-step ritual takes about 45 minutes.", PriorityHint: 5},
		{ID: "ritual-is", Language: knowledge.LanguageIcelandic, TopicTags: []string{TopicRitual}, Body: "Sjö skrefa ritúalið tekur um 45 mínútur.", PriorityHint: 5},
		{ID: "age-en", Language: knowledge.LanguageEnglish, TopicTags: []string{TopicAgePolicy}, Body: "Children aged 12 to 14 must be accompanied by an adult.", PriorityHint: 9},
		{ID: "age-is", Language: knowledge.LanguageIcelandic, TopicTags: []string{TopicAgePolicy}, Body: "Börn 12 til 14 ára þurfa fylgd fullorðinna.", PriorityHint: 9},
		{ID: "shuttle-en", Language: knowledge.LanguageEnglish, TopicTags: []string{TopicTransport}, TriggerTerms: []string{"shuttle"}, Body: "A shuttle bus leaves the city centre every hour.", PriorityHint: 4},
		{ID: "dining-en", Language: knowledge.LanguageEnglish, TopicTags: []string{TopicDining}, Body: "The lava restaurant serves Icelandic seafood until 21:00.", PriorityHint: 3},
	}

	out := make([]*knowledge.Fragment, len(specs))
	for i, s := range specs {
		out[i] = knowledge.NewFragment(s)
	}
	return out
}

// Rules 返回主题规则表
func Rules() []knowledge.TopicRule {
	return []knowledge.TopicRule{
		{Topic: TopicHours, Conditions: []knowledge.Condition{knowledge.AnyOf("close", "open", "hours")}},
		{Topic: TopicHours, Languages: []knowledge.Language{knowledge.LanguageIcelandic}, Conditions: []knowledge.Condition{knowledge.AnyOf("loka", "opið")}},
		{Topic: TopicPackages, Conditions: []knowledge.Condition{knowledge.AnyOf("price", "package", "verð", "pakk")}},
		{Topic: TopicRitual, Conditions: []knowledge.Condition{knowledge.AnyOf("ritual", "ritúal")}},
		{Topic: TopicAgePolicy, Conditions: []knowledge.Condition{knowledge.AllOf("age", "12"), knowledge.AllOf("aldur", "12")}},
		{Topic: TopicDining, Conditions: []knowledge.Condition{knowledge.AnyOf("restaurant", "dinner")}},
	}
}

// Enrichments 返回跨主题补充规则
func Enrichments() []knowledge.EnrichmentRule {
	return []knowledge.EnrichmentRule{
		{Topic: TopicPackages, When: knowledge.AnyOf("premium", "robe"), Dependent: TopicRitual},
	}
}

// Index 构建测试知识索引
func Index(t testing.TB) *knowledge.Index {
	t.Helper()
	idx, err := knowledge.NewIndex(Fragments(), Rules(), Enrichments())
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return idx
}

// Descriptors 返回测试模块目录（注册顺序即切片顺序）
func Descriptors() []*module.Descriptor {
	both := func(en, is string) map[knowledge.Language]string {
		return map[knowledge.Language]string{knowledge.LanguageEnglish: en, knowledge.LanguageIcelandic: is}
	}
	return []*module.Descriptor{
		{
			ID: "formatting", Priority: module.PriorityHigh, Category: module.CategoryFormatting,
			LanguageGate: module.Always(), Inclusion: module.Always(),
			Bodies: both("Answer in short plain sentences.", "Svaraðu í stuttum setningum."),
		},
		{
			ID: "identity", Priority: module.PriorityCritical, Category: module.CategoryFoundation,
			LanguageGate: module.Always(), Inclusion: module.Always(),
			Bodies: both("You are the lagoon guest assistant.", "Þú ert aðstoðarmaður gesta lónsins."),
		},
		{
			ID: "icelandic-style", Priority: module.PriorityHigh, Category: module.CategoryLanguage,
			LanguageGate: module.LanguageIn(knowledge.LanguageIcelandic), Inclusion: module.Always(),
			Bodies: map[knowledge.Language]string{knowledge.LanguageIcelandic: "Svaraðu alltaf á íslensku."},
		},
		{
			ID: "english-upsell", Priority: module.PriorityLow, Category: module.CategoryServices,
			LanguageGate: module.LanguageIn(knowledge.LanguageEnglish), Inclusion: module.TopicsAny(TopicPackages),
			Bodies: map[knowledge.Language]string{knowledge.LanguageEnglish: "Mention that booking online is cheaper."},
		},
		{
			ID: "seasonal-hours", Priority: module.PriorityHigh, Category: module.CategorySeasonal,
			LanguageGate: module.Always(), Inclusion: module.TopicsAny(TopicHours),
			Bodies: both("State which season's hours apply today.", "Taktu fram hvaða árstíðartími gildir."),
		},
		{
			ID: "sales", Priority: module.PriorityMedium, Category: module.CategoryServices,
			LanguageGate: module.Always(), Inclusion: module.TopicsAny(TopicPackages, TopicRitual),
			Bodies: both("Compare packages before recommending one.", "Berðu saman pakka áður en þú mælir með einum."),
		},
		{
			ID: "age-rules", Priority: module.PriorityCritical, Category: module.CategoryPolicies,
			LanguageGate: module.Always(), Inclusion: module.TopicsAny(TopicAgePolicy),
			Bodies: both("Age limits are strict.", "Aldurstakmörk eru ströng."),
		},
	}
}

// Registry 构建测试模块注册表
func Registry(t testing.TB) *module.Registry {
	t.Helper()
	r, err := module.NewRegistry(Descriptors())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return r
}

// FakeSearcher 可编程的相似度检索替身
type FakeSearcher struct {
	SearchFunc func(ctx context.Context, text string, lang knowledge.Language, k int, minScore float64) ([]retrieval.Match, error)

	mu    sync.Mutex
	calls int
}

// SimilaritySearch 实现 retrieval.SimilaritySearcher
func (f *FakeSearcher) SimilaritySearch(ctx context.Context, text string, lang knowledge.Language, k int, minScore float64) ([]retrieval.Match, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.SearchFunc == nil {
		return nil, nil
	}
	return f.SearchFunc(ctx, text, lang, k, minScore)
}

// Calls 返回调用次数
func (f *FakeSearcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// BlockingSearcher 一直阻塞到上下文结束的检索替身，用于超时场景
func BlockingSearcher() *FakeSearcher {
	return &FakeSearcher{
		SearchFunc: func(ctx context.Context, _ string, _ knowledge.Language, _ int, _ float64) ([]retrieval.Match, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

// FakeSessionStore 可编程的会话存储替身
type FakeSessionStore struct {
	GetFunc     func(ctx context.Context, sessionID string) (session.Context, error)
	ProposeFunc func(ctx context.Context, sessionID string, update session.Update) error

	mu       sync.Mutex
	proposed []session.Update
}

// Get 实现 session.Store
func (f *FakeSessionStore) Get(ctx context.Context, sessionID string) (session.Context, error) {
	if f.GetFunc == nil {
		return session.Context{SessionID: sessionID}, nil
	}
	return f.GetFunc(ctx, sessionID)
}

// Propose 实现 session.Store
func (f *FakeSessionStore) Propose(ctx context.Context, sessionID string, update session.Update) error {
	f.mu.Lock()
	f.proposed = append(f.proposed, update)
	f.mu.Unlock()
	if f.ProposeFunc == nil {
		return nil
	}
	return f.ProposeFunc(ctx, sessionID, update)
}

// Close 实现 session.Store
func (f *FakeSessionStore) Close() error { return nil }

// Proposed 返回收到的更新
func (f *FakeSessionStore) Proposed() []session.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.Update(nil), f.proposed...)
}

var (
	_ retrieval.SimilaritySearcher = (*FakeSearcher)(nil)
	_ session.Store                = (*FakeSessionStore)(nil)
)
