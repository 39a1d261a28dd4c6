// 包 rag 提供知识库检索能力：基于关键词打分的基础检索器，
// 以及叠加 Redis 缓存的装饰器。检索结果作为文本片段注入提示词。
package rag

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/store"
)

// Retriever 返回与查询相关的文本片段，顺序只承诺按相关性
type Retriever interface {
	Retrieve(ctx context.Context, agentID, query string) ([]string, error)
}

// KeywordRetriever 对代理的知识库文档做关键词重合打分。
// 标题与标签命中的权重高于正文。
type KeywordRetriever struct {
	store  *store.Store
	limit  int
	logger *zap.Logger
}

// NewKeywordRetriever 创建关键词检索器，limit 为返回片段数上限
func NewKeywordRetriever(st *store.Store, limit int, logger *zap.Logger) *KeywordRetriever {
	if limit <= 0 {
		limit = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordRetriever{
		store:  st,
		limit:  limit,
		logger: logger.With(zap.String("component", "retriever")),
	}
}

type scoredDoc struct {
	content string
	score   int
}

// Retrieve 返回按相关性降序的片段，无命中时返回空切片
func (r *KeywordRetriever) Retrieve(ctx context.Context, agentID, query string) ([]string, error) {
	docs, err := r.store.ListKnowledgeDocuments(ctx, agentID)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	scored := make([]scoredDoc, 0, len(docs))
	for _, doc := range docs {
		score := scoreDocument(&doc, terms)
		if score > 0 {
			scored = append(scored, scoredDoc{content: doc.Content, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if len(scored) > r.limit {
		scored = scored[:r.limit]
	}
	snippets := make([]string, len(scored))
	for i, s := range scored {
		snippets[i] = s.content
	}

	r.logger.Debug("knowledge retrieval",
		zap.String("agent_id", agentID),
		zap.Int("terms", len(terms)),
		zap.Int("matches", len(snippets)))
	return snippets, nil
}

// queryTerms 切分查询为小写词项，丢弃过短的停用片段
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !isWordRune(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

func isWordRune(r rune) bool {
	return r == '-' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		r > 127 // 保留重音字符
}

// scoreDocument 计算词项重合得分，标题与标签命中权重为 3
func scoreDocument(doc *store.KnowledgeDocument, terms []string) int {
	title := strings.ToLower(doc.Title)
	content := strings.ToLower(doc.Content)
	tags := strings.ToLower(strings.Join(doc.Tags, " "))

	score := 0
	for _, term := range terms {
		if strings.Contains(title, term) {
			score += 3
		}
		if strings.Contains(tags, term) {
			score += 3
		}
		score += strings.Count(content, term)
	}
	return score
}
