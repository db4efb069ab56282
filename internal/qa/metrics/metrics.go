// Package metrics 提供 medqa 服务的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// QAMetrics 问答服务业务指标。
type QAMetrics struct {
	// 查询指标
	queriesTotal       uint64 // 总查询次数
	queriesFinalized   uint64 // 正常完成次数
	queriesRefusedPre  uint64 // 前置安全拒答次数
	queriesRefusedPost uint64 // 后置安全拒答次数
	queriesErrors      uint64 // 查询失败次数

	// 检索指标
	retrievalTotal         uint64  // 总检索次数
	retrievalDuration      float64 // 检索总耗时（秒）
	retrievalVectorErrors  uint64  // 向量路失败次数
	retrievalKeywordErrors uint64  // 关键词路失败次数
	retrievalDegraded      uint64  // 单路降级次数
	retrievalErrors        uint64  // 双路全失败次数

	// 生成指标
	generationTotal    uint64  // 生成调用次数
	generationDuration float64 // 生成总耗时（秒）
	generationErrors   uint64  // 生成失败次数
	generationRetries  uint64  // 生成重试次数

	// 入库指标
	documentsIngested uint64 // 已入库文档数
	chunksIngested    uint64 // 已入库分块数
	ingestErrors      uint64 // 入库失败次数
	ingestRollbacks   uint64 // 配对写入补偿回滚次数

	startTime  time.Time
	durationMu sync.Mutex
}

// globalQAMetrics 全局指标实例。
var (
	globalQAMetrics *QAMetrics
	qaMetricsOnce   sync.Once
)

// GetQAMetrics 获取全局指标实例。
func GetQAMetrics() *QAMetrics {
	qaMetricsOnce.Do(func() {
		globalQAMetrics = &QAMetrics{
			startTime: time.Now(),
		}
	})
	return globalQAMetrics
}

// QueryOutcome 查询终态。
type QueryOutcome string

const (
	OutcomeFinalized   QueryOutcome = "finalized"
	OutcomeRefusedPre  QueryOutcome = "refused_pre"
	OutcomeRefusedPost QueryOutcome = "refused_post"
	OutcomeFailed      QueryOutcome = "failed"
)

// RecordQuery 记录一次查询终态。
func (m *QAMetrics) RecordQuery(outcome QueryOutcome) {
	atomic.AddUint64(&m.queriesTotal, 1)
	switch outcome {
	case OutcomeFinalized:
		atomic.AddUint64(&m.queriesFinalized, 1)
	case OutcomeRefusedPre:
		atomic.AddUint64(&m.queriesRefusedPre, 1)
	case OutcomeRefusedPost:
		atomic.AddUint64(&m.queriesRefusedPost, 1)
	case OutcomeFailed:
		atomic.AddUint64(&m.queriesErrors, 1)
	}
}

// RecordRetrieval 记录一次混合检索。
func (m *QAMetrics) RecordRetrieval(duration time.Duration, vectorErr, keywordErr bool) {
	atomic.AddUint64(&m.retrievalTotal, 1)

	if vectorErr {
		atomic.AddUint64(&m.retrievalVectorErrors, 1)
	}
	if keywordErr {
		atomic.AddUint64(&m.retrievalKeywordErrors, 1)
	}
	switch {
	case vectorErr && keywordErr:
		atomic.AddUint64(&m.retrievalErrors, 1)
		return
	case vectorErr || keywordErr:
		atomic.AddUint64(&m.retrievalDegraded, 1)
	}

	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordGeneration 记录一次生成调用。
func (m *QAMetrics) RecordGeneration(duration time.Duration, err error) {
	atomic.AddUint64(&m.generationTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.generationErrors, 1)
		return
	}

	m.durationMu.Lock()
	m.generationDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordGenerationRetry 记录生成重试。
func (m *QAMetrics) RecordGenerationRetry() {
	atomic.AddUint64(&m.generationRetries, 1)
}

// RecordIngest 记录入库操作。
func (m *QAMetrics) RecordIngest(documents, chunks int, err error) {
	if err != nil {
		atomic.AddUint64(&m.ingestErrors, 1)
		return
	}
	atomic.AddUint64(&m.documentsIngested, uint64(documents))
	atomic.AddUint64(&m.chunksIngested, uint64(chunks))
}

// RecordIngestRollback 记录配对写入失败后的补偿回滚。
func (m *QAMetrics) RecordIngestRollback() {
	atomic.AddUint64(&m.ingestRollbacks, 1)
}

// counterLine 输出单个 counter 指标。
func counterLine(sb *strings.Builder, prefix, name, help string, value uint64) {
	sb.WriteString(fmt.Sprintf("# HELP %s_%s %s\n", prefix, name, help))
	sb.WriteString(fmt.Sprintf("# TYPE %s_%s counter\n", prefix, name))
	sb.WriteString(fmt.Sprintf("%s_%s %d\n\n", prefix, name, value))
}

// Export 导出 Prometheus 格式指标。
func (m *QAMetrics) Export(namespace, subsystem string) string {
	var sb strings.Builder
	prefix := namespace
	if subsystem != "" {
		prefix = prefix + "_" + subsystem
	}

	counterLine(&sb, prefix, "queries_total", "Total number of queries.", atomic.LoadUint64(&m.queriesTotal))
	counterLine(&sb, prefix, "queries_finalized_total", "Number of finalized queries.", atomic.LoadUint64(&m.queriesFinalized))
	counterLine(&sb, prefix, "queries_refused_pre_total", "Number of queries refused by the pre-generation gate.", atomic.LoadUint64(&m.queriesRefusedPre))
	counterLine(&sb, prefix, "queries_refused_post_total", "Number of answers refused by the post-generation gate.", atomic.LoadUint64(&m.queriesRefusedPost))
	counterLine(&sb, prefix, "queries_errors_total", "Number of failed queries.", atomic.LoadUint64(&m.queriesErrors))

	counterLine(&sb, prefix, "retrieval_total", "Total number of hybrid retrievals.", atomic.LoadUint64(&m.retrievalTotal))
	counterLine(&sb, prefix, "retrieval_vector_errors_total", "Number of vector leg failures.", atomic.LoadUint64(&m.retrievalVectorErrors))
	counterLine(&sb, prefix, "retrieval_keyword_errors_total", "Number of keyword leg failures.", atomic.LoadUint64(&m.retrievalKeywordErrors))
	counterLine(&sb, prefix, "retrieval_degraded_total", "Number of single-leg degraded retrievals.", atomic.LoadUint64(&m.retrievalDegraded))
	counterLine(&sb, prefix, "retrieval_errors_total", "Number of retrievals with both legs failed.", atomic.LoadUint64(&m.retrievalErrors))

	m.durationMu.Lock()
	retrievalDuration := m.retrievalDuration
	generationDuration := m.generationDuration
	m.durationMu.Unlock()

	sb.WriteString(fmt.Sprintf("# HELP %s_retrieval_duration_seconds_total Total retrieval duration.\n", prefix))
	sb.WriteString(fmt.Sprintf("# TYPE %s_retrieval_duration_seconds_total counter\n", prefix))
	sb.WriteString(fmt.Sprintf("%s_retrieval_duration_seconds_total %.6f\n\n", prefix, retrievalDuration))

	counterLine(&sb, prefix, "generation_total", "Total number of generation calls.", atomic.LoadUint64(&m.generationTotal))
	counterLine(&sb, prefix, "generation_errors_total", "Number of generation failures.", atomic.LoadUint64(&m.generationErrors))
	counterLine(&sb, prefix, "generation_retries_total", "Number of generation retries.", atomic.LoadUint64(&m.generationRetries))

	sb.WriteString(fmt.Sprintf("# HELP %s_generation_duration_seconds_total Total generation duration.\n", prefix))
	sb.WriteString(fmt.Sprintf("# TYPE %s_generation_duration_seconds_total counter\n", prefix))
	sb.WriteString(fmt.Sprintf("%s_generation_duration_seconds_total %.6f\n\n", prefix, generationDuration))

	counterLine(&sb, prefix, "documents_ingested_total", "Total documents ingested.", atomic.LoadUint64(&m.documentsIngested))
	counterLine(&sb, prefix, "chunks_ingested_total", "Total chunks ingested.", atomic.LoadUint64(&m.chunksIngested))
	counterLine(&sb, prefix, "ingest_errors_total", "Number of ingestion failures.", atomic.LoadUint64(&m.ingestErrors))
	counterLine(&sb, prefix, "ingest_rollbacks_total", "Number of paired-write compensating rollbacks.", atomic.LoadUint64(&m.ingestRollbacks))

	uptime := time.Since(m.startTime).Seconds()
	sb.WriteString(fmt.Sprintf("# HELP %s_uptime_seconds Service uptime in seconds.\n", prefix))
	sb.WriteString(fmt.Sprintf("# TYPE %s_uptime_seconds gauge\n", prefix))
	sb.WriteString(fmt.Sprintf("%s_uptime_seconds %.2f\n\n", prefix, uptime))

	return sb.String()
}

// Stats 返回当前统计信息（用于 API）。
func (m *QAMetrics) Stats() map[string]interface{} {
	m.durationMu.Lock()
	retrievalDuration := m.retrievalDuration
	generationDuration := m.generationDuration
	m.durationMu.Unlock()

	retrievalTotal := atomic.LoadUint64(&m.retrievalTotal)
	avgRetrievalDuration := 0.0
	if retrievalTotal > 0 {
		avgRetrievalDuration = retrievalDuration / float64(retrievalTotal)
	}

	generationTotal := atomic.LoadUint64(&m.generationTotal)
	avgGenerationDuration := 0.0
	if generationTotal > 0 {
		avgGenerationDuration = generationDuration / float64(generationTotal)
	}

	return map[string]interface{}{
		"queries": map[string]interface{}{
			"total":        atomic.LoadUint64(&m.queriesTotal),
			"finalized":    atomic.LoadUint64(&m.queriesFinalized),
			"refused_pre":  atomic.LoadUint64(&m.queriesRefusedPre),
			"refused_post": atomic.LoadUint64(&m.queriesRefusedPost),
			"errors":       atomic.LoadUint64(&m.queriesErrors),
		},
		"retrieval": map[string]interface{}{
			"total":               retrievalTotal,
			"total_duration_secs": retrievalDuration,
			"avg_duration_secs":   avgRetrievalDuration,
			"vector_errors":       atomic.LoadUint64(&m.retrievalVectorErrors),
			"keyword_errors":      atomic.LoadUint64(&m.retrievalKeywordErrors),
			"degraded":            atomic.LoadUint64(&m.retrievalDegraded),
			"errors":              atomic.LoadUint64(&m.retrievalErrors),
		},
		"generation": map[string]interface{}{
			"total":               generationTotal,
			"total_duration_secs": generationDuration,
			"avg_duration_secs":   avgGenerationDuration,
			"errors":              atomic.LoadUint64(&m.generationErrors),
			"retries":             atomic.LoadUint64(&m.generationRetries),
		},
		"ingestion": map[string]interface{}{
			"documents_ingested": atomic.LoadUint64(&m.documentsIngested),
			"chunks_ingested":    atomic.LoadUint64(&m.chunksIngested),
			"errors":             atomic.LoadUint64(&m.ingestErrors),
			"rollbacks":          atomic.LoadUint64(&m.ingestRollbacks),
		},
		"uptime_seconds": time.Since(m.startTime).Seconds(),
	}
}

// Reset 重置所有指标（仅用于测试）。
func (m *QAMetrics) Reset() {
	atomic.StoreUint64(&m.queriesTotal, 0)
	atomic.StoreUint64(&m.queriesFinalized, 0)
	atomic.StoreUint64(&m.queriesRefusedPre, 0)
	atomic.StoreUint64(&m.queriesRefusedPost, 0)
	atomic.StoreUint64(&m.queriesErrors, 0)
	atomic.StoreUint64(&m.retrievalTotal, 0)
	atomic.StoreUint64(&m.retrievalVectorErrors, 0)
	atomic.StoreUint64(&m.retrievalKeywordErrors, 0)
	atomic.StoreUint64(&m.retrievalDegraded, 0)
	atomic.StoreUint64(&m.retrievalErrors, 0)
	atomic.StoreUint64(&m.generationTotal, 0)
	atomic.StoreUint64(&m.generationErrors, 0)
	atomic.StoreUint64(&m.generationRetries, 0)
	atomic.StoreUint64(&m.documentsIngested, 0)
	atomic.StoreUint64(&m.chunksIngested, 0)
	atomic.StoreUint64(&m.ingestErrors, 0)
	atomic.StoreUint64(&m.ingestRollbacks, 0)

	m.durationMu.Lock()
	m.retrievalDuration = 0
	m.generationDuration = 0
	m.startTime = time.Now()
	m.durationMu.Unlock()
}
