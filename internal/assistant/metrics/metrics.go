// Package metrics 提供助手的业务指标收集。
//
// Collector 由服务启动时创建并注入到摄取、检索与会话组件，
// 通过 /metrics 以 Prometheus 文本格式导出。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// TurnOutcome 一轮对话的结果。
type TurnOutcome string

// 对话结果。
const (
	TurnSuccess   TurnOutcome = "success"
	TurnFailed    TurnOutcome = "failed"
	TurnDiscarded TurnOutcome = "discarded"
)

// Collector 助手业务指标。
type Collector struct {
	// 摄取指标
	documentsIngested atomic.Uint64
	documentsSkipped  atomic.Uint64
	documentsFailed   atomic.Uint64
	chunksCreated     atomic.Uint64
	ingestRuns        atomic.Uint64

	// 检索指标
	retrievals      atomic.Uint64
	retrievalEmpty  atomic.Uint64
	retrievalErrors atomic.Uint64

	// 对话指标
	turnsSuccess   atomic.Uint64
	turnsFailed    atomic.Uint64
	turnsDiscarded atomic.Uint64
	tokensUsed     atomic.Uint64
	providerErrors atomic.Uint64

	durationMu        sync.Mutex
	retrievalDuration float64
	generateDuration  float64

	startTime time.Time
}

// NewCollector 创建指标收集器。
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// RecordIngestion 记录一次批量摄取的结果。
func (c *Collector) RecordIngestion(ingested, skipped, failed, chunks int) {
	c.ingestRuns.Add(1)
	c.documentsIngested.Add(uint64(ingested))
	c.documentsSkipped.Add(uint64(skipped))
	c.documentsFailed.Add(uint64(failed))
	c.chunksCreated.Add(uint64(chunks))
}

// RecordRetrieval 记录一次检索。
func (c *Collector) RecordRetrieval(d time.Duration, hits int, err error) {
	c.retrievals.Add(1)
	if err != nil {
		c.retrievalErrors.Add(1)
		return
	}
	if hits == 0 {
		c.retrievalEmpty.Add(1)
	}
	c.durationMu.Lock()
	c.retrievalDuration += d.Seconds()
	c.durationMu.Unlock()
}

// RecordGeneration 记录一次生成调用。
func (c *Collector) RecordGeneration(d time.Duration, tokens int, err error) {
	if err != nil {
		c.providerErrors.Add(1)
		return
	}
	if tokens > 0 {
		c.tokensUsed.Add(uint64(tokens))
	}
	c.durationMu.Lock()
	c.generateDuration += d.Seconds()
	c.durationMu.Unlock()
}

// RecordTurn 记录一轮对话的结果。
func (c *Collector) RecordTurn(outcome TurnOutcome) {
	switch outcome {
	case TurnSuccess:
		c.turnsSuccess.Add(1)
	case TurnFailed:
		c.turnsFailed.Add(1)
	case TurnDiscarded:
		c.turnsDiscarded.Add(1)
	}
}

// Snapshot 指标快照。
type Snapshot struct {
	DocumentsIngested uint64  `json:"documents_ingested"`
	DocumentsSkipped  uint64  `json:"documents_skipped"`
	DocumentsFailed   uint64  `json:"documents_failed"`
	ChunksCreated     uint64  `json:"chunks_created"`
	IngestRuns        uint64  `json:"ingest_runs"`
	Retrievals        uint64  `json:"retrievals"`
	RetrievalEmpty    uint64  `json:"retrieval_empty"`
	RetrievalErrors   uint64  `json:"retrieval_errors"`
	RetrievalSeconds  float64 `json:"retrieval_seconds"`
	TurnsSuccess      uint64  `json:"turns_success"`
	TurnsFailed       uint64  `json:"turns_failed"`
	TurnsDiscarded    uint64  `json:"turns_discarded"`
	TokensUsed        uint64  `json:"tokens_used"`
	ProviderErrors    uint64  `json:"provider_errors"`
	GenerateSeconds   float64 `json:"generate_seconds"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Snapshot 返回当前指标。
func (c *Collector) Snapshot() Snapshot {
	c.durationMu.Lock()
	retrieval, generate := c.retrievalDuration, c.generateDuration
	c.durationMu.Unlock()

	return Snapshot{
		DocumentsIngested: c.documentsIngested.Load(),
		DocumentsSkipped:  c.documentsSkipped.Load(),
		DocumentsFailed:   c.documentsFailed.Load(),
		ChunksCreated:     c.chunksCreated.Load(),
		IngestRuns:        c.ingestRuns.Load(),
		Retrievals:        c.retrievals.Load(),
		RetrievalEmpty:    c.retrievalEmpty.Load(),
		RetrievalErrors:   c.retrievalErrors.Load(),
		RetrievalSeconds:  retrieval,
		TurnsSuccess:      c.turnsSuccess.Load(),
		TurnsFailed:       c.turnsFailed.Load(),
		TurnsDiscarded:    c.turnsDiscarded.Load(),
		TokensUsed:        c.tokensUsed.Load(),
		ProviderErrors:    c.providerErrors.Load(),
		GenerateSeconds:   generate,
		UptimeSeconds:     time.Since(c.startTime).Seconds(),
	}
}

type metricDesc struct {
	name  string
	help  string
	typ   string
	value string
}

// Export 导出 Prometheus 文本格式指标。
func (c *Collector) Export(namespace, subsystem string) string {
	prefix := namespace
	if subsystem != "" {
		prefix += "_" + subsystem
	}
	s := c.Snapshot()

	counter := func(name, help string, v uint64) metricDesc {
		return metricDesc{name, help, "counter", fmt.Sprintf("%d", v)}
	}
	seconds := func(name, help string, v float64) metricDesc {
		return metricDesc{name, help, "counter", fmt.Sprintf("%.6f", v)}
	}

	descs := []metricDesc{
		counter("ingest_runs_total", "Total number of ingestion runs.", s.IngestRuns),
		counter("documents_ingested_total", "Documents indexed or re-indexed.", s.DocumentsIngested),
		counter("documents_skipped_total", "Documents skipped because nothing changed.", s.DocumentsSkipped),
		counter("documents_failed_total", "Documents that failed to ingest.", s.DocumentsFailed),
		counter("chunks_created_total", "Chunks written by ingestion.", s.ChunksCreated),
		counter("retrieval_total", "Total number of retrievals.", s.Retrievals),
		counter("retrieval_empty_total", "Retrievals without any hit above the threshold.", s.RetrievalEmpty),
		counter("retrieval_errors_total", "Retrievals that failed.", s.RetrievalErrors),
		seconds("retrieval_duration_seconds_total", "Total retrieval duration.", s.RetrievalSeconds),
		counter("chat_turns_success_total", "Chat turns answered.", s.TurnsSuccess),
		counter("chat_turns_failed_total", "Chat turns that stored an error message.", s.TurnsFailed),
		counter("chat_turns_discarded_total", "Chat turns cancelled by the caller.", s.TurnsDiscarded),
		counter("chat_tokens_total", "Tokens billed by the chat provider.", s.TokensUsed),
		counter("provider_errors_total", "Chat provider errors and timeouts.", s.ProviderErrors),
		seconds("generation_duration_seconds_total", "Total successful generation duration.", s.GenerateSeconds),
		{"uptime_seconds", "Service uptime in seconds.", "gauge", fmt.Sprintf("%.0f", s.UptimeSeconds)},
	}

	var sb strings.Builder
	for i, d := range descs {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n", prefix, d.name, d.help)
		fmt.Fprintf(&sb, "# TYPE %s_%s %s\n", prefix, d.name, d.typ)
		fmt.Fprintf(&sb, "%s_%s %s\n", prefix, d.name, d.value)
	}
	return sb.String()
}
