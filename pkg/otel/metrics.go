package otel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Metrics 指标接口
//
// 同名仪表总是返回同一个实例，调用方不需要自己缓存。
type Metrics interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// Counter 单调递增计数器
type Counter interface {
	Add(ctx context.Context, value int64, attrs ...Attr)
}

// Histogram 分布型指标，如耗时和长度
type Histogram interface {
	Record(ctx context.Context, value float64, attrs ...Attr)
}

// Gauge 瞬时值
type Gauge interface {
	Set(ctx context.Context, value float64, attrs ...Attr)
}

// Attr 指标属性
type Attr struct {
	Key   string
	Value any
}

// NewAttr 创建指标属性
func NewAttr(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// InMemoryMetrics 内存指标，供测试和离线命令使用
//
// 每次记录同时累计到指标名总量和"名称+属性"序列上，
// 两者分别通过 Get* 和 Get*With 读取。
type InMemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]int64
	histograms map[string][]float64
	gauges     map[string]float64
}

// NewInMemoryMetrics 创建内存指标
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:   make(map[string]int64),
		histograms: make(map[string][]float64),
		gauges:     make(map[string]float64),
	}
}

// Counter 返回计数器
func (m *InMemoryMetrics) Counter(name string) Counter { return memCounter{m: m, name: name} }

// Histogram 返回直方图
func (m *InMemoryMetrics) Histogram(name string) Histogram { return memHistogram{m: m, name: name} }

// Gauge 返回仪表
func (m *InMemoryMetrics) Gauge(name string) Gauge { return memGauge{m: m, name: name} }

// GetCounterValue 计数器在所有属性上的总量
func (m *InMemoryMetrics) GetCounterValue(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

// GetCounterValueWith 计数器在给定属性组合上的值
func (m *InMemoryMetrics) GetCounterValueWith(name string, attrs ...Attr) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[seriesKey(name, attrs)]
}

// GetGaugeValue 仪表最近一次的值
func (m *InMemoryMetrics) GetGaugeValue(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[name]
}

// GetHistogramValues 直方图记录过的全部值，按记录顺序
func (m *InMemoryMetrics) GetHistogramValues(name string) []float64 {
	return m.histogramValues(name)
}

// GetHistogramValuesWith 直方图在给定属性组合上的值
func (m *InMemoryMetrics) GetHistogramValuesWith(name string, attrs ...Attr) []float64 {
	return m.histogramValues(seriesKey(name, attrs))
}

func (m *InMemoryMetrics) histogramValues(key string) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	values, ok := m.histograms[key]
	if !ok {
		return nil
	}
	return append([]float64(nil), values...)
}

// seriesKey 把属性按键排序后拼到名称上
func seriesKey(name string, attrs []Attr) string {
	if len(attrs) == 0 {
		return name
	}
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = fmt.Sprintf("%s=%v", a.Key, a.Value)
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

type memCounter struct {
	m    *InMemoryMetrics
	name string
}

func (c memCounter) Add(_ context.Context, value int64, attrs ...Attr) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.counters[c.name] += value
	if len(attrs) > 0 {
		c.m.counters[seriesKey(c.name, attrs)] += value
	}
}

type memHistogram struct {
	m    *InMemoryMetrics
	name string
}

func (h memHistogram) Record(_ context.Context, value float64, attrs ...Attr) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.m.histograms[h.name] = append(h.m.histograms[h.name], value)
	if len(attrs) > 0 {
		key := seriesKey(h.name, attrs)
		h.m.histograms[key] = append(h.m.histograms[key], value)
	}
}

type memGauge struct {
	m    *InMemoryMetrics
	name string
}

func (g memGauge) Set(_ context.Context, value float64, attrs ...Attr) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	g.m.gauges[g.name] = value
	if len(attrs) > 0 {
		g.m.gauges[seriesKey(g.name, attrs)] = value
	}
}

// NoopMetrics 丢弃所有记录
type NoopMetrics struct{}

// NewNoopMetrics 创建空实现指标
func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (*NoopMetrics) Counter(string) Counter     { return noopInstrument{} }
func (*NoopMetrics) Histogram(string) Histogram { return noopInstrument{} }
func (*NoopMetrics) Gauge(string) Gauge         { return noopInstrument{} }

// noopInstrument 同时满足三种仪表接口
type noopInstrument struct{}

func (noopInstrument) Add(context.Context, int64, ...Attr)      {}
func (noopInstrument) Record(context.Context, float64, ...Attr) {}
func (noopInstrument) Set(context.Context, float64, ...Attr)    {}

var (
	_ Metrics   = (*InMemoryMetrics)(nil)
	_ Metrics   = (*NoopMetrics)(nil)
	_ Counter   = noopInstrument{}
	_ Histogram = noopInstrument{}
	_ Gauge     = noopInstrument{}
)
