package metrics

import (
	"sync"

	"go.opentelemetry.io/otel/attribute"
	api "go.opentelemetry.io/otel/metric"
)

type labeledValue struct {
	value  float64
	labels []attribute.KeyValue
}

// metric state read by the registered callback
var (
	currentValues = make(map[api.Observable]interface{})
	labeledValues = make(map[api.Observable]map[string]labeledValue)
	metricsMutex  sync.RWMutex
	callbacks     []api.Registration
	commonLabels  []attribute.KeyValue
)

func getCommonLabels() []attribute.KeyValue {
	return commonLabels
}

// resets all recorded values; instruments stay registered
func resetValues() {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()
	currentValues = make(map[api.Observable]interface{})
	labeledValues = make(map[api.Observable]map[string]labeledValue)
}
