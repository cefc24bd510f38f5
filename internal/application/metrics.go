package application

import (
	"time"

	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

var _ driven.Metrics = NopMetrics{}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) CycleCompleted(time.Duration, int) {}
func (NopMetrics) AccountSynced(string)              {}
func (NopMetrics) MessagesDelivered(string, int)     {}
func (NopMetrics) PostPublished()                    {}
