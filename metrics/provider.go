package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricProvider func() []prometheus.Metric

type collector []metricProvider

func (c collector) Describe(dc chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, dc)
}

func (c collector) Collect(mc chan<- prometheus.Metric) {
	for _, mp := range c {
		if mp == nil {
			continue
		}
		for _, m := range mp() {
			mc <- m
		}
	}
}
