// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "modbus"

// Collector exports client or server metrics to Prometheus. Values are
// read from the atomic counters at scrape time.
type Collector struct {
	client *Metrics
	server *ServerMetrics

	requests    *prometheus.Desc
	successes   *prometheus.Desc
	errors      *prometheus.Desc
	exceptions  *prometheus.Desc
	ignored     *prometheus.Desc
	timeouts    *prometheus.Desc
	reconnects  *prometheus.Desc
	activeConns *prometheus.Desc
	totalConns  *prometheus.Desc
	latency     *prometheus.Desc
	funcReqs    *prometheus.Desc
	funcErrors  *prometheus.Desc
}

func newCollector(subsystem string, backend Backend) *Collector {
	labels := prometheus.Labels{"backend": backend.String()}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, subsystem, name), help, variable, labels)
	}
	return &Collector{
		requests:    desc("requests_total", "Requests processed."),
		successes:   desc("requests_success_total", "Requests completed without error."),
		errors:      desc("requests_errors_total", "Requests that failed."),
		exceptions:  desc("exceptions_total", "Exception responses sent."),
		ignored:     desc("ignored_total", "RTU frames addressed to other units."),
		timeouts:    desc("timeouts_total", "Requests that timed out."),
		reconnects:  desc("reconnections_total", "Link recoveries performed."),
		activeConns: desc("active_connections", "Open connections."),
		totalConns:  desc("connections_total", "Connections accepted."),
		latency:     desc("request_duration_seconds", "Round trip time of successful requests."),
		funcReqs:    desc("function_requests_total", "Requests per function code.", "function"),
		funcErrors:  desc("function_errors_total", "Failed requests per function code.", "function"),
	}
}

// NewClientCollector returns a Collector for c.
func NewClientCollector(c *Client) *Collector {
	col := newCollector("client", c.Backend())
	col.client = c.Metrics()
	return col
}

// NewServerCollector returns a Collector for s.
func NewServerCollector(s *Server) *Collector {
	col := newCollector("server", s.Backend())
	col.server = s.Metrics()
	return col
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c.client != nil {
		for _, d := range []*prometheus.Desc{
			c.requests, c.successes, c.errors, c.timeouts, c.reconnects,
			c.activeConns, c.latency, c.funcReqs, c.funcErrors,
		} {
			ch <- d
		}
	}
	if c.server != nil {
		for _, d := range []*prometheus.Desc{
			c.requests, c.successes, c.errors, c.exceptions, c.ignored,
			c.activeConns, c.totalConns,
		} {
			ch <- d
		}
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v *Counter, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v.Value()), labels...)
	}
	gauge := func(d *prometheus.Desc, v *Counter) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v.Value()))
	}

	if m := c.client; m != nil {
		counter(c.requests, &m.RequestsTotal)
		counter(c.successes, &m.RequestsSuccess)
		counter(c.errors, &m.RequestsErrors)
		counter(c.timeouts, &m.Timeouts)
		counter(c.reconnects, &m.Reconnections)
		gauge(c.activeConns, &m.ActiveConns)

		buckets, sum, count := m.Latency.snapshot()
		ch <- prometheus.MustNewConstHistogram(c.latency, count, sum, buckets)

		m.funcMetrics.Range(func(key, value interface{}) bool {
			fc := key.(FunctionCode)
			fm := value.(*FunctionMetrics)
			counter(c.funcReqs, &fm.Requests, fc.String())
			counter(c.funcErrors, &fm.Errors, fc.String())
			return true
		})
	}

	if m := c.server; m != nil {
		counter(c.requests, &m.RequestsTotal)
		counter(c.successes, &m.RequestsSuccess)
		counter(c.errors, &m.RequestsErrors)
		counter(c.exceptions, &m.Exceptions)
		counter(c.ignored, &m.Ignored)
		gauge(c.activeConns, &m.ActiveConns)
		counter(c.totalConns, &m.TotalConns)
	}
}
