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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValues(t *testing.T, c prometheus.Collector) map[string]float64 {
	t.Helper()
	registry := prometheus.NewPedanticRegistry()
	if err := registry.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "function" {
					name += "{" + lp.GetValue() + "}"
				}
			}
			switch {
			case m.GetCounter() != nil:
				values[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[name] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				values[name] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return values
}

func TestClientCollector(t *testing.T) {
	client, err := NewTCPClient("127.0.0.1:1502")
	if err != nil {
		t.Fatalf("NewTCPClient failed: %v", err)
	}
	m := client.Metrics()
	m.RequestsTotal.Add(3)
	m.RequestsSuccess.Add(2)
	m.RequestsErrors.Add(1)
	m.Timeouts.Add(1)
	m.Latency.Observe(3 * time.Millisecond)
	m.Latency.Observe(7 * time.Millisecond)
	m.ForFunction(FuncReadCoils).Requests.Add(3)
	m.ForFunction(FuncReadCoils).Errors.Add(1)

	values := gatherValues(t, NewClientCollector(client))

	tests := []struct {
		name   string
		expect float64
	}{
		{"modbus_client_requests_total", 3},
		{"modbus_client_requests_success_total", 2},
		{"modbus_client_requests_errors_total", 1},
		{"modbus_client_timeouts_total", 1},
		{"modbus_client_reconnections_total", 0},
		{"modbus_client_active_connections", 0},
		{"modbus_client_request_duration_seconds", 2},
		{"modbus_client_function_requests_total{ReadCoils}", 3},
		{"modbus_client_function_errors_total{ReadCoils}", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := values[tt.name]
			if !ok {
				t.Fatalf("%s not exported", tt.name)
			}
			if got != tt.expect {
				t.Errorf("%s: expected %g, got %g", tt.name, tt.expect, got)
			}
		})
	}
	if _, ok := values["modbus_client_exceptions_total"]; ok {
		t.Error("client collector must not export server metrics")
	}
}

func TestServerCollector(t *testing.T) {
	server := newTestServer(t, WithBackend(BackendRTU))
	m := server.Metrics()
	m.RequestsTotal.Add(5)
	m.Exceptions.Add(2)
	m.Ignored.Add(4)
	m.TotalConns.Add(1)

	values := gatherValues(t, NewServerCollector(server))

	tests := []struct {
		name   string
		expect float64
	}{
		{"modbus_server_requests_total", 5},
		{"modbus_server_exceptions_total", 2},
		{"modbus_server_ignored_total", 4},
		{"modbus_server_connections_total", 1},
	}
	for _, tt := range tests {
		if got := values[tt.name]; got != tt.expect {
			t.Errorf("%s: expected %g, got %g", tt.name, tt.expect, got)
		}
	}
	if _, ok := values["modbus_client_requests_total"]; ok {
		t.Error("server collector must not export client metrics")
	}
}
