// Copyright 2017 Google Inc.
// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import "github.com/prometheus/client_golang/prometheus"

var (
	poolCapacity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ikepool",
		Subsystem: "address_pool",
		Name:      "size",
		Help:      "Number of addresses in the pool's configured range.",
	}, []string{"pool"})

	poolLeases = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ikepool",
		Subsystem: "address_pool",
		Name:      "leases_allocated",
		Help:      "Number of lease slots currently allocated (the pool may still grow toward size).",
	}, []string{"pool"})

	poolInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ikepool",
		Subsystem: "address_pool",
		Name:      "addresses_in_use",
		Help:      "Number of addresses currently handed out, excluding lingering reusable leases sitting on the free list.",
	}, []string{"pool"})

	allocationRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ikepool",
		Subsystem: "address_pool",
		Name:      "allocation_rejected_total",
		Help:      "Number of Acquire calls that failed, by reason.",
	}, []string{"pool", "reason"})
)

func init() {
	prometheus.MustRegister(poolCapacity, poolLeases, poolInUse, allocationRejected)
}

func (p *Pool) updateStats() {
	poolCapacity.WithLabelValues(p.name).Set(float64(p.size))
	poolLeases.WithLabelValues(p.name).Set(float64(p.nrLeases))
	poolInUse.WithLabelValues(p.name).Set(float64(p.InUse()))
}
