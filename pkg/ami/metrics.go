// Copyright 2025 Esmero
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ami

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsPipeline holds Prometheus metrics for the ingestion pipeline.
type metricsPipeline struct {
	once sync.Once

	// Resolution
	rowsResolved prometheus.Counter
	rowsInvalid  prometheus.Counter
	cycles       prometheus.Counter

	// Queue traffic
	itemsEnqueued prometheus.Counter
	itemsRequeued prometheus.Counter
	itemsDropped  prometheus.Counter

	// Persistence
	recordsCreated prometheus.Counter
	recordsUpdated prometheus.Counter
	renderErrors   prometheus.Counter
	filesResolved  prometheus.Counter
	filesMissing   prometheus.Counter
	actionsApplied prometheus.Counter

	// Durations
	resolveDuration prometheus.Histogram
	recordDuration  prometheus.Histogram
}

var pipeMetrics metricsPipeline

func (m *metricsPipeline) init() {
	m.once.Do(func() {
		m.rowsResolved = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_rows_resolved_total", Help: "Rows surviving reference resolution"})
		m.rowsInvalid = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_rows_invalid_total", Help: "Rows excluded during reference resolution"})
		m.cycles = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_cycles_detected_total", Help: "Parent reference cycles detected"})

		m.itemsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_items_enqueued_total", Help: "Work items placed on a set queue"})
		m.itemsRequeued = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_items_requeued_total", Help: "Record items requeued on missing dependencies"})
		m.itemsDropped = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_items_dropped_total", Help: "Record items dropped after exhausting attempts"})

		m.recordsCreated = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_records_created_total", Help: "Objects created in the target store"})
		m.recordsUpdated = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_records_updated_total", Help: "Objects updated or patched in the target store"})
		m.renderErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_render_errors_total", Help: "Metadata render failures (permanent per row)"})
		m.filesResolved = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_files_resolved_total", Help: "File tokens resolved to identifiers"})
		m.filesMissing = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_files_missing_total", Help: "File tokens that could not be resolved"})
		m.actionsApplied = prometheus.NewCounter(prometheus.CounterOpts{Name: "ami_actions_applied_total", Help: "Action chunks applied to the target store"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
		m.resolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "ami_resolve_seconds", Help: "Duration of source resolution", Buckets: buckets})
		m.recordDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "ami_record_seconds", Help: "Duration of one record ingest", Buckets: buckets})

		prometheus.MustRegister(
			m.rowsResolved, m.rowsInvalid, m.cycles,
			m.itemsEnqueued, m.itemsRequeued, m.itemsDropped,
			m.recordsCreated, m.recordsUpdated, m.renderErrors,
			m.filesResolved, m.filesMissing, m.actionsApplied,
			m.resolveDuration, m.recordDuration,
		)
	})
}

// record helpers - used by the resolver and workers
func recordRowsResolved(n int) { pipeMetrics.init(); pipeMetrics.rowsResolved.Add(float64(n)) }
func recordRowsInvalid(n int)  { pipeMetrics.init(); pipeMetrics.rowsInvalid.Add(float64(n)) }
func recordCycle()             { pipeMetrics.init(); pipeMetrics.cycles.Inc() }
func recordEnqueued(n int)     { pipeMetrics.init(); pipeMetrics.itemsEnqueued.Add(float64(n)) }
func recordRequeued()          { pipeMetrics.init(); pipeMetrics.itemsRequeued.Inc() }
func recordDropped()           { pipeMetrics.init(); pipeMetrics.itemsDropped.Inc() }
func recordCreated()           { pipeMetrics.init(); pipeMetrics.recordsCreated.Inc() }
func recordUpdated()           { pipeMetrics.init(); pipeMetrics.recordsUpdated.Inc() }
func recordRenderError()       { pipeMetrics.init(); pipeMetrics.renderErrors.Inc() }
func recordFileResolved()      { pipeMetrics.init(); pipeMetrics.filesResolved.Inc() }
func recordFileMissing()       { pipeMetrics.init(); pipeMetrics.filesMissing.Inc() }
func recordActionApplied()     { pipeMetrics.init(); pipeMetrics.actionsApplied.Inc() }

func observeResolve(seconds float64) { pipeMetrics.init(); pipeMetrics.resolveDuration.Observe(seconds) }
func observeRecord(seconds float64)  { pipeMetrics.init(); pipeMetrics.recordDuration.Observe(seconds) }
