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

// Package batch drives a set's work queue to completion.
//
// A Driver repeatedly claims one item, hands it to the consumer
// callback, and applies the callback's outcome: Done deletes the item,
// Requeue releases it for a later tick, Suspend aborts the whole run,
// and an unexpected error leaves the item leased in place for manual
// inspection. Progress (monotone max, processed count, errors, finished
// fraction) survives process restarts through a per-set JSON run-state
// file written atomically.
//
// Any number of processes may tick the same queue concurrently; the
// queue's item lease is the only serialization point.
package batch
