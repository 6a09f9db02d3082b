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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/esmero/ami/pkg/batch"
	"github.com/esmero/ami/pkg/queue"
)

// NewConsumer wires the expansion and ingest workers into one batch
// consumer that dispatches on the item kind. A payload that cannot be
// decoded is an unexpected error: the driver records it and leaves the
// item leased for inspection.
func NewConsumer(cfg *SetConfig, store ObjectStore, renderer MetadataRenderer, fetcher FileFetcher, q queue.Queue, logger *slog.Logger) batch.Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	expander := NewExpander(cfg, store, q, logger)
	worker := NewRecordWorker(cfg, store, renderer, fetcher, q, logger)

	return func(ctx context.Context, item *queue.Item) (batch.Disposition, error) {
		wi, err := DecodeItem(item.Payload)
		if err != nil {
			return batch.Done, fmt.Errorf("item %d: %w", item.ID, err)
		}

		switch wi.Kind {
		case KindCsv:
			if _, err := expander.Expand(ctx, wi); err != nil {
				if errors.Is(err, ErrStoreUnavailable) {
					return batch.Suspend, err
				}
				return batch.Done, err
			}
			return batch.Done, nil
		case KindRecord, KindAction:
			return worker.Process(ctx, wi)
		default:
			return batch.Done, fmt.Errorf("item %d: unknown kind %q", item.ID, wi.Kind)
		}
	}
}
