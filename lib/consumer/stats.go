/*
 * mpcoord
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package consumer

import (
	"sort"

	"github.com/gravitational/trace"
	"github.com/montanaflynn/stats"

	"github.com/gravitational/mpcoord/lib/client"
)

// Aggregate computes the consumer-facing statistics over the per-provider
// values a query computation revealed.
func Aggregate(values []float64) (*client.AggregateStatistics, error) {
	if len(values) == 0 {
		return nil, trace.BadParameter("no values to aggregate")
	}
	max, err := stats.Max(values)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	mean, err := stats.Mean(values)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	median, err := stats.Median(values)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	gini, err := giniCoefficient(values, mean)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &client.AggregateStatistics{
		NumDataProviders: len(values),
		Max:              max,
		Mean:             mean,
		Median:           median,
		GiniCoefficient:  gini,
	}, nil
}

// giniCoefficient computes the Gini coefficient of the values:
// sum_i((2i-n-1)*x_i) / (n^2 * mean) over the ascending-sorted values.
func giniCoefficient(values []float64, mean float64) (float64, error) {
	if mean == 0 {
		// all-zero inputs are perfectly equal
		return 0, nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	var sum float64
	for i, v := range sorted {
		sum += (2*float64(i+1) - n - 1) * v
	}
	gini := sum / (n * n * mean)
	if gini < 0 {
		return 0, trace.BadParameter("negative gini coefficient %v, values must be non-negative", gini)
	}
	return gini, nil
}
