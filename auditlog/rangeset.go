// Copyright (C) 2025 the provhub authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package auditlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Range is an inclusive interval of event IDs.
type Range struct {
	Low  int64
	High int64
}

// SortedRangeSet is an ordered set of non-overlapping ID ranges. A log's
// acknowledged range can have gaps, so descriptor bookkeeping needs real
// range arithmetic instead of a plain high-water mark.
type SortedRangeSet struct {
	ranges []Range
}

func NewSortedRangeSet() *SortedRangeSet {
	return &SortedRangeSet{}
}

// ParseRangeSet parses the wire form "1-5,8,10-12".
func ParseRangeSet(s string) (*SortedRangeSet, error) {
	set := NewSortedRangeSet()
	s = strings.TrimSpace(s)
	if s == "" {
		return set, nil
	}
	for _, part := range strings.Split(s, ",") {
		bounds := strings.SplitN(part, "-", 2)
		low, err := strconv.ParseInt(strings.TrimSpace(bounds[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed range %q: %w", part, err)
		}
		high := low
		if len(bounds) == 2 {
			high, err = strconv.ParseInt(strings.TrimSpace(bounds[1]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed range %q: %w", part, err)
			}
		}
		if high < low {
			return nil, fmt.Errorf("malformed range %q: high below low", part)
		}
		set.ranges = append(set.ranges, Range{Low: low, High: high})
	}
	set.normalize()
	return set, nil
}

func (s *SortedRangeSet) String() string {
	parts := make([]string, 0, len(s.ranges))
	for _, r := range s.ranges {
		if r.Low == r.High {
			parts = append(parts, strconv.FormatInt(r.Low, 10))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", r.Low, r.High))
		}
	}
	return strings.Join(parts, ",")
}

// MarshalJSON encodes the set in its wire form, e.g. "1-5,8,10-12".
func (s *SortedRangeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SortedRangeSet) UnmarshalJSON(data []byte) error {
	var wire string
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	parsed, err := ParseRangeSet(wire)
	if err != nil {
		return err
	}
	s.ranges = parsed.ranges
	return nil
}

// Add inserts a single ID, merging ranges as needed.
func (s *SortedRangeSet) Add(id int64) {
	s.ranges = append(s.ranges, Range{Low: id, High: id})
	s.normalize()
}

func (s *SortedRangeSet) Contains(id int64) bool {
	for _, r := range s.ranges {
		if id >= r.Low && id <= r.High {
			return true
		}
		if r.Low > id {
			break
		}
	}
	return false
}

// IsEmpty reports whether the set covers no IDs.
func (s *SortedRangeSet) IsEmpty() bool {
	return len(s.ranges) == 0
}

// Ranges returns a copy of the normalized ranges in ascending order.
func (s *SortedRangeSet) Ranges() []Range {
	res := make([]Range, len(s.ranges))
	copy(res, s.ranges)
	return res
}

// DiffDest returns the IDs present in dest but not in the receiver: the
// asymmetric subtraction dest minus s. IDs only the receiver has do not
// appear in the result.
func (s *SortedRangeSet) DiffDest(dest *SortedRangeSet) *SortedRangeSet {
	result := NewSortedRangeSet()
	for _, d := range dest.ranges {
		remaining := []Range{d}
		for _, own := range s.ranges {
			var next []Range
			for _, r := range remaining {
				next = append(next, subtract(r, own)...)
			}
			remaining = next
		}
		result.ranges = append(result.ranges, remaining...)
	}
	result.normalize()
	return result
}

// subtract removes the overlap of cut from r, yielding 0, 1 or 2 ranges.
func subtract(r, cut Range) []Range {
	if cut.High < r.Low || cut.Low > r.High {
		return []Range{r}
	}
	var res []Range
	if cut.Low > r.Low {
		res = append(res, Range{Low: r.Low, High: cut.Low - 1})
	}
	if cut.High < r.High {
		res = append(res, Range{Low: cut.High + 1, High: r.High})
	}
	return res
}

func (s *SortedRangeSet) normalize() {
	if len(s.ranges) == 0 {
		return
	}
	sort.Slice(s.ranges, func(i, j int) bool { return s.ranges[i].Low < s.ranges[j].Low })
	merged := s.ranges[:1]
	for _, r := range s.ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Low <= last.High+1 {
			if r.High > last.High {
				last.High = r.High
			}
			continue
		}
		merged = append(merged, r)
	}
	s.ranges = merged
}
