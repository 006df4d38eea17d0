package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sort"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/domain/repository"
)

// SliceSource replays a fixed set of events ordered by timestamp, then
// instrument id.
type SliceSource struct {
	events []models.MarketEvent
	next   int
}

func NewSliceSource(events []models.MarketEvent) *SliceSource {
	sorted := make([]models.MarketEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return &SliceSource{events: sorted}
}

func (s *SliceSource) Next(ctx context.Context) (models.MarketEvent, error) {
	if err := ctx.Err(); err != nil {
		return models.MarketEvent{}, err
	}
	if s.next >= len(s.events) {
		return models.MarketEvent{}, models.ErrEndOfStream
	}
	ev := s.events[s.next]
	s.next++
	return ev, nil
}

// Len is the number of events not yet returned.
func (s *SliceSource) Len() int { return len(s.events) - s.next }

// MergeSource merges per-instrument sources, each already in time order,
// into one stream ordered by (timestamp, instrument id).
type MergeSource struct {
	sources []repository.EventSource
	h       mergeHeap
	primed  bool
}

func NewMergeSource(sources ...repository.EventSource) *MergeSource {
	return &MergeSource{sources: sources}
}

func (m *MergeSource) Next(ctx context.Context) (models.MarketEvent, error) {
	if !m.primed {
		for i, src := range m.sources {
			if err := m.pull(ctx, i, src); err != nil {
				return models.MarketEvent{}, err
			}
		}
		m.primed = true
	}
	if m.h.Len() == 0 {
		return models.MarketEvent{}, models.ErrEndOfStream
	}
	top := heap.Pop(&m.h).(mergeItem)
	if err := m.pull(ctx, top.src, m.sources[top.src]); err != nil {
		return models.MarketEvent{}, err
	}
	return top.ev, nil
}

func (m *MergeSource) pull(ctx context.Context, i int, src repository.EventSource) error {
	ev, err := src.Next(ctx)
	if errors.Is(err, models.ErrEndOfStream) {
		return nil
	}
	if err != nil {
		return err
	}
	heap.Push(&m.h, mergeItem{ev: ev, src: i})
	return nil
}

type mergeItem struct {
	ev  models.MarketEvent
	src int
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].ev.Timestamp.Equal(h[j].ev.Timestamp) && h[i].ev.InstrumentID == h[j].ev.InstrumentID {
		return h[i].src < h[j].src
	}
	return h[i].ev.Before(h[j].ev)
}
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// GroupByInstrument splits events into one SliceSource per instrument,
// ordered by instrument id.
func GroupByInstrument(events []models.MarketEvent) []repository.EventSource {
	by := make(map[string][]models.MarketEvent)
	for _, ev := range events {
		by[ev.InstrumentID] = append(by[ev.InstrumentID], ev)
	}
	ids := make([]string, 0, len(by))
	for id := range by {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]repository.EventSource, 0, len(ids))
	for _, id := range ids {
		out = append(out, NewSliceSource(by[id]))
	}
	return out
}
