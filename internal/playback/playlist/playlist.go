// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playlist keeps the ordered list of child media sources and exposes
// it as one concatenated timeline. Periods are routed to the child that owns
// them by the child prefix of their uid.
package playlist

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/playback/media"
	"github.com/ManuGH/xplay/internal/playback/source"
	"github.com/ManuGH/xplay/internal/playback/timeline"
)

// placeholderUID is the inner uid of the stand-in window and period of a
// child whose timeline has not been published yet.
const placeholderUID = "placeholder"

var (
	ErrIndexOutOfRange = errors.New("playlist index out of range")
	ErrUnknownPeriod   = errors.New("period does not belong to the playlist")
	ErrNotPrepared     = errors.New("child source has not published a timeline")
)

// Listener receives child timeline refreshes. It is called from whatever
// goroutine the child source publishes on; implementations hand the update
// over to the engine goroutine, which then calls Playlist.ApplyRefresh.
type Listener interface {
	OnChildRefreshed(item *Item, tl *timeline.Timeline)
}

// Item is one child source of the playlist.
type Item struct {
	uid      string
	src      source.Source
	tl       *timeline.Timeline
	periods  int
	prepared bool
	removed  bool
	caller   *childCaller
}

// UID identifies the item inside concatenated uids.
func (it *Item) UID() string { return it.uid }

// Source returns the child source.
func (it *Item) Source() source.Source { return it.src }

// Timeline returns the last published child timeline, or a placeholder.
func (it *Item) Timeline() *timeline.Timeline { return it.tl }

// IsPlaceholder reports whether the child has not published a timeline yet.
func (it *Item) IsPlaceholder() bool {
	return it.tl.WindowCount() == 1 && it.tl.Window(0).IsPlaceholder
}

type childCaller struct {
	item     *Item
	listener Listener
}

func (c *childCaller) OnSourceInfoRefreshed(_ source.Source, tl *timeline.Timeline) {
	c.listener.OnChildRefreshed(c.item, tl)
}

// Playlist is not safe for concurrent use; it is owned by the engine goroutine.
type Playlist struct {
	listener Listener
	items    []*Item
	byPeriod map[source.Period]*Item
	shuffle  timeline.ShuffleOrder
	prepared bool
	log      zerolog.Logger
}

// New returns an empty playlist.
func New(listener Listener) *Playlist {
	return &Playlist{
		listener: listener,
		byPeriod: make(map[source.Period]*Item),
		shuffle:  timeline.NewUnshuffledOrder(0),
		log:      log.WithComponent("playlist"),
	}
}

// Len returns the number of items.
func (p *Playlist) Len() int { return len(p.items) }

// Items returns the items in playlist order.
func (p *Playlist) Items() []*Item { return slices.Clone(p.items) }

// IsPrepared reports whether Prepare was called.
func (p *Playlist) IsPrepared() bool { return p.prepared }

// ShuffleOrder returns the current shuffle order.
func (p *Playlist) ShuffleOrder() timeline.ShuffleOrder { return p.shuffle }

// Timeline concatenates the child timelines in playlist order.
func (p *Playlist) Timeline() *timeline.Timeline {
	children := lo.Map(p.items, func(it *Item, _ int) timeline.Child {
		return timeline.Child{UID: it.uid, Timeline: it.tl}
	})
	return timeline.Concat(children, p.shuffle)
}

// Prepare prepares every child source.
func (p *Playlist) Prepare() {
	p.prepared = true
	for _, it := range p.items {
		p.prepareItem(it)
	}
}

func (p *Playlist) prepareItem(it *Item) {
	if it.prepared {
		return
	}
	it.prepared = true
	it.src.Prepare(it.caller)
}

// Set replaces every item. A nil shuffle order resets to the identity order.
func (p *Playlist) Set(sources []source.Source, shuffle timeline.ShuffleOrder) *timeline.Timeline {
	p.removeRange(0, len(p.items))
	if shuffle == nil {
		shuffle = timeline.NewUnshuffledOrder(len(sources))
	}
	return p.add(0, sources, shuffle)
}

// Add inserts sources at index. A nil shuffle order inserts into the
// current one.
func (p *Playlist) Add(index int, sources []source.Source, shuffle timeline.ShuffleOrder) (*timeline.Timeline, error) {
	if index < 0 || index > len(p.items) {
		return nil, fmt.Errorf("%w: add at %d of %d", ErrIndexOutOfRange, index, len(p.items))
	}
	if shuffle == nil {
		shuffle = p.shuffle.CloneAndInsert(index, len(sources))
	}
	return p.add(index, sources, shuffle), nil
}

func (p *Playlist) add(index int, sources []source.Source, shuffle timeline.ShuffleOrder) *timeline.Timeline {
	added := make([]*Item, 0, len(sources))
	for _, src := range sources {
		it := &Item{uid: uuid.NewString(), src: src, tl: timeline.Placeholder(placeholderUID)}
		it.caller = &childCaller{item: it, listener: p.listener}
		added = append(added, it)
	}
	p.items = slices.Insert(p.items, index, added...)
	p.shuffle = shuffle
	if p.prepared {
		for _, it := range added {
			p.prepareItem(it)
		}
	}
	p.log.Debug().Int("index", index).Int("count", len(added)).Int(log.FieldQueueLength, len(p.items)).Msg("items added")
	return p.Timeline()
}

// Remove removes the items in [from, to). A nil shuffle order removes from
// the current one.
func (p *Playlist) Remove(from, to int, shuffle timeline.ShuffleOrder) (*timeline.Timeline, error) {
	if from < 0 || from > to || to > len(p.items) {
		return nil, fmt.Errorf("%w: remove [%d,%d) of %d", ErrIndexOutOfRange, from, to, len(p.items))
	}
	if shuffle == nil {
		shuffle = p.shuffle.CloneAndRemove(from, to)
	}
	p.removeRange(from, to)
	p.shuffle = shuffle
	return p.Timeline(), nil
}

func (p *Playlist) removeRange(from, to int) {
	for _, it := range p.items[from:to] {
		it.removed = true
		p.maybeReleaseItem(it)
	}
	p.items = slices.Delete(p.items, from, to)
}

// Move moves the items in [from, to) so the first of them lands at newFrom.
func (p *Playlist) Move(from, to, newFrom int, shuffle timeline.ShuffleOrder) (*timeline.Timeline, error) {
	n := to - from
	if from < 0 || from > to || to > len(p.items) || newFrom < 0 || newFrom+n > len(p.items) {
		return nil, fmt.Errorf("%w: move [%d,%d) to %d of %d", ErrIndexOutOfRange, from, to, newFrom, len(p.items))
	}
	if shuffle != nil {
		p.shuffle = shuffle
	}
	if from == newFrom || n == 0 {
		return p.Timeline(), nil
	}
	moved := slices.Clone(p.items[from:to])
	p.items = slices.Delete(p.items, from, to)
	p.items = slices.Insert(p.items, newFrom, moved...)
	return p.Timeline(), nil
}

// SetShuffleOrder replaces the shuffle order. Its length must match.
func (p *Playlist) SetShuffleOrder(order timeline.ShuffleOrder) (*timeline.Timeline, error) {
	if order.Len() != len(p.items) {
		order = order.CloneAndClear().CloneAndInsert(0, len(p.items))
	}
	p.shuffle = order
	return p.Timeline(), nil
}

// ApplyRefresh records a child timeline published through the Listener and
// returns the new concatenated timeline. ok is false for stale refreshes of
// removed items.
func (p *Playlist) ApplyRefresh(it *Item, tl *timeline.Timeline) (*timeline.Timeline, bool) {
	if it.removed || !slices.Contains(p.items, it) {
		return nil, false
	}
	it.tl = tl
	return p.Timeline(), true
}

// MaybeThrowSourceInfoRefreshError returns the first child refresh error.
func (p *Playlist) MaybeThrowSourceInfoRefreshError() error {
	for _, it := range p.items {
		if err := it.src.MaybeThrowSourceInfoRefreshError(); err != nil {
			return fmt.Errorf("item %s: %w", it.uid, err)
		}
	}
	return nil
}

// CreatePeriod routes id to its child. Ids of a placeholder period map to
// the first period of the child once it has published a timeline.
func (p *Playlist) CreatePeriod(id media.PeriodID, startPositionUs int64) (source.Period, error) {
	child, inner, ok := timeline.SplitUID(id.PeriodUID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeriod, id)
	}
	it, ok := lo.Find(p.items, func(it *Item) bool { return it.uid == child })
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeriod, id)
	}
	if inner == placeholderUID {
		if it.IsPlaceholder() {
			return nil, fmt.Errorf("%w: %s", ErrNotPrepared, id)
		}
		inner = it.tl.Period(it.tl.Window(0).FirstPeriodIndex).UID
	}
	period := it.src.CreatePeriod(id.WithPeriodUID(inner), startPositionUs)
	p.byPeriod[period] = it
	it.periods++
	return period, nil
}

// ReleasePeriod returns period to its child. A removed child is released
// once its last period is gone.
func (p *Playlist) ReleasePeriod(period source.Period) {
	it, ok := p.byPeriod[period]
	if !ok {
		p.log.Warn().Msg("release of unknown period ignored")
		return
	}
	delete(p.byPeriod, period)
	it.src.ReleasePeriod(period)
	it.periods--
	p.maybeReleaseItem(it)
}

func (p *Playlist) maybeReleaseItem(it *Item) {
	if !it.removed || it.periods > 0 || !it.prepared {
		return
	}
	it.prepared = false
	it.src.Release(it.caller)
	p.log.Debug().Str("item", it.uid).Msg("child source released")
}

// Release releases every prepared child concurrently. Panics raised by a
// child are reported as errors.
func (p *Playlist) Release() error {
	var g errgroup.Group
	for _, it := range p.items {
		if !it.prepared {
			continue
		}
		it.prepared = false
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("release item %s: %v", it.uid, r)
				}
			}()
			it.src.Release(it.caller)
			return nil
		})
	}
	p.prepared = false
	clear(p.byPeriod)
	return g.Wait()
}

// ResolvePlaceholder maps the uid of a placeholder period in an older
// playlist timeline to the first period of the same child in tl.
func ResolvePlaceholder(tl *timeline.Timeline, oldPeriodUID string) (string, bool) {
	child, inner, ok := timeline.SplitUID(oldPeriodUID)
	if !ok || inner != placeholderUID {
		return "", false
	}
	for i := 0; i < tl.WindowCount(); i++ {
		w := tl.Window(i)
		if c, _, _ := timeline.SplitUID(w.UID); c == child {
			return tl.Period(w.FirstPeriodIndex).UID, true
		}
	}
	return "", false
}
