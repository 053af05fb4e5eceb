package overlay

import (
	"container/list"
	"time"

	"github.com/busybox42/synapse/pkg/protocol"
)

type tagEntry struct {
	tag  protocol.Tag
	seen time.Time
}

// TagSet remembers which request tags a node has already processed.
//
// With MaxTags and Window both zero the set grows for the life of the
// process. Otherwise the oldest tags are evicted once the set holds more
// than MaxTags entries or a tag is older than Window; a FIND re-delivered
// after its tag was evicted is processed again.
type TagSet struct {
	maxTags int
	window  time.Duration
	now     func() time.Time
	items   map[protocol.Tag]*list.Element
	order   *list.List
}

func NewTagSet(maxTags int, window time.Duration) *TagSet {
	return &TagSet{
		maxTags: maxTags,
		window:  window,
		now:     time.Now,
		items:   make(map[protocol.Tag]*list.Element),
		order:   list.New(),
	}
}

func (s *TagSet) Seen(tag protocol.Tag) bool {
	s.pruneExpired(s.now())
	_, ok := s.items[tag]
	return ok
}

// MarkSeen records tag. Marking a tag twice keeps its first-seen time.
func (s *TagSet) MarkSeen(tag protocol.Tag) {
	now := s.now()
	s.pruneExpired(now)
	if _, ok := s.items[tag]; ok {
		return
	}
	s.items[tag] = s.order.PushBack(&tagEntry{tag: tag, seen: now})
	for s.maxTags > 0 && s.order.Len() > s.maxTags {
		s.evict(s.order.Front())
	}
}

func (s *TagSet) Len() int {
	return s.order.Len()
}

func (s *TagSet) pruneExpired(now time.Time) {
	if s.window <= 0 {
		return
	}
	cutoff := now.Add(-s.window)
	for {
		front := s.order.Front()
		if front == nil {
			return
		}
		if front.Value.(*tagEntry).seen.After(cutoff) {
			return
		}
		s.evict(front)
	}
}

func (s *TagSet) evict(el *list.Element) {
	delete(s.items, el.Value.(*tagEntry).tag)
	s.order.Remove(el)
}
