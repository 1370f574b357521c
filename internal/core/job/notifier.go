package job

import "sync"

// notifier fans snapshots out to per-job subscribers. Each subscriber channel
// holds one element and keeps only the newest snapshot, so a slow reader
// never blocks a poller.
type notifier struct {
	mu   sync.Mutex
	subs map[ID]map[*subscription]struct{}
}

type subscription struct {
	ch chan Snapshot
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[ID]map[*subscription]struct{})}
}

// add registers a subscriber and primes it with current. When live is false
// nothing more will be published for id and the channel is closed right away.
func (n *notifier) add(id ID, current Snapshot, live bool) (*subscription, func()) {
	sub := &subscription{ch: make(chan Snapshot, 1)}
	sub.ch <- current.Clone()
	if !live {
		close(sub.ch)
		return sub, func() {}
	}

	n.mu.Lock()
	set, ok := n.subs[id]
	if !ok {
		set = make(map[*subscription]struct{})
		n.subs[id] = set
	}
	set[sub] = struct{}{}
	n.mu.Unlock()

	return sub, func() { n.remove(id, sub) }
}

func (n *notifier) remove(id ID, sub *subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.subs[id]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(n.subs, id)
	}
}

func (n *notifier) publish(snap Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs[snap.JobID] {
		offer(sub.ch, snap.Clone())
	}
}

// closeJob closes every subscriber of id.
func (n *notifier) closeJob(id ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs[id] {
		close(sub.ch)
	}
	delete(n.subs, id)
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, set := range n.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(n.subs, id)
	}
}

// offer replaces whatever is buffered in ch with snap.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
