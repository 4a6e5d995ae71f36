package store

import "sort"

// commLog is a fixed-capacity FIFO ring. Appending to a full log overwrites
// the oldest entry regardless of sender.
type commLog struct {
	buf   []CommunicationEntry
	start int
	n     int
	seq   uint64
}

func newCommLog(capacity int) *commLog {
	return &commLog{buf: make([]CommunicationEntry, capacity)}
}

func (l *commLog) at(i int) *CommunicationEntry {
	return &l.buf[(l.start+i)%len(l.buf)]
}

func (l *commLog) append(e CommunicationEntry) CommunicationEntry {
	l.seq++
	e.Seq = l.seq
	if l.n == len(l.buf) {
		l.buf[l.start] = e
		l.start = (l.start + 1) % len(l.buf)
		return e
	}
	*l.at(l.n) = e
	l.n++
	return e
}

func (l *commLog) list(sender string) []CommunicationEntry {
	out := []CommunicationEntry{}
	for i := 0; i < l.n; i++ {
		e := l.at(i)
		if sender == "" || e.SenderID == sender {
			out = append(out, *e)
		}
	}
	return out
}

func (l *commLog) count(sender string) int {
	c := 0
	for i := 0; i < l.n; i++ {
		if l.at(i).SenderID == sender {
			c++
		}
	}
	return c
}

func (l *commLog) removeSender(sender string) int {
	kept := make([]CommunicationEntry, 0, l.n)
	for i := 0; i < l.n; i++ {
		if e := l.at(i); e.SenderID != sender {
			kept = append(kept, *e)
		}
	}
	removed := l.n - len(kept)
	if removed == 0 {
		return 0
	}
	l.reset(kept)
	return removed
}

func (l *commLog) reset(entries []CommunicationEntry) {
	l.buf = make([]CommunicationEntry, len(l.buf))
	l.start = 0
	l.n = copy(l.buf, entries)
}

// bySender is the persisted layout: sender id to that sender's entries,
// oldest first.
func (l *commLog) bySender() map[string][]CommunicationEntry {
	out := map[string][]CommunicationEntry{}
	for i := 0; i < l.n; i++ {
		e := l.at(i)
		out[e.SenderID] = append(out[e.SenderID], *e)
	}
	return out
}

// appendedBefore orders entries by append sequence. Entries written without
// one sort first, by timestamp, since sequencing postdates them.
func appendedBefore(a, b CommunicationEntry) bool {
	switch {
	case a.Seq == 0 && b.Seq == 0:
		return a.Timestamp.Before(b.Timestamp)
	case a.Seq == 0 || b.Seq == 0:
		return a.Seq == 0
	default:
		return a.Seq < b.Seq
	}
}

// restore rebuilds global order from the persisted layout and trims to
// capacity, dropping the oldest first.
func (l *commLog) restore(bySender map[string][]CommunicationEntry) {
	var all []CommunicationEntry
	for sender, entries := range bySender {
		for _, e := range entries {
			if e.SenderID == "" {
				e.SenderID = sender
			}
			all = append(all, e)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return appendedBefore(all[i], all[j]) })
	if len(all) > len(l.buf) {
		all = all[len(all)-len(l.buf):]
	}
	l.reset(all)
	for _, e := range all {
		if e.Seq > l.seq {
			l.seq = e.Seq
		}
	}
}
