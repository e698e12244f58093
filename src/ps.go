package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	Buffering for peers in power save.
 *
 * Description:	While a peer sleeps its queues are stopped and we count
 *		what is waiting for it, separately for frames delivered by
 *		legacy power save and by U-APSD.  The announcer hears only
 *		about changes between "nothing" and "something", which is
 *		what the traffic indication bitmap needs.
 *
 *		A PS-Poll or U-APSD trigger opens a short service period
 *		in which some frames are released despite the stop.
 *
 *		Group traffic of an access point is handled the same way
 *		when any of its peers sleeps.  The broadcast/multicast queue
 *		is stopped, counted as legacy, and moved to the beacon
 *		hardware queue so that what it holds goes out after the
 *		next DTIM beacon.
 *
 *---------------------------------------------------------------*/

import (
	"sort"

	"github.com/pkg/errors"
)

func (e *Engine) announceLocked(st *Station, g PSGroup, available bool) {
	e.announcements = append(e.announcements, announcement{sta: st.ID, group: g, available: available})
}

func (e *Engine) announceGroupLocked(vif *Vif, available bool) {
	e.announcements = append(e.announcements, announcement{vif: vif.ID, bcmc: true, group: PSLegacy, available: available})
}

// psCountLocked adjusts the pending count of whoever is asleep behind q,
// announcing a change between nothing and something.
func (e *Engine) psCountLocked(q *TxQueue, delta int) {
	var ps *PowerSave
	var note announcement
	switch {
	case q.sta != nil:
		ps, note = &q.sta.ps, announcement{sta: q.sta.ID, group: q.psGroup}
	case q.vif != nil && q.vif.bcmc == q.idx:
		ps, note = &q.vif.ps, announcement{vif: q.vif.ID, bcmc: true, group: q.psGroup}
	default:
		return
	}
	if !ps.active {
		return
	}

	var before = ps.pending[q.psGroup]
	ps.pending[q.psGroup] += delta
	Assert(ps.pending[q.psGroup] >= 0)
	if (before == 0) != (ps.pending[q.psGroup] == 0) {
		note.available = before == 0
		e.announcements = append(e.announcements, note)
	}
}

// psQueuedLocked counts a frame just linked into q.
func (e *Engine) psQueuedLocked(q *TxQueue) { e.psCountLocked(q, 1) }

// psUnqueuedLocked counts a frame just unlinked from q.
func (e *Engine) psUnqueuedLocked(q *TxQueue) { e.psCountLocked(q, -1) }

/*-------------------------------------------------------------------
 *
 * Name:        SetStationPowerSave
 *
 * Purpose:     A peer went to sleep or woke up.
 *
 * Description:	Going to sleep stops every queue of the peer and starts
 *		counting.  Groups with frames already waiting are announced
 *		straight away.
 *
 *		Waking up announces the end of whatever was pending, stops
 *		counting, and lets the queues run again.
 *
 *--------------------------------------------------------------------*/

func (e *Engine) SetStationPowerSave(id StationID, on bool) error {
	e.mu.Lock()
	defer e.unlock()

	var st, ok = e.stations[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "station %d", id)
	}
	if st.ps.active == on {
		return nil
	}

	if on {
		st.ps.active = true
		st.ps.pending = [NumPSGroups]int{}
		for _, qid := range st.txqs {
			var q = e.at(qid)
			st.ps.pending[q.psGroup] += q.n
			e.stopLocked(q, StopStationPS)
		}
		for g, n := range st.ps.pending {
			if n > 0 {
				e.announceLocked(st, PSGroup(g), true)
			}
		}
		return nil
	}

	for g, n := range st.ps.pending {
		if n > 0 {
			e.announceLocked(st, PSGroup(g), false)
		}
	}
	st.ps.active = false
	st.ps.pending = [NumPSGroups]int{}
	for _, qid := range st.txqs {
		e.startLocked(e.at(qid), StopStationPS)
	}
	return nil
}

// Pending reports how many frames are buffered for a sleeping peer in one
// group.  Zero for a peer that is awake.
func (e *Engine) Pending(id StationID, g PSGroup) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var st, ok = e.stations[id]
	if !ok || g >= NumPSGroups {
		return 0
	}
	return st.ps.pending[g]
}

/*-------------------------------------------------------------------
 *
 * Name:        ServicePeriod
 *
 * Purpose:     Release frames to a sleeping peer that asked for them.
 *
 * Inputs:	id	- The peer.
 *
 *		g	- PSLegacy for a PS-Poll, PSUAPSD for a trigger frame.
 *
 *		n	- Most frames to release.  A PS-Poll asks for one.
 *
 * Returns:	Number of frames pushed.
 *
 * Description:	Queues of the group are served highest access category
 *		first.  Credit still applies.  The queues stay stopped.
 *
 *--------------------------------------------------------------------*/

func (e *Engine) ServicePeriod(id StationID, g PSGroup, n int) (int, error) {
	e.mu.Lock()

	var st, ok = e.stations[id]
	if !ok {
		e.unlock()
		return 0, errors.Wrapf(ErrNotFound, "station %d", id)
	}

	var queues []*TxQueue
	for _, qid := range st.txqs {
		var q = e.at(qid)
		if q.psGroup == g && q.n > 0 {
			queues = append(queues, q)
		}
	}
	sort.SliceStable(queues, func(i, j int) bool {
		if queues[i].ac != queues[j].ac {
			return queues[i].ac > queues[j].ac
		}
		return queues[i].tid > queues[j].tid
	})

	var frames []Frame
	for _, q := range queues {
		var want = min(n-len(frames), q.credits)
		if want <= 0 {
			continue
		}
		frames = append(frames, e.takeLocked(q, want)...)
		if len(frames) >= n {
			break
		}
	}
	e.unlock()

	e.push(frames)
	return len(frames), nil
}

/*-------------------------------------------------------------------
 *
 * Name:        SetGroupPowerSave
 *
 * Purpose:     Hold or stop holding an interface's group traffic for
 *		the DTIM beacon.
 *
 * Inputs:	id	- An access point-like interface.
 *
 *		on	- True once some peer sleeps, false when all are
 *			  awake again.
 *
 * Description:	On, the broadcast/multicast queue is stopped and leaves
 *		its usual hardware queue for ACBCN.  Frames already there
 *		count as pending and are announced.  Off reverses all of
 *		it: the end of pending traffic is announced, and the queue
 *		runs again on the access category configured for it.
 *
 *--------------------------------------------------------------------*/

func (e *Engine) SetGroupPowerSave(id VifID, on bool) error {
	e.mu.Lock()
	defer e.unlock()

	var vif, ok = e.vifs[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "vif %d", id)
	}
	if !vif.Role.APLike() {
		return errors.Wrapf(ErrInvalid, "vif %d is %v, no group buffering", id, vif.Role)
	}
	if vif.ps.active == on {
		return nil
	}

	var q = e.at(vif.bcmc)
	if on {
		e.stopLocked(q, StopStationPS)
		e.rehomeLocked(q, ACBCN)

		vif.ps.active = true
		vif.ps.pending = [NumPSGroups]int{}
		vif.ps.pending[q.psGroup] = q.n
		if q.n > 0 {
			e.announceGroupLocked(vif, true)
		}
		return nil
	}

	if vif.ps.pending[q.psGroup] > 0 {
		e.announceGroupLocked(vif, false)
	}
	vif.ps.active = false
	vif.ps.pending = [NumPSGroups]int{}

	e.rehomeLocked(q, e.cfg.AC.BCMC)
	e.startLocked(q, StopStationPS)
	return nil
}

// GroupPending reports how many group frames an interface holds for the
// DTIM beacon.  Zero while group traffic is not being held.
func (e *Engine) GroupPending(id VifID) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var vif, ok = e.vifs[id]
	if !ok {
		return 0
	}
	return vif.ps.pending[PSLegacy]
}

// GroupServicePeriod releases held group frames after a DTIM beacon: up to
// n of them, or all for n <= 0, as far as credit goes.  The queue stays
// stopped until SetGroupPowerSave turns holding off.
func (e *Engine) GroupServicePeriod(id VifID, n int) (int, error) {
	e.mu.Lock()

	var vif, ok = e.vifs[id]
	if !ok {
		e.unlock()
		return 0, errors.Wrapf(ErrNotFound, "vif %d", id)
	}

	var q = e.at(vif.bcmc)
	var want = IfThenElse(n <= 0, q.n, n)
	var frames []Frame
	if want = min(want, q.credits); want > 0 {
		frames = e.takeLocked(q, want)
	}
	e.unlock()

	e.push(frames)
	return len(frames), nil
}
