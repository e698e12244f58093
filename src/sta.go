package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	Interfaces and stations known to the transmit path, and
 *		the lifetime of their transmit queues.
 *
 * Description:	The real directory of stations lives elsewhere.  This
 *		keeps only what queue selection and eviction need: the
 *		interface role and beacon interval, the station's U-APSD
 *		mask, and which queues belong to whom.
 *
 *		Removing a station or interface takes each queue off its
 *		scheduling list before dropping what it holds.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type VifID int32

type StationID int32

// NoStation marks frames from queues not tied to one peer.
const NoStation StationID = -1

// Role is the operating mode of an interface.
type Role uint8

const (
	RoleStation Role = iota
	RoleAP
	RoleP2PClient
	RoleP2PGO
	RoleMeshPoint
	RoleMonitor
)

var roleNames = []string{"station", "ap", "p2p-client", "p2p-go", "mesh", "monitor"}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole accepts the names printed by String.
func ParseRole(s string) (Role, error) {
	for i, n := range roleNames {
		if n == s {
			return Role(i), nil
		}
	}
	return 0, errors.Errorf("unknown role %q", s)
}

// APLike is true for roles that beacon and buffer for sleeping peers.
func (r Role) APLike() bool {
	return r == RoleAP || r == RoleP2PGO || r == RoleMeshPoint
}

// Vif is one virtual interface.
type Vif struct {
	ID             VifID
	Role           Role
	BeaconInterval time.Duration

	bcmc     TxQueueID // Broadcast and multicast.
	unknown  TxQueueID // Stations not yet added.
	stations []*Station
	ps       PowerSave // Group traffic held for the DTIM beacon.
}

// PowerSave is the sleep state of a peer and its buffered frame counts.
type PowerSave struct {
	active  bool
	pending [NumPSGroups]int
}

// Station is one peer of an interface.
type Station struct {
	ID    StationID
	UAPSD ACMask // Access categories delivered by U-APSD.

	vif  *Vif
	txqs [NumTIDs]TxQueueID
	ps   PowerSave
}

func (q *TxQueue) station() StationID {
	if q.sta == nil {
		return NoStation
	}
	return q.sta.ID
}

// AddVif registers an interface and creates its broadcast/multicast and
// unknown-station queues.
func (e *Engine) AddVif(id VifID, role Role, beaconInterval time.Duration) error {
	e.mu.Lock()
	defer e.unlock()

	if _, ok := e.vifs[id]; ok {
		return errors.Wrapf(ErrExists, "vif %d", id)
	}
	// Frames for its sleeping peers are kept a number of beacon intervals.
	if role.APLike() && beaconInterval <= 0 {
		return errors.Wrapf(ErrInvalid, "vif %d %v beacon interval %v", id, role, beaconInterval)
	}

	var vif = &Vif{ID: id, Role: role, BeaconInterval: beaconInterval}
	vif.bcmc = e.newTxqLocked(0, e.cfg.AC.BCMC, nil, vif)
	vif.unknown = e.newTxqLocked(TIDMgmt, e.cfg.AC.Unknown, nil, vif)
	e.vifs[id] = vif

	e.logger.Debug("vif added", "vif", id, "role", role)
	return nil
}

// RemoveVif removes an interface, its stations and their queues.  Every
// frame still queued is dropped.
func (e *Engine) RemoveVif(id VifID) error {
	e.mu.Lock()

	var vif, ok = e.vifs[id]
	if !ok {
		e.unlock()
		return errors.Wrapf(ErrNotFound, "vif %d", id)
	}

	var dropped = 0
	for _, st := range vif.stations {
		dropped += e.removeStationLocked(st)
	}
	vif.stations = nil
	dropped += e.flushTxqLocked(vif.bcmc)
	dropped += e.flushTxqLocked(vif.unknown)
	delete(e.vifs, id)
	e.unlock()

	e.logger.Debug("vif removed", "vif", id, "dropped", dropped)
	return nil
}

// AddStation registers a peer and creates one queue per traffic class.
func (e *Engine) AddStation(vifID VifID, id StationID, uapsd ACMask) error {
	e.mu.Lock()
	defer e.unlock()

	var vif, ok = e.vifs[vifID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "vif %d", vifID)
	}
	if _, ok := e.stations[id]; ok {
		return errors.Wrapf(ErrExists, "station %d", id)
	}

	var st = &Station{ID: id, UAPSD: uapsd, vif: vif}
	for tid := TID(0); tid < NumTIDs; tid++ {
		st.txqs[tid] = e.newTxqLocked(tid, e.cfg.ACForTID(tid), st, vif)
	}
	vif.stations = append(vif.stations, st)
	e.stations[id] = st

	e.logger.Debug("station added", "vif", vifID, "sta", id, "uapsd", fmt.Sprintf("%#x", uint8(uapsd)))
	return nil
}

// RemoveStation drops everything queued for a peer and forgets it.
func (e *Engine) RemoveStation(id StationID) error {
	e.mu.Lock()

	var st, ok = e.stations[id]
	if !ok {
		e.unlock()
		return errors.Wrapf(ErrNotFound, "station %d", id)
	}

	var vif = st.vif
	for i, s := range vif.stations {
		if s == st {
			vif.stations = append(vif.stations[:i], vif.stations[i+1:]...)
			break
		}
	}
	var dropped = e.removeStationLocked(st)
	e.unlock()

	e.logger.Debug("station removed", "sta", id, "dropped", dropped)
	return nil
}

func (e *Engine) removeStationLocked(st *Station) int {
	var dropped = 0
	for tid := range st.txqs {
		dropped += e.flushTxqLocked(st.txqs[tid])
		st.txqs[tid] = InactiveTxQueue
	}
	delete(e.stations, st.ID)
	return dropped
}

// StationQueue resolves the queue of one peer and traffic class.
func (e *Engine) StationQueue(id StationID, tid TID) (TxQueueID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var st, ok = e.stations[id]
	if !ok {
		return InactiveTxQueue, errors.Wrapf(ErrNotFound, "station %d", id)
	}
	if !tid.Valid() {
		return InactiveTxQueue, errors.Wrapf(ErrNotFound, "station %d %v", id, tid)
	}
	return st.txqs[tid], nil
}

// VifQueue resolves the broadcast/multicast queue of an interface, or,
// with unknown set, the queue for peers not yet added.
func (e *Engine) VifQueue(id VifID, unknown bool) (TxQueueID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var vif, ok = e.vifs[id]
	if !ok {
		return InactiveTxQueue, errors.Wrapf(ErrNotFound, "vif %d", id)
	}
	return IfThenElse(unknown, vif.unknown, vif.bcmc), nil
}
