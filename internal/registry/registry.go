// Package registry holds the fixed set of managed switches and persists their
// durable state.
package registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/homegrid/internal/domain"
	"github.com/resident-x/homegrid/internal/inventory"
	"github.com/resident-x/homegrid/internal/store"
)

// ErrIdentityConflict indicates two switches claim the same cloud identity.
var ErrIdentityConflict = errors.New("registry: identity conflict")

// Registry is the fixed, load-ordered collection of switches.
type Registry struct {
	switches []*Switch
	byMAC    map[string]*Switch
	byGUID   map[string]*Switch
	store    domain.SnapshotStore
	logger   zerolog.Logger
}

// Load restores switches from the snapshot store, binds a fresh session to
// each and provisions inventory entries the snapshot does not know about. A
// missing or corrupt snapshot yields an empty starting set.
func Load(snapshots domain.SnapshotStore, sessions domain.SessionFactory, entries []inventory.Entry) (*Registry, error) {
	r := &Registry{
		byMAC:  make(map[string]*Switch),
		byGUID: make(map[string]*Switch),
		store:  snapshots,
		logger: log.With().Str("component", "registry").Logger(),
	}

	records, err := snapshots.Load()
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.logger.Info().Msg("No snapshot found, starting empty")
		records = nil
	case err != nil:
		r.logger.Warn().Err(err).Msg("Snapshot unreadable, starting empty")
		records = nil
	case hasDuplicates(records):
		r.logger.Warn().Msg("Snapshot has duplicate identities, starting empty")
		records = nil
	}

	for _, rec := range records {
		r.add(rec, sessions)
	}
	restored := len(r.switches)

	for _, e := range entries {
		if existing, ok := r.byMAC[e.MAC]; ok {
			if existing.guid != e.GUID {
				r.logger.Warn().
					Str("mac", e.MAC).
					Str("snapshot_guid", existing.guid).
					Str("inventory_guid", e.GUID).
					Msg("Inventory guid differs from snapshot, keeping snapshot")
			}
			continue
		}
		if existing, ok := r.byGUID[e.GUID]; ok {
			return nil, fmt.Errorf("%w: guid %s is bound to %s, inventory maps it to %s",
				ErrIdentityConflict, e.GUID, existing.mac, e.MAC)
		}
		r.add(domain.SwitchRecord{MAC: e.MAC, GUID: e.GUID}, sessions)
	}

	r.logger.Info().
		Int("restored", restored).
		Int("provisioned", len(r.switches)-restored).
		Msg("Registry loaded")

	return r, nil
}

func (r *Registry) add(rec domain.SwitchRecord, sessions domain.SessionFactory) {
	sw := newSwitch(rec, sessions(rec.GUID))
	r.switches = append(r.switches, sw)
	r.byMAC[sw.mac] = sw
	r.byGUID[sw.guid] = sw
}

func hasDuplicates(records []domain.SwitchRecord) bool {
	macs := make(map[string]struct{}, len(records))
	guids := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, ok := macs[rec.MAC]; ok {
			return true
		}
		if _, ok := guids[rec.GUID]; ok {
			return true
		}
		macs[rec.MAC] = struct{}{}
		guids[rec.GUID] = struct{}{}
	}
	return false
}

// LookupByMAC finds a switch by radio address.
func (r *Registry) LookupByMAC(mac string) (*Switch, bool) {
	sw, ok := r.byMAC[mac]
	return sw, ok
}

// LookupByGUID finds a switch by cloud identity.
func (r *Registry) LookupByGUID(guid string) (*Switch, bool) {
	sw, ok := r.byGUID[guid]
	return sw, ok
}

// Switches returns the switches in load order.
func (r *Registry) Switches() []*Switch {
	out := make([]*Switch, len(r.switches))
	copy(out, r.switches)
	return out
}

// Len returns the number of switches.
func (r *Registry) Len() int {
	return len(r.switches)
}

// Records returns a copy of every switch's durable state, each consistent on
// its own. Unlike SnapshotAndSave it never holds more than one guard.
func (r *Registry) Records() []domain.SwitchRecord {
	records := make([]domain.SwitchRecord, 0, len(r.switches))
	for _, sw := range r.switches {
		records = append(records, sw.Record())
	}
	return records
}

// SnapshotAndSave captures a point-in-time copy of every switch and writes it
// to the store. Guards are taken in load order and released before the write.
// A store failure leaves in-memory state untouched.
func (r *Registry) SnapshotAndSave() error {
	records := make([]domain.SwitchRecord, 0, len(r.switches))

	for _, sw := range r.switches {
		sw.lock()
	}
	for _, sw := range r.switches {
		records = append(records, sw.recordLocked())
	}
	for i := len(r.switches) - 1; i >= 0; i-- {
		r.switches[i].unlock()
	}

	if err := r.store.Save(records); err != nil {
		r.logger.Error().Err(err).Int("switches", len(records)).Msg("Snapshot failed")
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	r.logger.Debug().Int("switches", len(records)).Msg("Snapshot saved")
	return nil
}
