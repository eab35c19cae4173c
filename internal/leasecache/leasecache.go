// Package leasecache tracks active v4/v6 leases keyed by reservation
// identity, plus a time-expiring MAC->Option82 binding table used as a
// DHCPv6 fallback when a client has no DUID reservation.
package leasecache

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shadowisp/resdhcp/internal/option82"
	"github.com/shadowisp/resdhcp/internal/reservation"
)

// LeaseV4 records when a v4 reservation was first and most recently
// leased, and which MAC (and optionally Option82 tuple) it was leased
// to.
type LeaseV4 struct {
	FirstLeased time.Time
	LastLeased  time.Time
	Valid       time.Duration
	Mac         net.HardwareAddr
	Option82    option82.Option82 // zero value when not applicable
	HasOption82 bool
}

// LeaseV6 records the same for a v6 reservation, keyed by DUID rather
// than MAC.
type LeaseV6 struct {
	FirstLeased time.Time
	LastLeased  time.Time
	Valid       time.Duration
	Duid        reservation.Duid
	Mac         net.HardwareAddr
}

type opt82Entry struct {
	opt82    option82.Option82
	lastSeen time.Time
}

// Cache is the lease cache: concurrent-safe across distinct keys, no
// lock held across I/O.
type Cache struct {
	mu         sync.RWMutex
	v4         map[*reservation.Reservation]*LeaseV4
	v6         map[*reservation.Reservation]*LeaseV6
	macToOpt82 map[string]opt82Entry

	log *zap.Logger
}

// New returns an empty lease cache.
func New(log *zap.Logger) *Cache {
	return &Cache{
		v4:         make(map[*reservation.Reservation]*LeaseV4),
		v6:         make(map[*reservation.Reservation]*LeaseV6),
		macToOpt82: make(map[string]opt82Entry),
		log:        log,
	}
}

// Counts returns the number of active v4 and v6 leases currently held.
func (c *Cache) Counts() (v4, v6 int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.v4), len(c.v6)
}

// RecordV4 touches (or creates) the v4 lease for a reservation, and
// refreshes the MAC->Option82 binding when an Option82 tuple is
// supplied.
func (c *Cache) RecordV4(r *reservation.Reservation, mac net.HardwareAddr, opt82 option82.Option82, hasOpt82 bool, valid time.Duration) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if hasOpt82 {
		c.insertMacOpt82BindingLocked(mac, opt82, now)
	}

	if lease, ok := c.v4[r]; ok {
		lease.LastLeased = now
		return
	}
	c.v4[r] = &LeaseV4{
		FirstLeased: now,
		LastLeased:  now,
		Valid:       valid,
		Mac:         mac,
		Option82:    opt82,
		HasOption82: hasOpt82,
	}
}

// RecordV6 touches (or creates) the v6 lease for a reservation.
func (c *Cache) RecordV6(r *reservation.Reservation, lease LeaseV6) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.v6[r]; ok {
		existing.LastLeased = now
		existing.Valid = lease.Valid
		existing.Duid = lease.Duid
		existing.Mac = lease.Mac
		return
	}
	lease.FirstLeased = now
	lease.LastLeased = now
	c.v6[r] = &lease
}

// insertMacOpt82BindingLocked requires c.mu held for writing.
func (c *Cache) insertMacOpt82BindingLocked(mac net.HardwareAddr, opt82 option82.Option82, now time.Time) {
	key := string(mac)
	if entry, ok := c.macToOpt82[key]; ok {
		entry.lastSeen = now
		c.macToOpt82[key] = entry
		return
	}
	c.macToOpt82[key] = opt82Entry{opt82: opt82, lastSeen: now}
	if c.log != nil {
		c.log.Info("added mac -> option82 binding", zap.String("mac", mac.String()))
	}
}

// LookupOpt82ByMac returns the Option82 tuple last bound to a MAC, the
// DHCPv6 fallback path for clients without a DUID reservation.
func (c *Cache) LookupOpt82ByMac(mac net.HardwareAddr) (option82.Option82, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.macToOpt82[string(mac)]
	if !ok {
		return option82.Option82{}, false
	}
	return entry.opt82, true
}

// EvictExpired runs the three eviction passes in order: (i) drop MAC
// bindings older than opt82MaxAge, (ii) drop MAC bindings whose
// Option82 is no longer present in the current reservations snapshot,
// (iii) drop v4 and v6 leases whose last_leased is older than their
// valid duration. All three counts are logged if any is nonzero.
func (c *Cache) EvictExpired(opt82MaxAge time.Duration, snapshot *reservation.Index) (opt82Evicted, v4Evicted, v6Evicted int) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for mac, entry := range c.macToOpt82 {
		if now.Sub(entry.lastSeen) >= opt82MaxAge {
			delete(c.macToOpt82, mac)
			opt82Evicted++
		}
	}

	if snapshot != nil {
		for mac, entry := range c.macToOpt82 {
			if _, ok := snapshot.ByOpt82(entry.opt82); !ok {
				delete(c.macToOpt82, mac)
				opt82Evicted++
			}
		}
	}

	for r, lease := range c.v4 {
		if now.Sub(lease.LastLeased) >= lease.Valid {
			delete(c.v4, r)
			v4Evicted++
		}
	}

	for r, lease := range c.v6 {
		if now.Sub(lease.LastLeased) >= lease.Valid {
			delete(c.v6, r)
			v6Evicted++
		}
	}

	if c.log != nil && (opt82Evicted > 0 || v4Evicted > 0 || v6Evicted > 0) {
		c.log.Info("evicted expired entries",
			zap.Int("opt82_evicted", opt82Evicted),
			zap.Int("v4_evicted", v4Evicted),
			zap.Int("v6_evicted", v6Evicted),
			zap.Int("opt82_remaining", len(c.macToOpt82)),
			zap.Int("v4_remaining", len(c.v4)),
			zap.Int("v6_remaining", len(c.v6)),
		)
	}
	return opt82Evicted, v4Evicted, v6Evicted
}
