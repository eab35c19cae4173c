package eviction

import (
	"net"
	"testing"
	"time"

	"github.com/shadowisp/resdhcp/internal/leasecache"
	"github.com/shadowisp/resdhcp/internal/reservation"
)

func TestTask_SweepsExpiredLeases(t *testing.T) {
	cache := leasecache.New(nil)
	r := &reservation.Reservation{IPv4: net.IPv4(10, 0, 0, 1)}
	mac := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	cache.RecordV4(r, mac, r.Opt82, false, time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	task := NewTask(cache, func() *reservation.Index { return nil }, time.Hour, time.Hour, nil)
	task.sweep()

	v4, _ := cache.Counts()
	if v4 != 0 {
		t.Fatalf("expected the expired lease to be evicted, got %d active", v4)
	}
}

func TestTask_StartStop(t *testing.T) {
	cache := leasecache.New(nil)
	task := NewTask(cache, nil, 5*time.Millisecond, time.Hour, nil)
	task.Start()
	time.Sleep(20 * time.Millisecond)
	task.Stop()
}
