package reload

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleReservations = `[{"mac":"00:01:02:03:04:05","ipv4":"192.168.1.100"}]`

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewCoordinator_LoadsInitialReservations(t *testing.T) {
	path := writeFile(t, t.TempDir(), "reservations.json", sampleReservations)
	c, err := NewCoordinator(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	mac, _ := net.ParseMAC("00:01:02:03:04:05")
	r, ok := c.Index().ByMac(mac)
	if !ok {
		t.Fatal("expected a reservation for the seeded MAC")
	}
	if r.IPv4.String() != "192.168.1.100" {
		t.Fatalf("unexpected ipv4: %s", r.IPv4)
	}
}

func TestNewCoordinator_MissingFile(t *testing.T) {
	if _, err := NewCoordinator(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Fatal("expected an error for a missing reservations file")
	}
}

func TestReloadFromDisk_PicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "reservations.json", sampleReservations)
	c, err := NewCoordinator(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	updated := `[{"mac":"00:01:02:03:04:06","ipv4":"192.168.1.200"}]`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	count, err := c.ReloadFromDisk("test")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reservation, got %d", count)
	}
	mac, _ := net.ParseMAC("00:01:02:03:04:06")
	if _, ok := c.Index().ByMac(mac); !ok {
		t.Fatal("expected the updated reservation to be indexed")
	}
}

func TestWatchFile_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "reservations.json", sampleReservations)
	c, err := NewCoordinator(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	defer close(stop)
	if err := c.WatchFile(stop); err != nil {
		t.Fatal(err)
	}

	updated := `[{"mac":"00:01:02:03:04:07","ipv4":"192.168.1.210"}]`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	mac, _ := net.ParseMAC("00:01:02:03:04:07")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Index().ByMac(mac); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for fsnotify-triggered reload")
}
