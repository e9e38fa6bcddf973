package registry

import (
	"context"
	"testing"

	"github.com/parapetdev/parapet/internal/config"
	"github.com/parapetdev/parapet/internal/models"
)

func newTestRegistry(t *testing.T) (*Registry, *config.Persistence) {
	t.Helper()
	t.Setenv("PARAPET_DATA_DIR", t.TempDir())
	p := config.NewPersistence(config.DataDir())
	return New(p, nil), p
}

func TestDeviceIDDeterministic(t *testing.T) {
	a := DeviceID("192.168.1.1", "Edge FW")
	b := DeviceID("192.168.1.1", "Edge FW")
	if a != b {
		t.Fatalf("same inputs produced %s and %s", a, b)
	}
	if DeviceID("192.168.1.2", "Edge FW") == a {
		t.Error("different address should change the id")
	}
	if DeviceID("192.168.1.1", "Other FW") == a {
		t.Error("different name should change the id")
	}
	// Address normalization: case and surrounding space do not matter.
	if DeviceID("  192.168.1.1 ", "Edge FW") != a {
		t.Error("address whitespace should not change the id")
	}
	if DeviceID("FW.EXAMPLE.COM", "") != DeviceID("fw.example.com", "") {
		t.Error("address case should not change the id")
	}
}

func TestDeviceIDSurvivesReordering(t *testing.T) {
	// Property: the id depends only on the device's own attributes, never
	// on list position. Insert in two different orders and compare.
	specs := [][2]string{
		{"10.0.0.1", "A"},
		{"10.0.0.2", "B"},
		{"10.0.0.3", "C"},
	}
	forward := make(map[string]string)
	for _, s := range specs {
		forward[s[1]] = DeviceID(s[0], s[1])
	}
	for i := len(specs) - 1; i >= 0; i-- {
		s := specs[i]
		if got := DeviceID(s[0], s[1]); got != forward[s[1]] {
			t.Errorf("device %s id changed with ordering: %s != %s", s[1], got, forward[s[1]])
		}
	}
}

func TestUpsertDeviceAssignsDeterministicID(t *testing.T) {
	r, _ := newTestRegistry(t)

	d, err := r.UpsertDevice(models.Device{Address: "192.168.1.1", Name: "Edge", Enabled: true})
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	if d.ID != DeviceID("192.168.1.1", "Edge") {
		t.Errorf("id = %s", d.ID)
	}

	// Second upsert with the same identity keeps the id and CreatedAt.
	d2, err := r.UpsertDevice(models.Device{Address: "192.168.1.1", Name: "Edge", Enabled: false})
	if err != nil {
		t.Fatalf("second UpsertDevice: %v", err)
	}
	if d2.ID != d.ID {
		t.Errorf("id changed on update: %s -> %s", d.ID, d2.ID)
	}
	if !d2.CreatedAt.Equal(d.CreatedAt) {
		t.Errorf("CreatedAt changed on update")
	}

	enabled := r.EnabledDevices()
	if len(enabled) != 0 {
		t.Errorf("disabled device still listed as enabled: %+v", enabled)
	}
}

func TestMetadataCanonicalMAC(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.UpsertMetadata(models.DeviceMetadata{
		DeviceID:   "dev-1",
		MAC:        "AA:BB:CC:DD:EE:FF",
		CustomName: "Printer",
		Location:   "Floor 2",
		Tags:       []string{"office", "printer"},
	})
	if err != nil {
		t.Fatalf("UpsertMetadata: %v", err)
	}

	// Lookup with any MAC formatting finds the record.
	for _, mac := range []string{"aa:bb:cc:dd:ee:ff", "AA-BB-CC-DD-EE-FF", "aabb.ccdd.eeff"} {
		m, ok := r.Metadata("dev-1", mac)
		if !ok {
			t.Errorf("Metadata(%q) not found", mac)
			continue
		}
		if m.CustomName != "Printer" {
			t.Errorf("Metadata(%q).CustomName = %q", mac, m.CustomName)
		}
	}

	if err := r.UpsertMetadata(models.DeviceMetadata{DeviceID: "dev-1", MAC: "not-a-mac"}); err == nil {
		t.Error("invalid MAC should be rejected")
	}
}

func TestTagAndLocationSelectors(t *testing.T) {
	r, _ := newTestRegistry(t)

	seed := []models.DeviceMetadata{
		{DeviceID: "dev-1", MAC: "aa:aa:aa:aa:aa:01", Tags: []string{"iot"}, Location: "Floor 1"},
		{DeviceID: "dev-1", MAC: "aa:aa:aa:aa:aa:02", Tags: []string{"IoT", "camera"}, Location: "Floor 2"},
		{DeviceID: "dev-1", MAC: "aa:aa:aa:aa:aa:03", Tags: []string{"server"}, Location: "Floor 1"},
		{DeviceID: "dev-2", MAC: "aa:aa:aa:aa:aa:04", Tags: []string{"iot"}, Location: "Floor 1"},
	}
	for _, m := range seed {
		if err := r.UpsertMetadata(m); err != nil {
			t.Fatalf("UpsertMetadata: %v", err)
		}
	}

	iot := r.MACsByTag("dev-1", "iot")
	if len(iot) != 2 || !iot["aa:aa:aa:aa:aa:01"] || !iot["aa:aa:aa:aa:aa:02"] {
		t.Errorf("MACsByTag(iot) = %v", iot)
	}

	floors := r.MACsByLocation("dev-1", "floor *")
	if len(floors) != 3 {
		t.Errorf("MACsByLocation(floor *) = %v", floors)
	}
	floor1 := r.MACsByLocation("dev-1", "Floor 1")
	if len(floor1) != 2 {
		t.Errorf("MACsByLocation(Floor 1) = %v", floor1)
	}

	tags := r.Tags("dev-1")
	if len(tags) != 3 { // camera, iot, server (case-folded)
		t.Errorf("Tags = %v", tags)
	}
	locs := r.Locations("dev-1")
	if len(locs) != 2 {
		t.Errorf("Locations = %v", locs)
	}
}

type fakeRewriter struct {
	calls map[string]string
	fail  bool
}

func (f *fakeRewriter) RewriteDeviceID(ctx context.Context, oldID, newID string) (map[string]int64, error) {
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	if f.calls == nil {
		f.calls = make(map[string]string)
	}
	f.calls[oldID] = newID
	return map[string]int64{"throughput_samples": 42}, nil
}

func TestMigrateDeviceIDs(t *testing.T) {
	_, p := newTestRegistry(t)

	legacy := []models.Device{
		{ID: "random-legacy-id", Address: "192.168.1.1", Name: "Edge"},
		{ID: DeviceID("192.168.1.2", "Branch"), Address: "192.168.1.2", Name: "Branch"},
	}
	if err := p.SaveDevices(legacy); err != nil {
		t.Fatalf("SaveDevices: %v", err)
	}

	rw := &fakeRewriter{}
	result, err := MigrateDeviceIDs(context.Background(), p, rw)
	if err != nil {
		t.Fatalf("MigrateDeviceIDs: %v", err)
	}
	if result.BackupPath == "" {
		t.Error("expected a backup to be created")
	}
	want := DeviceID("192.168.1.1", "Edge")
	if rw.calls["random-legacy-id"] != want {
		t.Errorf("rewriter calls = %v", rw.calls)
	}
	if len(rw.calls) != 1 {
		t.Errorf("already-deterministic device should not be rewritten: %v", rw.calls)
	}

	devices, err := p.LoadDevices()
	if err != nil {
		t.Fatalf("LoadDevices: %v", err)
	}
	for _, d := range devices {
		if d.ID != DeviceID(d.Address, d.Name) {
			t.Errorf("device %s still has non-deterministic id %s", d.Name, d.ID)
		}
	}
}

func TestMigrateDeviceIDsAbortsOnStoreFailure(t *testing.T) {
	_, p := newTestRegistry(t)
	if err := p.SaveDevices([]models.Device{{ID: "legacy", Address: "10.1.1.1", Name: "FW"}}); err != nil {
		t.Fatal(err)
	}

	result, err := MigrateDeviceIDs(context.Background(), p, &fakeRewriter{fail: true})
	if err == nil {
		t.Fatal("expected migration to fail")
	}
	if result == nil || result.BackupPath == "" {
		t.Fatal("failure must still report the backup path")
	}

	// Config must be untouched: the legacy id survives the aborted run.
	devices, _ := p.LoadDevices()
	if len(devices) != 1 || devices[0].ID != "legacy" {
		t.Errorf("devices after aborted migration = %+v", devices)
	}
}

func TestMigrateNoopWhenAllDeterministic(t *testing.T) {
	_, p := newTestRegistry(t)
	if err := p.SaveDevices([]models.Device{
		{ID: DeviceID("10.1.1.1", "FW"), Address: "10.1.1.1", Name: "FW"},
	}); err != nil {
		t.Fatal(err)
	}

	rw := &fakeRewriter{}
	result, err := MigrateDeviceIDs(context.Background(), p, rw)
	if err != nil {
		t.Fatalf("MigrateDeviceIDs: %v", err)
	}
	if len(result.Renamed) != 0 || len(rw.calls) != 0 {
		t.Errorf("noop migration touched something: %+v %v", result, rw.calls)
	}
	if result.BackupPath != "" {
		t.Error("noop migration should not create a backup")
	}
}
