package zcl

import (
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(ClusterDef{
		ID:   0x0402,
		Name: "Temperature Measurement",
		Attributes: []AttributeDef{
			{ID: 0, Name: "MeasuredValue", Type: TypeInt16, Access: AccessRead | AccessReport},
		},
	})

	got := r.Get(0x0402)
	if got == nil {
		t.Fatal("cluster not found")
	}
	if got.Name != "Temperature Measurement" {
		t.Errorf("name = %q", got.Name)
	}
	if len(got.Attributes) != 1 {
		t.Errorf("attrs = %d, want 1", len(got.Attributes))
	}

	// Get returns a copy.
	got.Attributes[0].Name = "changed"
	if a, _ := r.Attribute(0x0402, 0, 0); a.Name != "MeasuredValue" {
		t.Errorf("registry mutated through copy: %q", a.Name)
	}
	if r.Get(0x9999) != nil {
		t.Error("unknown cluster returned")
	}
}

func TestRegistryMergeManufacturerAttributes(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(ClusterDef{
		ID:   0x0000,
		Name: "Basic",
		Attributes: []AttributeDef{
			{ID: 0x0004, Name: "ManufacturerName", Type: TypeCharStr, Access: AccessRead},
		},
	})
	r.Register(ClusterDef{
		ID: 0x0000,
		Attributes: []AttributeDef{
			{ID: 0xF000, Manufacturer: ManufacturerCode, Name: "SensorReadInterval", Type: TypeUint16, Access: AccessRead | AccessWrite},
			{ID: 0x0004, Name: "Duplicate", Type: TypeCharStr, Access: AccessRead},
		},
	})

	got := r.Get(0x0000)
	if len(got.Attributes) != 2 {
		t.Fatalf("after merge: attrs = %d, want 2", len(got.Attributes))
	}
	if got.Name != "Basic" {
		t.Errorf("name = %q, want Basic", got.Name)
	}
	if a := got.FindAttribute(0, 0x0004); a == nil || a.Name != "ManufacturerName" {
		t.Errorf("standard attribute = %+v", a)
	}
	if got.FindAttribute(0, 0xF000) != nil {
		t.Error("manufacturer attribute found without code")
	}
	if a := got.FindAttribute(ManufacturerCode, 0xF000); a == nil {
		t.Error("manufacturer attribute not found")
	}
}

func TestRegistryIDsSorted(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register(ClusterDef{ID: 0x0405, Name: "C"})
	r.Register(ClusterDef{ID: 0x0000, Name: "A"})
	r.Register(ClusterDef{ID: 0x0402, Name: "B"})

	ids := r.IDs()
	want := []uint16{0x0000, 0x0402, 0x0405}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = 0x%04X, want 0x%04X", i, ids[i], want[i])
		}
	}
	if all := r.All(); len(all) != 3 || all[1].Name != "B" {
		t.Errorf("All() = %+v", all)
	}
}
