package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteAndReadAttribute(t *testing.T) {
	s := newTestStore(t)

	if err := s.WriteAttribute(0xF000, []byte{0x3C, 0x00}); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadAttribute(0xF000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x3C, 0x00}) {
		t.Errorf("value = %X, want 3C00", got)
	}

	// Overwrite
	if err := s.WriteAttribute(0xF000, []byte{0x78, 0x00}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.ReadAttribute(0xF000)
	if !bytes.Equal(got, []byte{0x78, 0x00}) {
		t.Errorf("after overwrite = %X, want 7800", got)
	}
}

func TestReadAttributeNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadAttribute(0xF004)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListAttributes(t *testing.T) {
	s := newTestStore(t)
	s.WriteAttribute(0xF010, []byte{0x64, 0x00})
	s.WriteAttribute(0xF001, []byte{0xF6, 0xFF})

	attrs, err := s.ListAttributes()
	if err != nil {
		t.Fatal(err)
	}
	if len(attrs) != 2 {
		t.Fatalf("attrs = %d, want 2", len(attrs))
	}
	if !bytes.Equal(attrs[0xF001], []byte{0xF6, 0xFF}) {
		t.Errorf("0xF001 = %X", attrs[0xF001])
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvm.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteAttribute(0xF004, []byte{0x00}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.ReadAttribute(0xF004)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x00}) {
		t.Errorf("value = %X, want 00", got)
	}
}

func TestNetworkState(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetNetworkState(); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty store err = %v, want ErrNotFound", err)
	}

	state := &NetworkState{
		Channel:      15,
		PanID:        0x1A62,
		ExtPanID:     "DDDDDDDDDDDDDDDD",
		ShortAddress: 0x4F21,
		JoinedAt:     time.Now().Truncate(time.Millisecond),
		Joins:        3,
	}
	if err := s.SaveNetworkState(state); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetNetworkState()
	if err != nil {
		t.Fatal(err)
	}
	if got.Channel != 15 || got.PanID != 0x1A62 || got.ShortAddress != 0x4F21 || got.Joins != 3 {
		t.Errorf("state = %+v", got)
	}
	if !got.JoinedAt.Equal(state.JoinedAt) {
		t.Errorf("joined at = %v, want %v", got.JoinedAt, state.JoinedAt)
	}
}
