package ncp

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestZCLResponseHeader(t *testing.T) {
	plain := zclResponseHeader(zclHeader{Seq: 9}, zclCmdReadAttributesRsp)
	if want := []byte{0x18, 0x09, 0x01}; !bytes.Equal(plain, want) {
		t.Errorf("plain header = %X, want %X", plain, want)
	}

	mfr := zclResponseHeader(zclHeader{FrameCtrl: zclFlagMfrSpecific, MfgCode: 0x1002, Seq: 3}, zclCmdWriteAttributesRsp)
	if want := []byte{0x1C, 0x02, 0x10, 0x03, 0x04}; !bytes.Equal(mfr, want) {
		t.Errorf("manufacturer header = %X, want %X", mfr, want)
	}
}

func TestZCLBuildReadAttributesRsp(t *testing.T) {
	req := zclHeader{Seq: 5}
	frame := zclBuildReadAttributesRsp(req, []AttributeResponse{
		{AttrID: 0x0000, Status: 0, DataType: 0x29, Value: []byte{0x66, 0x08}},
		{AttrID: 0x0009, Status: zclStatusUnsupportedAttribute},
	})
	want := []byte{
		0x18, 0x05, 0x01,
		0x00, 0x00, 0x00, 0x29, 0x66, 0x08,
		0x09, 0x00, 0x86,
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame = %X, want %X", frame, want)
	}
}

func TestZCLBuildWriteAttributesRsp(t *testing.T) {
	req := zclHeader{Seq: 1}
	records := []WriteRecord{{AttrID: 0xF000}, {AttrID: 0xF001}}

	t.Run("all success", func(t *testing.T) {
		frame := zclBuildWriteAttributesRsp(req, records, []uint8{0, 0})
		if want := []byte{0x18, 0x01, 0x04, 0x00}; !bytes.Equal(frame, want) {
			t.Errorf("frame = %X, want %X", frame, want)
		}
	})

	t.Run("partial failure", func(t *testing.T) {
		frame := zclBuildWriteAttributesRsp(req, records, []uint8{0, 0x87})
		if want := []byte{0x18, 0x01, 0x04, 0x87, 0x01, 0xF0}; !bytes.Equal(frame, want) {
			t.Errorf("frame = %X, want %X", frame, want)
		}
	})
}

func TestZCLBuildConfigReportingRsp(t *testing.T) {
	req := zclHeader{Seq: 2}
	recs := []reportingConfig{{AttrID: 0x0000}, {AttrID: 0x0010}}
	frame := zclBuildConfigReportingRsp(req, []uint8{0, 0x86}, recs)
	if want := []byte{0x18, 0x02, 0x07, 0x86, 0x00, 0x10, 0x00}; !bytes.Equal(frame, want) {
		t.Errorf("frame = %X, want %X", frame, want)
	}
}

func TestZCLBuildReportAttributes(t *testing.T) {
	frame := zclBuildReportAttributes(7, []AttributeReport{
		{AttrID: 0x0000, DataType: 0x21, Value: []byte{0x88, 0x13}},
	})
	if frame[0] != 0x18 || frame[1] != 7 || frame[2] != zclCmdReportAttributes {
		t.Fatalf("header = %X", frame[:3])
	}
	if id := binary.LittleEndian.Uint16(frame[3:5]); id != 0x0000 {
		t.Errorf("attr = 0x%04X", id)
	}
	if frame[5] != 0x21 || !bytes.Equal(frame[6:], []byte{0x88, 0x13}) {
		t.Errorf("record = %X", frame[5:])
	}
}

func TestZCLBuildDefaultResponse(t *testing.T) {
	frame := zclBuildDefaultResponse(zclHeader{FrameCtrl: 0x01, Seq: 4, CmdID: 0x40}, zclStatusUnsupClusterCommand)
	if want := []byte{0x18, 0x04, 0x0B, 0x40, 0x81}; !bytes.Equal(frame, want) {
		t.Errorf("frame = %X, want %X", frame, want)
	}
}

func TestBuildSimpleDescPayload(t *testing.T) {
	in := []uint16{0x0000, 0x0001, 0x0402}
	buf := buildSimpleDescPayload(1, zclProfileHA, 0x0302, 0, in, nil)

	if buf[0] != 1 {
		t.Errorf("endpoint = %d", buf[0])
	}
	if p := binary.LittleEndian.Uint16(buf[1:3]); p != zclProfileHA {
		t.Errorf("profile = 0x%04X", p)
	}
	if d := binary.LittleEndian.Uint16(buf[3:5]); d != 0x0302 {
		t.Errorf("device = 0x%04X", d)
	}
	if buf[6] != 3 || buf[7] != 0 {
		t.Errorf("cluster counts = %d/%d", buf[6], buf[7])
	}
	if c := binary.LittleEndian.Uint16(buf[12:14]); c != 0x0402 {
		t.Errorf("third in-cluster = 0x%04X", c)
	}
	if len(buf) != 8+len(in)*2 {
		t.Errorf("len = %d", len(buf))
	}
}
