package ncp

import (
	"encoding/binary"
	"fmt"
)

const (
	typeSizeVariable   = -1 // variable-length type with 1-byte length prefix
	typeSizeVariable16 = -3 // variable-length type with 2-byte length prefix
	typeSizeUnknown    = -2 // unrecognized type
)

// zclHeader is a decoded ZCL frame header.
type zclHeader struct {
	FrameCtrl uint8
	MfgCode   uint16
	Seq       uint8
	CmdID     uint8
}

func (h zclHeader) frameType() uint8 { return h.FrameCtrl & 0x03 }

func (h zclHeader) mfrSpecific() bool { return h.FrameCtrl&zclFlagMfrSpecific != 0 }

func (h zclHeader) wantsDefaultResponse() bool { return h.FrameCtrl&zclDisableDefaultResp == 0 }

// parseZCLHeader splits frame_control(1) + [mfr_code(2)] + seq(1) + cmd_id(1)
// from the command payload.
func parseZCLHeader(data []byte) (zclHeader, []byte, error) {
	var h zclHeader
	if len(data) < 3 {
		return h, nil, fmt.Errorf("zcl: frame too short: %d bytes", len(data))
	}
	h.FrameCtrl = data[0]
	pos := 1
	if h.mfrSpecific() {
		if len(data) < 5 {
			return h, nil, fmt.Errorf("zcl: manufacturer frame too short: %d bytes", len(data))
		}
		h.MfgCode = binary.LittleEndian.Uint16(data[1:3])
		pos = 3
	}
	h.Seq = data[pos]
	h.CmdID = data[pos+1]
	return h, data[pos+2:], nil
}

// zclResponseHeader builds a server-to-client header echoing the request's
// sequence number and manufacturer code.
func zclResponseHeader(req zclHeader, cmdID uint8) []byte {
	fc := uint8(zclFrameTypeGlobal | zclDirServerToClient | zclDisableDefaultResp)
	if req.mfrSpecific() {
		fc |= zclFlagMfrSpecific
		return []byte{fc, byte(req.MfgCode), byte(req.MfgCode >> 8), req.Seq, cmdID}
	}
	return []byte{fc, req.Seq, cmdID}
}

// parseReadAttributesReq returns the attribute IDs of a Read Attributes command.
func parseReadAttributesReq(payload []byte) []uint16 {
	ids := make([]uint16, 0, len(payload)/2)
	for i := 0; i+2 <= len(payload); i += 2 {
		ids = append(ids, binary.LittleEndian.Uint16(payload[i:i+2]))
	}
	return ids
}

// zclBuildReadAttributesRsp: [attrID(2) + status(1) + (type(1) + value)]...
func zclBuildReadAttributesRsp(req zclHeader, records []AttributeResponse) []byte {
	buf := zclResponseHeader(req, zclCmdReadAttributesRsp)
	for _, r := range records {
		buf = binary.LittleEndian.AppendUint16(buf, r.AttrID)
		buf = append(buf, r.Status)
		if r.Status == 0 {
			buf = append(buf, r.DataType)
			buf = append(buf, r.Value...)
		}
	}
	return buf
}

// parseWriteRecords decodes [attrID(2) + dataType(1) + value(N)]... from a
// Write Attributes payload.
func parseWriteRecords(data []byte) ([]WriteRecord, error) {
	var records []WriteRecord
	pos := 0
	for pos < len(data) {
		if pos+3 > len(data) {
			return records, fmt.Errorf("zcl: truncated write record at %d", pos)
		}
		rec := WriteRecord{
			AttrID:   binary.LittleEndian.Uint16(data[pos : pos+2]),
			DataType: data[pos+2],
		}
		pos += 3
		n, err := valueLength(rec.DataType, data[pos:])
		if err != nil {
			return records, fmt.Errorf("zcl: attr 0x%04X: %w", rec.AttrID, err)
		}
		rec.Value = make([]byte, n)
		copy(rec.Value, data[pos:pos+n])
		pos += n
		records = append(records, rec)
	}
	return records, nil
}

// zclBuildWriteAttributesRsp collapses an all-success response to a single
// status byte, otherwise lists [status(1) + attrID(2)] for failures.
func zclBuildWriteAttributesRsp(req zclHeader, records []WriteRecord, statuses []uint8) []byte {
	buf := zclResponseHeader(req, zclCmdWriteAttributesRsp)
	allOK := true
	for i, st := range statuses {
		if st == 0 {
			continue
		}
		allOK = false
		buf = append(buf, st)
		buf = binary.LittleEndian.AppendUint16(buf, records[i].AttrID)
	}
	if allOK {
		buf = append(buf, 0x00)
	}
	return buf
}

// reportingConfig is one record of an incoming Configure Reporting command.
type reportingConfig struct {
	AttrID      uint16
	DataType    uint8
	MinInterval uint16
	MaxInterval uint16
	Change      []byte
}

// parseConfigureReporting decodes direction(1) + attrID(2) + type(1) +
// min(2) + max(2) + [change(N) for analog types]. Only direction 0x00
// records are returned.
func parseConfigureReporting(data []byte) ([]reportingConfig, error) {
	var out []reportingConfig
	pos := 0
	for pos < len(data) {
		if pos+8 > len(data) {
			return out, fmt.Errorf("zcl: truncated reporting record at %d", pos)
		}
		dir := data[pos]
		if dir != 0x00 {
			// direction 0x01 carries attrID(2) + timeout(2).
			pos += 5
			continue
		}
		rc := reportingConfig{
			AttrID:      binary.LittleEndian.Uint16(data[pos+1 : pos+3]),
			DataType:    data[pos+3],
			MinInterval: binary.LittleEndian.Uint16(data[pos+4 : pos+6]),
			MaxInterval: binary.LittleEndian.Uint16(data[pos+6 : pos+8]),
		}
		pos += 8
		if isAnalogType(rc.DataType) {
			size := typeSize(rc.DataType)
			if size <= 0 || pos+size > len(data) {
				return out, fmt.Errorf("zcl: attr 0x%04X: bad reportable change", rc.AttrID)
			}
			rc.Change = append([]byte(nil), data[pos:pos+size]...)
			pos += size
		}
		out = append(out, rc)
	}
	return out, nil
}

// zclBuildConfigReportingRsp lists [status(1) + direction(1) + attrID(2)] for
// failed records, or a single success status.
func zclBuildConfigReportingRsp(req zclHeader, statuses []uint8, records []reportingConfig) []byte {
	buf := zclResponseHeader(req, zclCmdConfigReportingRsp)
	allOK := true
	for i, st := range statuses {
		if st == 0 {
			continue
		}
		allOK = false
		buf = append(buf, st, 0x00)
		buf = binary.LittleEndian.AppendUint16(buf, records[i].AttrID)
	}
	if allOK {
		buf = append(buf, 0x00)
	}
	return buf
}

// zclBuildReportAttributes builds an unsolicited Report Attributes frame.
func zclBuildReportAttributes(seq uint8, reports []AttributeReport) []byte {
	buf := []byte{
		zclFrameTypeGlobal | zclDirServerToClient | zclDisableDefaultResp,
		seq,
		zclCmdReportAttributes,
	}
	for _, r := range reports {
		buf = binary.LittleEndian.AppendUint16(buf, r.AttrID)
		buf = append(buf, r.DataType)
		buf = append(buf, r.Value...)
	}
	return buf
}

// zclBuildDefaultResponse: cmd_id(1) + status(1).
func zclBuildDefaultResponse(req zclHeader, status uint8) []byte {
	buf := zclResponseHeader(req, zclCmdDefaultResponse)
	return append(buf, req.CmdID, status)
}

func valueLength(dataType uint8, data []byte) (int, error) {
	size := typeSize(dataType)
	switch {
	case size > 0:
		if len(data) < size {
			return 0, fmt.Errorf("value truncated: need %d, have %d", size, len(data))
		}
		return size, nil
	case size == typeSizeVariable:
		if len(data) < 1 || len(data) < 1+int(data[0]) {
			return 0, fmt.Errorf("string value truncated")
		}
		return 1 + int(data[0]), nil
	case size == typeSizeVariable16:
		if len(data) < 2 {
			return 0, fmt.Errorf("string16 value truncated")
		}
		n := int(binary.LittleEndian.Uint16(data[:2]))
		if len(data) < 2+n {
			return 0, fmt.Errorf("string16 value truncated")
		}
		return 2 + n, nil
	}
	return 0, fmt.Errorf("unknown data type 0x%02X", dataType)
}

func isAnalogType(t uint8) bool {
	return (t >= 0x20 && t <= 0x2F) || (t >= 0x38 && t <= 0x3A) || (t >= 0xE0 && t <= 0xE2)
}

func typeSize(t uint8) int {
	switch {
	case t >= 0x08 && t <= 0x0F: // data8..data64
		return int(t-0x08) + 1
	case t == 0x10: // bool
		return 1
	case t >= 0x18 && t <= 0x1F: // map8..map64
		return int(t-0x18) + 1
	case t >= 0x20 && t <= 0x27: // uint8..uint64
		return int(t-0x20) + 1
	case t >= 0x28 && t <= 0x2F: // int8..int64
		return int(t-0x28) + 1
	case t == 0x30: // enum8
		return 1
	case t == 0x31: // enum16
		return 2
	case t == 0x38: // float16
		return 2
	case t == 0x39: // float32
		return 4
	case t == 0x3A: // float64
		return 8
	case t == 0xE0, t == 0xE1, t == 0xE2: // ToD, Date, UTC
		return 4
	case t == 0xE8, t == 0xE9: // ClusterID, AttrID
		return 2
	case t == 0xF0: // EUI64
		return 8
	case t == 0x41, t == 0x42: // octstr, string
		return typeSizeVariable
	case t == 0x43, t == 0x44: // octstr16, string16
		return typeSizeVariable16
	}
	return typeSizeUnknown
}
