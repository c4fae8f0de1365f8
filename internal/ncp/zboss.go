package ncp

// ZBOSS NCP serial protocol: LL/HL frame codec, CRC8/CRC16, command IDs.
// Reference: Wireshark ZBOSS NCP dissector (packet-zbncp.c/h).

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// --- LL (Low-Level) header constants ---

const (
	zbossSig0         = 0xDE
	zbossSig1         = 0xAD
	zbossLLHeaderSize = 7 // sig(2) + len(2) + type(1) + flags(1) + crc8(1)
	zbossBodyCRCSize  = 2 // CRC16 at start of body
	zbossMaxFrameSize = 512
)

// LL packet type (always 0x06 for ZBOSS NCP API HL; ACK vs DATA is in flags).
const zbossLLType uint8 = 0x06

// LL flags bitmask.
const (
	zbossFlagACK         = 0x01
	zbossFlagRetrans     = 0x02
	zbossFlagPktSeqMask  = 0x0C
	zbossFlagPktSeqShift = 2
	zbossFlagAckSeqMask  = 0x30
	zbossFlagAckSeqShift = 4
	zbossFlagFirstFrag   = 0x40
	zbossFlagLastFrag    = 0x80
)

// --- HL (High-Level) header constants ---

const (
	zbossHLVersion    uint8 = 0x00
	zbossHLRequest    uint8 = 0x00
	zbossHLResponse   uint8 = 0x01
	zbossHLIndication uint8 = 0x02
)

// --- Command IDs (call_id) used by an end device ---

const (
	zbossCmdGetModuleVersion uint16 = 0x0001
	zbossCmdNCPReset         uint16 = 0x0002
	zbossCmdSetZigbeeRole    uint16 = 0x0005
	zbossCmdGetChannel       uint16 = 0x0008
	zbossCmdGetPanID         uint16 = 0x0009
	zbossCmdGetLocalIEEE     uint16 = 0x000B
	zbossCmdSetRxOnWhenIdle  uint16 = 0x0013
	zbossCmdSetEDTimeout     uint16 = 0x0017
	zbossCmdSetNwkKey        uint16 = 0x001B
	zbossCmdNCPResetInd      uint16 = 0x002B
	zbossCmdSetTCPolicy      uint16 = 0x0032

	zbossCmdAFSetSimpleDesc uint16 = 0x0101

	zbossCmdZDOMgmtLeaveReq uint16 = 0x020A

	zbossCmdAPSDEDataReq uint16 = 0x0301
	zbossCmdAPSDEDataInd uint16 = 0x0306

	zbossCmdNwkDiscovery      uint16 = 0x0402
	zbossCmdNwkNlmeJoin       uint16 = 0x0403
	zbossCmdNwkStartedInd     uint16 = 0x0408
	zbossCmdNwkRejoinedInd    uint16 = 0x0409
	zbossCmdNwkRejoinFailedInd uint16 = 0x040A
	zbossCmdNwkLeaveInd       uint16 = 0x040B
)

var zbossCmdNames = map[uint16]string{
	zbossCmdGetModuleVersion:   "GetModuleVersion",
	zbossCmdNCPReset:           "NCPReset",
	zbossCmdSetZigbeeRole:      "SetZigbeeRole",
	zbossCmdGetChannel:         "GetChannel",
	zbossCmdGetPanID:           "GetPanID",
	zbossCmdGetLocalIEEE:       "GetLocalIEEE",
	zbossCmdSetRxOnWhenIdle:    "SetRxOnWhenIdle",
	zbossCmdSetEDTimeout:       "SetEDTimeout",
	zbossCmdSetNwkKey:          "SetNwkKey",
	zbossCmdNCPResetInd:        "NCPResetInd",
	zbossCmdSetTCPolicy:        "SetTCPolicy",
	zbossCmdAFSetSimpleDesc:    "AFSetSimpleDesc",
	zbossCmdZDOMgmtLeaveReq:    "ZDO_MgmtLeave",
	zbossCmdAPSDEDataReq:       "APSDE_DataReq",
	zbossCmdAPSDEDataInd:       "APSDE_DataInd",
	zbossCmdNwkDiscovery:       "NwkDiscovery",
	zbossCmdNwkNlmeJoin:        "NwkNlmeJoin",
	zbossCmdNwkStartedInd:      "NwkStartedInd",
	zbossCmdNwkRejoinedInd:     "NwkRejoinedInd",
	zbossCmdNwkRejoinFailedInd: "NwkRejoinFailedInd",
	zbossCmdNwkLeaveInd:        "NwkLeaveInd",
}

func zbossCmdName(id uint16) string {
	if name, ok := zbossCmdNames[id]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", id)
}

// Indexed by status category; unknown categories print as Generic.
var zbossStatusCategories = [...]string{"Generic", "Generic", "MAC", "NWK", "APS", "ZDO", "CBKE"}

func zbossStatusName(cat, code uint8) string {
	if cat|code == 0 {
		return "OK"
	}
	name := zbossStatusCategories[0]
	if int(cat) < len(zbossStatusCategories) {
		name = zbossStatusCategories[cat]
	}
	return fmt.Sprintf("%s/%d(0x%02X)", name, code, code)
}

// Response status categories.
const (
	zbossStatusGeneric uint8 = 0x00
	zbossStatusMAC     uint8 = 0x02
	zbossStatusNWK     uint8 = 0x03
)

// MAC status reported by NwkDiscovery when no beacon was heard.
const zbossMACNoBeacon uint8 = 0xEA

// Generic status used by the NCP when its operation queue is full.
const zbossGenericBusy uint8 = 0x0B

// Zigbee roles (ZBOSS DeviceRole enum: ZC=0, ZR=1, ZED=2).
const zbossRoleEndDevice uint8 = 0x02

// TC policy types for SET_TC_POLICY (0x0032).
const zbossTCPolicyAPSInsecureJoin uint16 = 0x0004

// MAC capability bits sent in the join request.
const (
	capAllocateAddress uint8 = 0x80
	capRxOnWhenIdle    uint8 = 0x08
)

// APSDE address modes.
const zbossAddrModeShort uint8 = 0x02

// ZCL frame control bits.
const (
	zclFrameTypeGlobal    = 0x00
	zclFrameTypeCluster   = 0x01
	zclFlagMfrSpecific    = 0x04
	zclDirServerToClient  = 0x08
	zclDisableDefaultResp = 0x10
)

// ZCL global command IDs.
const (
	zclCmdReadAttributes     = 0x00
	zclCmdReadAttributesRsp  = 0x01
	zclCmdWriteAttributes    = 0x02
	zclCmdWriteAttributesRsp = 0x04
	zclCmdConfigReporting    = 0x06
	zclCmdConfigReportingRsp = 0x07
	zclCmdReportAttributes   = 0x0A
	zclCmdDefaultResponse    = 0x0B
)

// HA profile ID.
const zclProfileHA uint16 = 0x0104

// --- Frame types ---

type zbossLLHeader struct {
	Length uint16
	Type   uint8
	Flags  uint8
}

type zbossHLHeader struct {
	Version    uint8
	PacketType uint8
	CallID     uint16
	TSN        uint8 // only for Request/Response
	StatusCat  uint8 // only for Response
	StatusCode uint8 // only for Response
}

// zbossFrame is a complete parsed ZBOSS NCP frame (LL + HL + payload).
type zbossFrame struct {
	LL      zbossLLHeader
	HL      zbossHLHeader
	Payload []byte
}

func (f *zbossFrame) ok() bool {
	return f.HL.StatusCat == 0 && f.HL.StatusCode == 0
}

// --- Flag helpers ---

func zbossLLPktSeq(flags uint8) uint8 {
	return (flags >> zbossFlagPktSeqShift) & 0x03
}

func zbossLLAckSeq(flags uint8) uint8 {
	return (flags >> zbossFlagAckSeqShift) & 0x03
}

func zbossLLIsACK(flags uint8) bool {
	return flags&zbossFlagACK != 0
}

// --- CRC tables ---

var (
	crc8Table [256]uint8
	fcsTable  [256]uint16
)

func init() {
	const poly8 = 0xB2 // CRC-8/KOOP, reflected form of 0x4D
	for i := 0; i < 256; i++ {
		crc := uint8(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly8
			} else {
				crc >>= 1
			}
		}
		crc8Table[i] = crc
	}

	const poly16 = 0x8408 // CRC-16/KERMIT, reflected 0x1021
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly16
			} else {
				crc >>= 1
			}
		}
		fcsTable[i] = crc
	}
}

// zbossCRC8: init=0xFF, xorout=0xFF.
func zbossCRC8(data []byte) uint8 {
	crc := uint8(0xFF)
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc ^ 0xFF
}

// zbossCRC16: init=0x0000, xorout=0x0000.
func zbossCRC16(data []byte) uint16 {
	crc := uint16(0x0000)
	for _, b := range data {
		crc = (crc >> 8) ^ fcsTable[(crc^uint16(b))&0xFF]
	}
	return crc
}

// --- Encode ---

// zbossEncodeRequest builds a complete ZBOSS frame for an HL request.
// pktSeq is the 2-bit LL packet sequence number.
func zbossEncodeRequest(callID uint16, tsn uint8, pktSeq uint8, payload []byte) []byte {
	hlData := make([]byte, 5+len(payload))
	hlData[0] = zbossHLVersion
	hlData[1] = zbossHLRequest
	binary.LittleEndian.PutUint16(hlData[2:4], callID)
	hlData[4] = tsn
	copy(hlData[5:], payload)

	return zbossEncodeDataFrame(pktSeq, hlData)
}

// zbossEncodeDataFrame wraps HL data in an LL data frame.
func zbossEncodeDataFrame(pktSeq uint8, hlData []byte) []byte {
	bodyCRC := zbossCRC16(hlData)

	bodyLen := zbossBodyCRCSize + len(hlData)
	// Size covers size(2) + type(1) + flags(1) + crc8(1) + body.
	llSize := uint16(5 + bodyLen)

	flags := uint8(zbossFlagFirstFrag | zbossFlagLastFrag)
	flags |= (pktSeq << zbossFlagPktSeqShift) & zbossFlagPktSeqMask

	frame := make([]byte, 2+int(llSize))
	frame[0] = zbossSig0
	frame[1] = zbossSig1
	binary.LittleEndian.PutUint16(frame[2:4], llSize)
	frame[4] = zbossLLType
	frame[5] = flags
	frame[6] = zbossCRC8(frame[2:6])

	binary.LittleEndian.PutUint16(frame[7:9], bodyCRC)
	copy(frame[9:], hlData)

	return frame
}

// zbossEncodeACK builds an LL ACK frame (7 bytes, no body).
func zbossEncodeACK(ackSeq uint8) []byte {
	frame := make([]byte, zbossLLHeaderSize)
	frame[0] = zbossSig0
	frame[1] = zbossSig1
	binary.LittleEndian.PutUint16(frame[2:4], 5)
	frame[4] = zbossLLType
	frame[5] = zbossFlagACK | ((ackSeq << zbossFlagAckSeqShift) & zbossFlagAckSeqMask)
	frame[6] = zbossCRC8(frame[2:6])
	return frame
}

// --- Decode ---

// readRawZBOSSFrame reads one LL frame from r, resynchronising on the
// signature after garbage or an implausible length.
func readRawZBOSSFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != zbossSig0 {
			continue
		}
		next, err := r.Peek(1)
		if err != nil {
			return nil, err
		}
		if next[0] != zbossSig1 {
			continue
		}
		_, _ = r.ReadByte()

		var sizeBuf [2]byte
		if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
			return nil, err
		}
		size := binary.LittleEndian.Uint16(sizeBuf[:])
		if size < 5 || int(size)+2 > zbossMaxFrameSize {
			continue
		}
		frame := make([]byte, 2+int(size))
		frame[0] = zbossSig0
		frame[1] = zbossSig1
		copy(frame[2:4], sizeBuf[:])
		if _, err := io.ReadFull(r, frame[4:]); err != nil {
			return nil, err
		}
		return frame, nil
	}
}

// errBadFrame wraps every framing failure.
var errBadFrame = errors.New("zboss: bad frame")

func badFrame(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{errBadFrame}, args...)...)
}

// zbossDecodeFrame validates both CRCs and splits a raw frame into its LL
// header, HL header and payload. ACK frames carry no body.
func zbossDecodeFrame(data []byte) (*zbossFrame, error) {
	switch {
	case len(data) < zbossLLHeaderSize:
		return nil, badFrame("%d bytes is shorter than the LL header", len(data))
	case data[0] != zbossSig0 || data[1] != zbossSig1:
		return nil, badFrame("signature %02X %02X", data[0], data[1])
	}

	ll := zbossLLHeader{
		Length: binary.LittleEndian.Uint16(data[2:4]),
		Type:   data[4],
		Flags:  data[5],
	}
	switch want := zbossCRC8(data[2:6]); {
	case data[6] != want:
		return nil, badFrame("LL crc %02X, computed %02X", data[6], want)
	case ll.Type != zbossLLType:
		return nil, badFrame("LL type %02X", ll.Type)
	case len(data) < 2+int(ll.Length):
		return nil, badFrame("LL length %d exceeds %d received bytes", ll.Length, len(data))
	}

	f := &zbossFrame{LL: ll}
	if zbossLLIsACK(ll.Flags) {
		return f, nil
	}

	body := data[zbossLLHeaderSize : 2+int(ll.Length)]
	if len(body) < zbossBodyCRCSize+4 {
		return nil, badFrame("body of %d bytes", len(body))
	}
	hl := body[zbossBodyCRCSize:]
	if sum, want := binary.LittleEndian.Uint16(body), zbossCRC16(hl); sum != want {
		return nil, badFrame("body crc %04X, computed %04X", sum, want)
	}

	f.HL = zbossHLHeader{
		Version:    hl[0],
		PacketType: hl[1],
		CallID:     binary.LittleEndian.Uint16(hl[2:4]),
	}
	var hdrLen int
	switch f.HL.PacketType {
	case zbossHLIndication:
		hdrLen = 4
	case zbossHLRequest:
		hdrLen = 5
	case zbossHLResponse:
		hdrLen = 7
	default:
		return nil, badFrame("HL packet type %02X", f.HL.PacketType)
	}
	if len(hl) < hdrLen {
		return nil, badFrame("%s header of %d bytes", zbossCmdName(f.HL.CallID), len(hl))
	}
	if hdrLen > 4 {
		f.HL.TSN = hl[4]
	}
	if hdrLen > 5 {
		f.HL.StatusCat, f.HL.StatusCode = hl[5], hl[6]
	}
	if rest := hl[hdrLen:]; len(rest) > 0 {
		f.Payload = append([]byte(nil), rest...)
	}
	return f, nil
}

// --- NWK payloads ---

// buildNwkDiscoveryReq: channel_list_len(1) + [page(1) + mask(4)] + scan_duration(1).
func buildNwkDiscoveryReq(channelMask uint32, duration uint8) []byte {
	buf := make([]byte, 7)
	buf[0] = 0x01
	buf[1] = 0x00 // page 0 (2.4 GHz)
	binary.LittleEndian.PutUint32(buf[2:6], channelMask)
	buf[6] = duration
	return buf
}

// parseNetworkDescriptors decodes a NwkDiscovery response:
// network_count(1) + descriptors[count * 16], each
// ext_pan_id(8) + pan_id(2) + nwk_update_id(1) + channel_page(1) + channel(1) + flags(1) + lqi(1) + rssi(1).
func parseNetworkDescriptors(payload []byte) []NetworkDescriptor {
	if len(payload) < 1 {
		return nil
	}
	count := int(payload[0])
	const descSize = 16
	results := make([]NetworkDescriptor, 0, count)
	for i := 0; i < count; i++ {
		off := 1 + i*descSize
		if off+descSize > len(payload) {
			break
		}
		d := payload[off : off+descSize]
		r := NetworkDescriptor{
			PanID:    binary.LittleEndian.Uint16(d[8:10]),
			UpdateID: d[10],
			Channel:  d[12],
			LQI:      d[14],
			RSSI:     int8(d[15]),
		}
		copy(r.ExtPanID[:], d[0:8])
		flags := d[13]
		r.PermitJoin = flags&0x01 != 0
		r.RouterCap = flags&0x02 != 0
		r.EDCap = flags&0x04 != 0
		r.StackProfile = (flags >> 4) & 0x0F
		results = append(results, r)
	}
	return results
}

// buildNlmeJoinReq: ext_pan_id(8) + rejoin_network(1) + channel_list_len(1) +
// [page(1) + mask(4)] + scan_duration(1) + capability(1) + security_enable(1).
func buildNlmeJoinReq(p AssociationParams, scanDuration uint8) []byte {
	buf := make([]byte, 18)
	copy(buf[0:8], p.ExtPanID[:])
	buf[8] = 0x00 // MAC association
	buf[9] = 0x01
	buf[10] = 0x00
	binary.LittleEndian.PutUint32(buf[11:15], p.ChannelMask)
	buf[15] = scanDuration
	buf[16] = capabilityInfo(p.Sleepy)
	buf[17] = 0x01
	return buf
}

func capabilityInfo(sleepy bool) uint8 {
	c := capAllocateAddress
	if !sleepy {
		c |= capRxOnWhenIdle
	}
	return c
}

// joinResult is the NwkNlmeJoin response:
// short_addr(2) + ext_pan_id(8) + channel_page(1) + channel(1) + enh_beacon(1) + mac_iface(1).
type joinResult struct {
	ShortAddr uint16
	ExtPanID  [8]byte
	Channel   uint8
}

func parseJoinResult(payload []byte) (joinResult, bool) {
	var r joinResult
	if len(payload) < 12 {
		return r, false
	}
	r.ShortAddr = binary.LittleEndian.Uint16(payload[0:2])
	copy(r.ExtPanID[:], payload[2:10])
	r.Channel = payload[11]
	return r, true
}

// buildMgmtLeaveReq: dest_short(2) + ieee(8) + flags(1). flags=0 leaves
// without rejoin.
func buildMgmtLeaveReq(shortAddr uint16, ieee [8]byte) []byte {
	buf := make([]byte, 11)
	binary.LittleEndian.PutUint16(buf[0:2], shortAddr)
	copy(buf[2:10], ieee[:])
	return buf
}

// buildSimpleDescPayload builds AF_SET_SIMPLE_DESC payload.
func buildSimpleDescPayload(ep uint8, profileID, deviceID uint16, devVersion uint8, inClusters, outClusters []uint16) []byte {
	buf := make([]byte, 8+len(inClusters)*2+len(outClusters)*2)
	buf[0] = ep
	binary.LittleEndian.PutUint16(buf[1:3], profileID)
	binary.LittleEndian.PutUint16(buf[3:5], deviceID)
	buf[5] = devVersion
	buf[6] = uint8(len(inClusters))
	buf[7] = uint8(len(outClusters))
	pos := 8
	for _, c := range inClusters {
		binary.LittleEndian.PutUint16(buf[pos:pos+2], c)
		pos += 2
	}
	for _, c := range outClusters {
		binary.LittleEndian.PutUint16(buf[pos:pos+2], c)
		pos += 2
	}
	return buf
}

// --- APS payloads ---

// buildAPSDEDataReq builds the APSDE_DATA_REQ payload.
func buildAPSDEDataReq(dstAddr uint16, dstEP, srcEP uint8, clusterID, profileID uint16, radius uint8, apsData []byte) []byte {
	// param_len(1) + data_len(2) + dst_addr(8) + profile_id(2) + cluster_id(2) +
	// dst_endpoint(1) + src_endpoint(1) + radius(1) + dst_addr_mode(1) +
	// tx_options(1) + use_alias(1) + alias_src_addr(2) + alias_seq_num(1) + data
	const fixedLen = 24
	buf := make([]byte, fixedLen+len(apsData))
	buf[0] = fixedLen - 3
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(apsData)))
	binary.LittleEndian.PutUint16(buf[3:5], dstAddr)
	binary.LittleEndian.PutUint16(buf[11:13], profileID)
	binary.LittleEndian.PutUint16(buf[13:15], clusterID)
	buf[15] = dstEP
	buf[16] = srcEP
	buf[17] = radius
	buf[18] = zbossAddrModeShort
	buf[19] = 0x04 // tx_options: APS ACK
	copy(buf[24:], apsData)
	return buf
}

// apsDataInd is the parsed fixed header of APSDE_DATA_IND.
type apsDataInd struct {
	SrcAddr   uint16
	DstEP     uint8
	SrcEP     uint8
	ClusterID uint16
	ProfileID uint16
	LQI       uint8
	RSSI      int8
	Data      []byte
}

// parseAPSDEDataInd decodes param_len(1) + data_len(2) + aps_fc(1) +
// src_nwk_addr(2) + dst_nwk_addr(2) + group_addr(2) + dst_endpoint(1) +
// src_endpoint(1) + cluster_id(2) + profile_id(2) + aps_counter(1) +
// src_mac_addr(2) + dst_mac_addr(2) + lqi(1) + rssi(1) + aps_key_attr(1) + data.
func parseAPSDEDataInd(payload []byte) (apsDataInd, error) {
	const apsHdrSize = 24
	var ind apsDataInd
	if len(payload) < apsHdrSize {
		return ind, fmt.Errorf("apsde data ind: short header: %d bytes", len(payload))
	}
	dataLen := int(binary.LittleEndian.Uint16(payload[1:3]))
	if dataLen == 0 || len(payload) < apsHdrSize+dataLen {
		return ind, fmt.Errorf("apsde data ind: data length %d exceeds payload", dataLen)
	}
	ind.SrcAddr = binary.LittleEndian.Uint16(payload[4:6])
	ind.DstEP = payload[10]
	ind.SrcEP = payload[11]
	ind.ClusterID = binary.LittleEndian.Uint16(payload[12:14])
	ind.ProfileID = binary.LittleEndian.Uint16(payload[14:16])
	ind.LQI = payload[21]
	ind.RSSI = int8(payload[22])
	ind.Data = payload[apsHdrSize : apsHdrSize+dataLen]
	return ind, nil
}
