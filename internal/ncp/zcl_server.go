package ncp

import (
	"context"
	"fmt"
)

// ZCL statuses used by the server side.
const (
	zclStatusSuccess              uint8 = 0x00
	zclStatusUnsupClusterCommand  uint8 = 0x81
	zclStatusUnsupGeneralCommand  uint8 = 0x82
	zclStatusUnsupportedAttribute uint8 = 0x86
	zclStatusInvalidDataType      uint8 = 0x8D
	zclStatusUnreportable         uint8 = 0x8C
)

// serveZCL answers a ZCL command addressed to the sensor endpoint.
func (n *ZBOSS) serveZCL(ind apsDataInd) {
	if ind.DstEP != n.cfg.Endpoint && ind.DstEP != 0xFF {
		return
	}
	hdr, payload, err := parseZCLHeader(ind.Data)
	if err != nil {
		n.logger.Debug("zcl frame dropped", "src", fmt.Sprintf("0x%04X", ind.SrcAddr), "err", err)
		return
	}
	if hdr.FrameCtrl&zclDirServerToClient != 0 {
		// Responses to our reports (default responses) need no answer.
		return
	}

	n.handlerMu.RLock()
	server, reporter := n.server, n.reporter
	n.handlerMu.RUnlock()

	var rsp []byte
	switch {
	case hdr.frameType() == zclFrameTypeCluster:
		if hdr.wantsDefaultResponse() {
			rsp = zclBuildDefaultResponse(hdr, zclStatusUnsupClusterCommand)
		}

	case hdr.CmdID == zclCmdReadAttributes && server != nil:
		ids := parseReadAttributesReq(payload)
		records := make([]AttributeResponse, 0, len(ids))
		for _, id := range ids {
			dt, val, st := server.ReadAttribute(ind.ClusterID, hdr.MfgCode, id)
			records = append(records, AttributeResponse{AttrID: id, Status: st, DataType: dt, Value: val})
		}
		rsp = zclBuildReadAttributesRsp(hdr, records)

	case hdr.CmdID == zclCmdWriteAttributes && server != nil:
		records, err := parseWriteRecords(payload)
		if err != nil {
			n.logger.Warn("malformed write attributes", "cluster", fmt.Sprintf("0x%04X", ind.ClusterID), "err", err)
			if len(records) == 0 {
				rsp = zclBuildDefaultResponse(hdr, zclStatusInvalidDataType)
				break
			}
		}
		statuses := server.WriteAttributes(ind.ClusterID, hdr.MfgCode, records)
		rsp = zclBuildWriteAttributesRsp(hdr, records, statuses)

	case hdr.CmdID == zclCmdConfigReporting && reporter != nil:
		cfgs, err := parseConfigureReporting(payload)
		if err != nil {
			n.logger.Warn("malformed configure reporting", "err", err)
		}
		statuses := make([]uint8, len(cfgs))
		for i, c := range cfgs {
			statuses[i] = reporter.configure(ind.ClusterID, c)
		}
		rsp = zclBuildConfigReportingRsp(hdr, statuses, cfgs)

	default:
		if hdr.wantsDefaultResponse() {
			rsp = zclBuildDefaultResponse(hdr, zclStatusUnsupGeneralCommand)
		}
	}
	if rsp == nil {
		return
	}

	ctx, cancel := context.WithTimeout(n.ctx, hlRespTimeout)
	defer cancel()
	req := buildAPSDEDataReq(ind.SrcAddr, ind.SrcEP, n.cfg.Endpoint, ind.ClusterID, zclProfileHA, 30, rsp)
	if _, err := n.request(ctx, zbossCmdAPSDEDataReq, req); err != nil {
		n.logger.Warn("zcl response send failed",
			"cluster", fmt.Sprintf("0x%04X", ind.ClusterID),
			"cmd", fmt.Sprintf("0x%02X", hdr.CmdID),
			"err", err)
	}
}
