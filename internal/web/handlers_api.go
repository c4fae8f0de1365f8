package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"zigbee-sensor-node/internal/button"
	"zigbee-sensor-node/internal/config"
	"zigbee-sensor-node/internal/zcl"
)

const loopTimeout = 2 * time.Second

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), loopTimeout)
	defer cancel()
	st, err := s.node.QueryStatus(ctx)
	if err != nil {
		s.logger.Warn("status query failed", "err", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "node busy"})
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAPIGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.ConfigSnapshot())
}

type configResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleAPIPatchConfig applies several settings in name order. Each is
// validated on its own; the response reports every key.
func (s *Server) handleAPIPatchConfig(w http.ResponseWriter, r *http.Request) {
	var req map[string]interface{}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req) == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	keys := make([]string, 0, len(req))
	for k := range req {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	code := http.StatusOK
	results := make(map[string]configResult, len(req))
	for _, k := range keys {
		status, res := s.setConfig(r.Context(), k, req[k])
		results[k] = res
		if status != http.StatusOK {
			code = status
		}
	}
	s.writeJSON(w, code, map[string]interface{}{
		"results": results,
		"config":  s.node.ConfigSnapshot(),
	})
}

type setConfigRequest struct {
	Value interface{} `json:"value"`
}

func (s *Server) handleAPISetConfig(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req setConfigRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<12)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	status, res := s.setConfig(r.Context(), key, req.Value)
	s.writeJSON(w, status, res)
}

func (s *Server) setConfig(ctx context.Context, key string, value interface{}) (int, configResult) {
	ctx, cancel := context.WithTimeout(ctx, loopTimeout)
	defer cancel()
	err := s.node.SetConfig(ctx, key, value)
	switch {
	case err == nil:
		return http.StatusOK, configResult{Status: zcl.StatusName(zcl.ZCLStatusSuccess)}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.logger.Warn("config write timed out", "key", key, "err", err)
		return http.StatusServiceUnavailable, configResult{Status: zcl.StatusName(zcl.ZCLStatusFailure), Error: "node busy"}
	}
	st := config.Status(err)
	code := http.StatusBadRequest
	if st == zcl.ZCLStatusUnsupportedAttr {
		code = http.StatusNotFound
	}
	return code, configResult{Status: zcl.StatusName(st), Error: err.Error()}
}

type clusterView struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Attributes []attributeView `json:"attributes"`
}

type attributeView struct {
	ID           string `json:"id"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Readable     bool   `json:"readable"`
	Writable     bool   `json:"writable"`
	Reportable   bool   `json:"reportable"`
}

func (s *Server) handleAPIListClusters(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		s.writeJSON(w, http.StatusOK, []clusterView{})
		return
	}
	all := s.registry.All()
	out := make([]clusterView, 0, len(all))
	for _, c := range all {
		v := clusterView{ID: fmt.Sprintf("0x%04X", c.ID), Name: c.Name}
		for _, a := range c.Attributes {
			av := attributeView{
				ID:         fmt.Sprintf("0x%04X", a.ID),
				Name:       a.Name,
				Type:       zcl.TypeName(a.Type),
				Readable:   a.IsReadable(),
				Writable:   a.IsWritable(),
				Reportable: a.IsReportable(),
			}
			if a.Manufacturer != 0 {
				av.Manufacturer = fmt.Sprintf("0x%04X", a.Manufacturer)
			}
			v.Attributes = append(v.Attributes, av)
		}
		out = append(out, v)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

type buttonRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleAPIButton(w http.ResponseWriter, r *http.Request) {
	var req buttonRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<10)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	var a button.Action
	switch req.Action {
	case "short", "short_press":
		a = button.ShortPress
	case "long", "long_press":
		a = button.LongPress
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action must be short or long"})
		return
	}
	s.logger.Info("debug button trigger", "action", a.String())
	s.node.Press(a)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "action": a.String()})
}

func (s *Server) handleAPISample(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("debug sample trigger")
	s.node.RequestSample()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
