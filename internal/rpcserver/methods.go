package rpcserver

import (
	"encoding/json"

	"github.com/gophpeek/procd/internal/audit"
	"github.com/gophpeek/procd/internal/process"
	"github.com/gophpeek/procd/internal/state"
)

// dispatch translates one parsed request into a daemon action and its
// response, per spec.md §4.6. Every branch runs under the daemon's own
// locking; none of them wait for the target state to be observed.
func (s *Server) dispatch(req Request) Response {
	id := *req.ID

	switch req.Method {
	case "status":
		return resultResponse(id, renderStatuses(s.daemon.Status()))

	case "status_single":
		name, ok := s.parseName(req.Params)
		if !ok {
			return errorResponse(req.ID, CodeInvalidParams, "missing or invalid \"name\"")
		}
		st, found := s.daemon.StatusSingle(name)
		if !found {
			return errorResponse(req.ID, CodeInvalidParams, "unknown process "+name)
		}
		return resultResponse(id, NamedState{Name: st.Name, State: st.State})

	case "start":
		return s.pushNamed(req, id, state.Healthy, audit.EventProcessStart, "started")
	case "stop":
		return s.pushNamed(req, id, state.Idle, audit.EventProcessStop, "stopped")
	case "restart":
		return s.pushNamed(req, id, state.Ready, audit.EventProcessRestart, "restarted")

	case "reload":
		cfg, err := s.loadConfig()
		if err != nil {
			s.logAudit(audit.EventConfigReload, "", audit.StatusFailure, err.Error())
			return errorResponse(req.ID, CodeInternalError, "reload failed: "+err.Error())
		}
		s.daemon.Reload(cfg)
		s.logAudit(audit.EventConfigReload, "", audit.StatusSuccess, "")
		return resultResponse(id, "reloaded")

	case "halt":
		s.daemon.Halt()
		s.logAudit(audit.EventSystemHalt, "", audit.StatusSuccess, "")
		return resultResponse(id, "halting")

	default:
		return errorResponse(req.ID, CodeMethodNotFound, "unknown method "+req.Method)
	}
}

func (s *Server) pushNamed(req Request, id uint64, kind state.Kind, evt audit.EventType, verb string) Response {
	name, ok := s.parseName(req.Params)
	if !ok {
		return errorResponse(req.ID, CodeInvalidParams, "missing or invalid \"name\"")
	}
	if !s.daemon.PushDesired(name, kind) {
		s.logAudit(evt, name, audit.StatusFailure, "unknown process")
		return errorResponse(req.ID, CodeInvalidParams, "unknown process "+name)
	}
	s.logAudit(evt, name, audit.StatusSuccess, "")
	return resultResponse(id, name+" "+verb)
}

func (s *Server) logAudit(evt audit.EventType, process string, status audit.Status, message string) {
	if s.audit == nil {
		return
	}
	s.audit.Log(audit.Event{EventType: evt, Process: process, Status: status, Message: message})
}

func (s *Server) parseName(params json.RawMessage) (string, bool) {
	if len(params) == 0 {
		return "", false
	}
	var p nameParams
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return "", false
	}
	return p.Name, true
}

func renderStatuses(sts []process.Status) []NamedState {
	out := make([]NamedState, len(sts))
	for i, st := range sts {
		out[i] = NamedState{Name: st.Name, State: st.State}
	}
	return out
}
