package editorserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/unity-mcp-bridge/internal/wsframe"
)

var (
	jsonMediaType    = contenttype.NewMediaType("application/json")
	textMediaType    = contenttype.NewMediaType("text/plain")
	statusMediaTypes = []contenttype.MediaType{jsonMediaType, textMediaType}
)

// Status is the body served to plain HTTP GET requests on the editor port.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Sessions  int       `json:"sessions"`
	Methods   []string  `json:"methods"`
	StartedAt time.Time `json:"started_at"`
}

// Status reports the current server state.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Name:      s.instanceName,
		Running:   s.running,
		Sessions:  len(s.sessions),
		Methods:   s.reg.Names(),
		StartedAt: s.startedAt.UTC(),
	}
}

// serveStatus answers a non-upgrade request so that a browser or health check
// pointed at the port gets something useful back.
func (s *Server) serveStatus(conn net.Conn, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		_ = wsframe.WriteReject(conn, http.StatusMethodNotAllowed, "websocket upgrade required")
		return
	}

	mt, _, err := contenttype.GetAcceptableMediaType(req, statusMediaTypes)
	if err != nil {
		_ = wsframe.WriteReject(conn, http.StatusNotAcceptable, "supported types: application/json, text/plain")
		return
	}

	st := s.Status()
	var body []byte
	ctype := mt.Type + "/" + mt.Subtype
	if mt.Type == jsonMediaType.Type && mt.Subtype == jsonMediaType.Subtype {
		body, err = json.Marshal(st)
		if err != nil {
			s.log.Error("editorserver.status.marshal.fail", slog.String("err", err.Error()))
			_ = wsframe.WriteReject(conn, http.StatusInternalServerError, "internal error")
			return
		}
	} else {
		ctype += "; charset=utf-8"
		body = []byte(fmt.Sprintf("%s: running=%t sessions=%d methods=%s\n",
			st.Name, st.Running, st.Sessions, strings.Join(st.Methods, ",")))
	}
	if req.Method == http.MethodHead {
		body = nil
	}
	_ = wsframe.WriteResponse(conn, http.StatusOK, ctype, body)
}
