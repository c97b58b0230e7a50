package httputils // import "github.com/helixhq/helix/backend/services/httputils"

import (
	"github.com/helixhq/helix/backend/services/machines"
	"github.com/helixhq/helix/backend/services/types"
)

// Request types

// WorkspaceAssignRequest defines the `workspace/assign` endpoint. A user
// sends it at the start of every session; the response tells the frontend
// which machine to connect to.
type WorkspaceAssignRequest struct {
	SessionID  types.SessionID    `json:"session_id"` // Client-generated session identifier
	UserID     types.UserID       // The userID is obtained from the access token
	ResultChan chan RequestResult // Channel to pass the request result between goroutines
}

// WorkspaceAssignRequestResult defines the data returned by the
// `workspace/assign` endpoint.
type WorkspaceAssignRequestResult struct {
	MachineID       types.MachineID       `json:"machine_id"`
	VolumeID        types.VolumeID        `json:"volume_id"`
	URL             string                `json:"url"`
	State           machines.MachineState `json:"state"`
	CapabilityToken string                `json:"capability_token,omitempty"`
	Error           string                `json:"error"`
}

// ReturnResult is called to pass the result of a request back to the HTTP
// request handler.
func (s *WorkspaceAssignRequest) ReturnResult(result interface{}, err error) {
	s.ResultChan <- RequestResult{
		Result: result,
		Err:    err,
	}
}

// CreateResultChan is called to create the Go channel to pass the request
// result back to the HTTP request handler via ReturnResult.
func (s *WorkspaceAssignRequest) CreateResultChan() {
	if s.ResultChan == nil {
		s.ResultChan = make(chan RequestResult)
	}
}

// WorkspaceStatusRequest defines the `workspace/status` endpoint, used by
// the frontend to poll a machine's boot progress after an assign.
type WorkspaceStatusRequest struct {
	MachineID  types.MachineID    `json:"machine_id"`
	UserID     types.UserID       // The userID is obtained from the access token
	ResultChan chan RequestResult // Channel to pass the request result between goroutines
}

// WorkspaceStatusRequestResult defines the data returned by the
// `workspace/status` endpoint.
type WorkspaceStatusRequestResult struct {
	MachineID types.MachineID       `json:"machine_id"`
	State     machines.MachineState `json:"state"`
	Error     string                `json:"error"`
}

// ReturnResult is called to pass the result of a request back to the HTTP
// request handler.
func (s *WorkspaceStatusRequest) ReturnResult(result interface{}, err error) {
	s.ResultChan <- RequestResult{
		Result: result,
		Err:    err,
	}
}

// CreateResultChan is called to create the Go channel to pass the request
// result back to the HTTP request handler via ReturnResult.
func (s *WorkspaceStatusRequest) CreateResultChan() {
	if s.ResultChan == nil {
		s.ResultChan = make(chan RequestResult)
	}
}
