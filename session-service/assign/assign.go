/*
Package assign implements the workspace resolution flow of the session
service: given an authenticated (user, session) pair, find the machine the
session should connect to, reusing the user's running machine whenever one
exists and provisioning a fresh one otherwise. Volumes are per-user and
durable; machines are ephemeral and recreated freely.
*/
package assign

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/helixhq/helix/backend/services/auth"
	logger "github.com/helixhq/helix/backend/services/helixlogger"
	"github.com/helixhq/helix/backend/services/httputils"
	"github.com/helixhq/helix/backend/services/machines"
	"github.com/helixhq/helix/backend/services/session-service/config"
	"github.com/helixhq/helix/backend/services/session-service/dbdriver"
	"github.com/helixhq/helix/backend/services/types"
	"github.com/helixhq/helix/backend/services/utils"
)

// machineReadTimeout bounds the probe of a possibly-dead machine. Probes are
// advisory: a slow answer is treated like a missing machine, and we fall
// through to the next resolution step rather than block the request.
const machineReadTimeout = 10 * time.Second

// storeWriteAttempts is how many times we retry a failed session mapping
// write before giving up. Reads are never retried; a failed read just means
// we provision fresh.
const storeWriteAttempts = 3

// Resolver resolves (user, session) pairs to workspace machines. Both
// dependencies are interfaces so tests can substitute mocks.
type Resolver struct {
	Store    dbdriver.SessionStore
	Machines machines.MachinesClient
}

// WorkspaceAssign is the action responsible for resolving a workspace
// machine for a user session. Resolution order is: the machine already
// recorded for this exact session, then any running machine recorded for
// another of the user's sessions, then a freshly provisioned machine backed
// by the user's (possibly new) volume.
func (r *Resolver) WorkspaceAssign(ctx context.Context, assignRequest *httputils.WorkspaceAssignRequest) error {
	contextFields := []interface{}{
		zap.String("user_id", string(assignRequest.UserID)),
		zap.String("session_id", string(assignRequest.SessionID)),
	}
	logger.Infow("Starting workspace assign action.", contextFields)
	defer logger.Infow("Finished workspace assign action.", contextFields)

	// This is necessary so that the request is always closed when
	// encountering an error in the resolution flow.
	var serviceUnavailable = true
	defer func() {
		if serviceUnavailable {
			assignRequest.ReturnResult(httputils.WorkspaceAssignRequestResult{
				Error: SERVICE_UNAVAILABLE,
			}, nil)
		}
	}()

	userID := assignRequest.UserID
	sessionID := assignRequest.SessionID

	// Step one: the machine recorded for this exact session. A store read
	// failure is not fatal; resolution degrades to provisioning fresh.
	mapping, err := r.Store.GetSessionMapping(ctx, userID, sessionID)
	if err != nil {
		logger.Errorf("couldn't read session mapping for user %s, session %s: %s", userID, sessionID, err)
	}
	if mapping != nil && mapping.MachineID != nil {
		if machine := r.probeMachine(ctx, *mapping.MachineID); machine != nil && machine.State == machines.MachineStateStarted {
			logger.Infow(utils.Sprintf("Reusing machine %s for session %s.", machine.ID, sessionID), contextFields)
			return r.returnResolved(assignRequest, machine.ID, mapping.VolumeID, machine.State, &serviceUnavailable)
		}
	}

	// Step two: any running machine recorded for another of the user's
	// sessions. Stale mappings (machine gone, stopped, or unreachable) are
	// skipped, not cleaned up.
	userMappings, err := r.Store.GetSessionsForUser(ctx, userID)
	if err != nil {
		logger.Errorf("couldn't read session mappings for user %s: %s", userID, err)
	}
	for _, candidate := range userMappings {
		if candidate.MachineID == nil {
			continue
		}
		if candidate.SessionID == sessionID {
			continue
		}

		machine := r.probeMachine(ctx, *candidate.MachineID)
		if machine == nil || machine.State != machines.MachineStateStarted {
			continue
		}

		logger.Infow(utils.Sprintf("Reusing machine %s from session %s for new session %s.", machine.ID, candidate.SessionID, sessionID), contextFields)

		// Record the mapping for the new session, carrying the candidate's
		// volume id along so the new session row is complete. A failed write
		// here is fatal: returning a machine the store doesn't know about
		// would strand the session on the next resolve.
		newMapping := dbdriver.SessionMapping{
			UserID:    userID,
			SessionID: sessionID,
			MachineID: candidate.MachineID,
			VolumeID:  candidate.VolumeID,
		}
		if err := r.upsertWithRetry(ctx, newMapping); err != nil {
			assignRequest.ReturnResult(httputils.WorkspaceAssignRequestResult{
				Error: STORE_UNAVAILABLE,
			}, nil)
			serviceUnavailable = false
			return utils.MakeError("couldn't record reused machine %s for user %s, session %s: %s", machine.ID, userID, sessionID, err)
		}

		return r.returnResolved(assignRequest, machine.ID, candidate.VolumeID, machine.State, &serviceUnavailable)
	}

	// Step three: provision fresh.
	return r.provisionWorkspace(ctx, assignRequest, &serviceUnavailable, contextFields)
}

// provisionWorkspace creates a machine for the user (reusing or creating the
// user's volume), records the session mapping, and returns the result.
func (r *Resolver) provisionWorkspace(ctx context.Context, assignRequest *httputils.WorkspaceAssignRequest, serviceUnavailable *bool, contextFields []interface{}) error {
	userID := assignRequest.UserID
	sessionID := assignRequest.SessionID

	volumeID, err := r.getOrCreateUserVolume(ctx, userID)
	if err != nil {
		assignRequest.ReturnResult(httputils.WorkspaceAssignRequestResult{
			Error: VOLUME_PROVISIONING_FAILED,
		}, nil)
		*serviceUnavailable = false
		return utils.MakeError("couldn't provision volume for user %s: %s", userID, err)
	}

	// The name doubles as the idempotency key, so every create attempt gets
	// a fresh one. A timed-out create that actually succeeded remotely shows
	// up as an orphan with a recognizable name, not as a silent merge.
	name := newMachineName(userID)

	machine, err := r.Machines.CreateMachine(ctx, machines.CreateMachineRequest{
		Name:   name,
		Config: newMachineConfig(userID, volumeID),
	})
	if err != nil {
		assignRequest.ReturnResult(httputils.WorkspaceAssignRequestResult{
			Error: MACHINE_CREATION_FAILED,
		}, nil)
		*serviceUnavailable = false
		return utils.MakeError("couldn't create machine for user %s, session %s: %s", userID, sessionID, err)
	}

	logger.Infow(utils.Sprintf("Created machine %s for user %s.", machine.ID, userID), contextFields)

	newMapping := dbdriver.SessionMapping{
		UserID:    userID,
		SessionID: sessionID,
		MachineID: &machine.ID,
		VolumeID:  &volumeID,
	}
	if err := r.upsertWithRetry(ctx, newMapping); err != nil {
		// The machine exists but the store doesn't know about it. Surface
		// the failure; the orphaned machine is recoverable by name.
		assignRequest.ReturnResult(httputils.WorkspaceAssignRequestResult{
			Error: STORE_UNAVAILABLE,
		}, nil)
		*serviceUnavailable = false
		return utils.MakeError("couldn't record new machine %s for user %s, session %s: %s", machine.ID, userID, sessionID, err)
	}

	// Machines launch in start-immediately mode, so report the machine as
	// started rather than echoing the create response's transitional state.
	// Callers that need strict readiness poll workspace/status themselves;
	// blocking here on a poll-to-ready loop would make assign latency
	// unbounded.
	return r.returnResolved(assignRequest, machine.ID, &volumeID, machines.MachineStateStarted, serviceUnavailable)
}

// WorkspaceStatus is the action responsible for reporting a machine's boot
// progress after an assign.
func (r *Resolver) WorkspaceStatus(ctx context.Context, statusRequest *httputils.WorkspaceStatusRequest) error {
	probeCtx, cancel := context.WithTimeout(ctx, machineReadTimeout)
	defer cancel()

	machine, err := r.Machines.GetMachine(probeCtx, statusRequest.MachineID)
	if err != nil {
		statusRequest.ReturnResult(httputils.WorkspaceStatusRequestResult{
			MachineID: statusRequest.MachineID,
			Error:     SERVICE_UNAVAILABLE,
		}, nil)
		return utils.MakeError("couldn't get status of machine %s: %s", statusRequest.MachineID, err)
	}

	statusRequest.ReturnResult(httputils.WorkspaceStatusRequestResult{
		MachineID: machine.ID,
		State:     machine.State,
	}, nil)

	return nil
}

// probeMachine fetches a machine's state, treating every failure (missing,
// timed out, API error) as "not usable". Probe failures are logged at info
// level only when the machine is genuinely gone, since that's the expected
// fate of ephemeral machines.
func (r *Resolver) probeMachine(ctx context.Context, machineID types.MachineID) *machines.Machine {
	probeCtx, cancel := context.WithTimeout(ctx, machineReadTimeout)
	defer cancel()

	machine, err := r.Machines.GetMachine(probeCtx, machineID)
	if err != nil {
		if machines.IsNotFound(err) {
			logger.Infof("Machine %s no longer exists, falling through.", machineID)
		} else {
			logger.Errorf("couldn't probe machine %s: %s", machineID, err)
		}
		return nil
	}

	return machine
}

// upsertWithRetry writes a session mapping, retrying transient failures a
// few times before reporting the store unavailable.
func (r *Resolver) upsertWithRetry(ctx context.Context, mapping dbdriver.SessionMapping) error {
	return utils.Retry(ctx, storeWriteAttempts, 250*time.Millisecond, func() (bool, error) {
		if err := r.Store.UpsertSessionMapping(ctx, mapping); err != nil {
			return true, err
		}
		return false, nil
	})
}

// returnResolved issues the capability token for the resolved machine and
// sends the successful result back to the handler.
func (r *Resolver) returnResolved(assignRequest *httputils.WorkspaceAssignRequest, machineID types.MachineID, volumeID *types.VolumeID, state machines.MachineState, serviceUnavailable *bool) error {
	token, err := auth.IssueCapabilityToken(assignRequest.UserID, machineID)
	if err != nil {
		// The machine is usable even if we couldn't mint a token; log and
		// return the result without one rather than fail the whole resolve.
		logger.Errorf("couldn't issue capability token for user %s, machine %s: %s", assignRequest.UserID, machineID, err)
	}

	result := httputils.WorkspaceAssignRequestResult{
		MachineID:       machineID,
		URL:             workspaceURL(machineID),
		State:           state,
		CapabilityToken: token,
	}
	if volumeID != nil {
		result.VolumeID = *volumeID
	}

	assignRequest.ReturnResult(result, nil)
	*serviceUnavailable = false

	return nil
}

// workspaceURL derives the public URL of a workspace machine.
func workspaceURL(machineID types.MachineID) string {
	return utils.Sprintf("https://%s.%s.fly.dev", machineID, config.GetMachinesAppName())
}
