package assign

import (
	"context"
	"errors"
	"testing"

	"github.com/helixhq/helix/backend/services/httputils"
	"github.com/helixhq/helix/backend/services/machines"
)

// TestWorkspaceAssignFirstResolve tests the happy path of a user's very
// first resolution: a volume and a machine are created and both ids are
// recorded for the session.
func TestWorkspaceAssignFirstResolve(t *testing.T) {
	store := &mockSessionStore{}
	client := newMockMachinesClient()
	resolver := &Resolver{Store: store, Machines: client}

	result, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("did not expect an error, got: %s", err)
	}

	if result.Error != "" {
		t.Fatalf("did not expect an error code, got %s", result.Error)
	}
	if result.MachineID != "machine-1" {
		t.Errorf("got unexpected machine id %s", result.MachineID)
	}
	if result.VolumeID != "vol-1" {
		t.Errorf("got unexpected volume id %s", result.VolumeID)
	}
	if result.URL != "https://machine-1.helix-workspaces.fly.dev" {
		t.Errorf("got unexpected workspace URL %s", result.URL)
	}
	if result.CapabilityToken == "" {
		t.Error("expected a capability token")
	}

	if client.createVolumeCalls != 1 {
		t.Errorf("expected 1 volume creation, got %d", client.createVolumeCalls)
	}
	if client.createMachineCalls != 1 {
		t.Errorf("expected 1 machine creation, got %d", client.createMachineCalls)
	}

	// The mapping must carry both ids.
	mapping, _ := store.GetSessionMapping(context.Background(), "user-1", "session-1")
	if mapping == nil || mapping.MachineID == nil || mapping.VolumeID == nil {
		t.Fatalf("expected a complete session mapping, got %+v", mapping)
	}
	if *mapping.MachineID != "machine-1" || *mapping.VolumeID != "vol-1" {
		t.Errorf("got unexpected mapping %s/%s", *mapping.MachineID, *mapping.VolumeID)
	}
}

// TestWorkspaceAssignFreshProvisionReportsStarted ensures a fresh provision
// reports the machine as started even though the create response only shows
// the transitional "created" state: machines launch in start-immediately
// mode, and callers poll workspace/status for strict readiness.
func TestWorkspaceAssignFreshProvisionReportsStarted(t *testing.T) {
	store := &mockSessionStore{}
	client := newMockMachinesClient()
	client.createMachineState = machines.MachineStateCreated

	resolver := &Resolver{Store: store, Machines: client}

	result, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("did not expect an error, got: %s", err)
	}

	if result.State != machines.MachineStateStarted {
		t.Errorf("expected a fresh provision to report state %s, got %s", machines.MachineStateStarted, result.State)
	}
}

// TestWorkspaceAssignExactSessionReuse ensures a running machine already
// recorded for the session is returned without creating anything.
func TestWorkspaceAssignExactSessionReuse(t *testing.T) {
	store := &mockSessionStore{}
	client := newMockMachinesClient()
	client.addMachine("machine-live", machines.MachineStateStarted)

	_ = store.UpsertSessionMapping(context.Background(), sessionMapping("user-1", "session-1", "machine-live", "vol-1"))
	store.upsertCalls = 0

	resolver := &Resolver{Store: store, Machines: client}

	result, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("did not expect an error, got: %s", err)
	}

	if result.MachineID != "machine-live" {
		t.Errorf("expected the existing machine to be reused, got %s", result.MachineID)
	}
	if client.createMachineCalls != 0 || client.createVolumeCalls != 0 {
		t.Errorf("did not expect any creations, got %d machines, %d volumes", client.createMachineCalls, client.createVolumeCalls)
	}
	if store.upsertCalls != 0 {
		t.Errorf("did not expect a store write for exact-session reuse, got %d", store.upsertCalls)
	}
}

// TestWorkspaceAssignCrossSessionReuse ensures a new session picks up the
// user's running machine from another session, and that the new mapping
// carries the old mapping's volume id.
func TestWorkspaceAssignCrossSessionReuse(t *testing.T) {
	store := &mockSessionStore{}
	client := newMockMachinesClient()
	client.addMachine("machine-live", machines.MachineStateStarted)

	_ = store.UpsertSessionMapping(context.Background(), sessionMapping("user-1", "session-1", "machine-live", "vol-1"))

	resolver := &Resolver{Store: store, Machines: client}

	result, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-2",
	})
	if err != nil {
		t.Fatalf("did not expect an error, got: %s", err)
	}

	if result.MachineID != "machine-live" {
		t.Errorf("expected the running machine to be reused, got %s", result.MachineID)
	}
	if client.createMachineCalls != 0 {
		t.Errorf("did not expect a machine creation, got %d", client.createMachineCalls)
	}

	mapping, _ := store.GetSessionMapping(context.Background(), "user-1", "session-2")
	if mapping == nil || mapping.MachineID == nil || mapping.VolumeID == nil {
		t.Fatalf("expected a complete mapping for the new session, got %+v", mapping)
	}
	if *mapping.MachineID != "machine-live" || *mapping.VolumeID != "vol-1" {
		t.Errorf("got unexpected mapping %s/%s", *mapping.MachineID, *mapping.VolumeID)
	}

	// The original session's mapping must be left untouched.
	original, _ := store.GetSessionMapping(context.Background(), "user-1", "session-1")
	if original == nil || original.MachineID == nil || original.VolumeID == nil {
		t.Fatalf("expected the original session mapping to survive, got %+v", original)
	}
	if *original.MachineID != "machine-live" || *original.VolumeID != "vol-1" {
		t.Errorf("expected the original session mapping to be unchanged, got %s/%s", *original.MachineID, *original.VolumeID)
	}
}

// TestWorkspaceAssignStaleMachineRecreates ensures that a mapping pointing
// at a destroyed machine falls through to fresh provisioning, reusing the
// user's existing volume.
func TestWorkspaceAssignStaleMachineRecreates(t *testing.T) {
	store := &mockSessionStore{}
	client := newMockMachinesClient()
	// "machine-gone" is not seeded, so probes report it missing.

	_ = store.UpsertSessionMapping(context.Background(), sessionMapping("user-1", "session-1", "machine-gone", "vol-old"))

	resolver := &Resolver{Store: store, Machines: client}

	result, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("did not expect an error, got: %s", err)
	}

	if result.MachineID != "machine-1" {
		t.Errorf("expected a fresh machine, got %s", result.MachineID)
	}
	if result.VolumeID != "vol-old" {
		t.Errorf("expected the existing volume to be reused, got %s", result.VolumeID)
	}
	if client.createVolumeCalls != 0 {
		t.Errorf("did not expect a volume creation, got %d", client.createVolumeCalls)
	}

	mapping, _ := store.GetSessionMapping(context.Background(), "user-1", "session-1")
	if mapping == nil || mapping.MachineID == nil || *mapping.MachineID != "machine-1" {
		t.Fatalf("expected the mapping to point at the fresh machine, got %+v", mapping)
	}
	if mapping.VolumeID == nil || *mapping.VolumeID != "vol-old" {
		t.Errorf("expected the mapping to keep the existing volume, got %+v", mapping.VolumeID)
	}
}

// TestWorkspaceAssignNonStartedFallthrough ensures machines that exist but
// are not running are never reused.
func TestWorkspaceAssignNonStartedFallthrough(t *testing.T) {
	store := &mockSessionStore{}
	client := newMockMachinesClient()
	client.addMachine("machine-stopped", machines.MachineStateStopped)

	_ = store.UpsertSessionMapping(context.Background(), sessionMapping("user-1", "session-1", "machine-stopped", "vol-1"))

	resolver := &Resolver{Store: store, Machines: client}

	result, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("did not expect an error, got: %s", err)
	}

	if result.MachineID == "machine-stopped" {
		t.Error("did not expect the stopped machine to be reused")
	}
	if client.createMachineCalls != 1 {
		t.Errorf("expected 1 machine creation, got %d", client.createMachineCalls)
	}
}

// TestWorkspaceAssignIdempotentSecondResolve ensures resolving the same
// session twice lands on the same machine and only ever creates one.
func TestWorkspaceAssignIdempotentSecondResolve(t *testing.T) {
	store := &mockSessionStore{}
	client := newMockMachinesClient()
	resolver := &Resolver{Store: store, Machines: client}

	first, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("did not expect an error on first resolve, got: %s", err)
	}

	second, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("did not expect an error on second resolve, got: %s", err)
	}

	if first.MachineID != second.MachineID {
		t.Errorf("expected both resolves to land on the same machine, got %s and %s", first.MachineID, second.MachineID)
	}
	if client.createMachineCalls != 1 {
		t.Errorf("expected exactly 1 machine creation, got %d", client.createMachineCalls)
	}
	if client.createVolumeCalls != 1 {
		t.Errorf("expected exactly 1 volume creation, got %d", client.createVolumeCalls)
	}
}

// TestWorkspaceAssignStoreReadFailureDegrades ensures a failing store read
// doesn't fail the request; resolution degrades to provisioning fresh.
func TestWorkspaceAssignStoreReadFailureDegrades(t *testing.T) {
	store := &mockSessionStore{getErr: errors.New("connection refused")}
	client := newMockMachinesClient()
	resolver := &Resolver{Store: store, Machines: client}

	result, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("did not expect an error, got: %s", err)
	}

	if result.Error != "" {
		t.Fatalf("did not expect an error code, got %s", result.Error)
	}
	if client.createMachineCalls != 1 {
		t.Errorf("expected a fresh machine despite the read failure, got %d creations", client.createMachineCalls)
	}
}

// TestWorkspaceAssignVolumeFailure ensures a volume provisioning failure is
// reported with its typed error code and that no machine is created.
func TestWorkspaceAssignVolumeFailure(t *testing.T) {
	store := &mockSessionStore{}
	client := newMockMachinesClient()
	client.createVolumeErr = errors.New("volume quota exceeded")

	resolver := &Resolver{Store: store, Machines: client}

	result, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	if err == nil {
		t.Fatal("expected an error from the assign action")
	}

	if result.Error != VOLUME_PROVISIONING_FAILED {
		t.Errorf("expected error code %s, got %s", VOLUME_PROVISIONING_FAILED, result.Error)
	}
	if client.createMachineCalls != 0 {
		t.Errorf("did not expect a machine creation, got %d", client.createMachineCalls)
	}
}

// TestWorkspaceAssignMachineFailure ensures a machine creation failure is
// reported with its typed error code.
func TestWorkspaceAssignMachineFailure(t *testing.T) {
	store := &mockSessionStore{}
	client := newMockMachinesClient()
	client.createMachineErr = errors.New("machine quota exceeded")

	resolver := &Resolver{Store: store, Machines: client}

	result, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	if err == nil {
		t.Fatal("expected an error from the assign action")
	}

	if result.Error != MACHINE_CREATION_FAILED {
		t.Errorf("expected error code %s, got %s", MACHINE_CREATION_FAILED, result.Error)
	}
}

// TestWorkspaceAssignStoreWriteFailure ensures a failing mapping write after
// machine creation is fatal with the store's typed error code, and that the
// write is retried before giving up.
func TestWorkspaceAssignStoreWriteFailure(t *testing.T) {
	store := &mockSessionStore{upsertErr: errors.New("connection refused")}
	client := newMockMachinesClient()

	resolver := &Resolver{Store: store, Machines: client}

	result, err := runAssign(t, resolver, &httputils.WorkspaceAssignRequest{
		UserID:    "user-1",
		SessionID: "session-1",
	})
	if err == nil {
		t.Fatal("expected an error from the assign action")
	}

	if result.Error != STORE_UNAVAILABLE {
		t.Errorf("expected error code %s, got %s", STORE_UNAVAILABLE, result.Error)
	}
	if store.upsertCalls != storeWriteAttempts {
		t.Errorf("expected %d write attempts, got %d", storeWriteAttempts, store.upsertCalls)
	}
}

// TestWorkspaceStatus tests the status action for both live and missing
// machines.
func TestWorkspaceStatus(t *testing.T) {
	client := newMockMachinesClient()
	client.addMachine("machine-live", machines.MachineStateStarting)

	resolver := &Resolver{Store: &mockSessionStore{}, Machines: client}

	t.Run("live machine", func(t *testing.T) {
		request := &httputils.WorkspaceStatusRequest{MachineID: "machine-live"}
		request.CreateResultChan()

		errChan := make(chan error, 1)
		go func() {
			errChan <- resolver.WorkspaceStatus(context.Background(), request)
		}()

		result := (<-request.ResultChan).Result.(httputils.WorkspaceStatusRequestResult)
		if err := <-errChan; err != nil {
			t.Fatalf("did not expect an error, got: %s", err)
		}

		if result.State != machines.MachineStateStarting {
			t.Errorf("expected state %s, got %s", machines.MachineStateStarting, result.State)
		}
	})

	t.Run("missing machine", func(t *testing.T) {
		request := &httputils.WorkspaceStatusRequest{MachineID: "machine-gone"}
		request.CreateResultChan()

		errChan := make(chan error, 1)
		go func() {
			errChan <- resolver.WorkspaceStatus(context.Background(), request)
		}()

		result := (<-request.ResultChan).Result.(httputils.WorkspaceStatusRequestResult)
		if err := <-errChan; err == nil {
			t.Fatal("expected an error for a missing machine")
		}

		if result.Error != SERVICE_UNAVAILABLE {
			t.Errorf("expected error code %s, got %s", SERVICE_UNAVAILABLE, result.Error)
		}
	})
}
