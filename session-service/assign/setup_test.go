package assign

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/helixhq/helix/backend/services/httputils"
	"github.com/helixhq/helix/backend/services/machines"
	"github.com/helixhq/helix/backend/services/metadata"
	"github.com/helixhq/helix/backend/services/session-service/config"
	"github.com/helixhq/helix/backend/services/session-service/dbdriver"
	"github.com/helixhq/helix/backend/services/types"
	"github.com/helixhq/helix/backend/services/utils"
)

// mockSessionStore implements dbdriver.SessionStore in memory, recording
// call counts so tests can assert on the writes the resolver performs.
type mockSessionStore struct {
	sync.Mutex

	mappings []dbdriver.SessionMapping

	getCalls    int
	listCalls   int
	upsertCalls int

	getErr    error
	listErr   error
	upsertErr error
}

func (m *mockSessionStore) UpsertSessionMapping(ctx context.Context, mapping dbdriver.SessionMapping) error {
	m.Lock()
	defer m.Unlock()

	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}

	for i, existing := range m.mappings {
		if existing.UserID == mapping.UserID && existing.SessionID == mapping.SessionID {
			if mapping.MachineID != nil {
				m.mappings[i].MachineID = mapping.MachineID
			}
			if mapping.VolumeID != nil {
				m.mappings[i].VolumeID = mapping.VolumeID
			}
			return nil
		}
	}

	m.mappings = append(m.mappings, mapping)
	return nil
}

func (m *mockSessionStore) GetSessionMapping(ctx context.Context, userID types.UserID, sessionID types.SessionID) (*dbdriver.SessionMapping, error) {
	m.Lock()
	defer m.Unlock()

	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}

	for _, mapping := range m.mappings {
		if mapping.UserID == userID && mapping.SessionID == sessionID {
			result := mapping
			return &result, nil
		}
	}
	return nil, nil
}

func (m *mockSessionStore) GetSessionsForUser(ctx context.Context, userID types.UserID) ([]dbdriver.SessionMapping, error) {
	m.Lock()
	defer m.Unlock()

	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}

	var result []dbdriver.SessionMapping
	for _, mapping := range m.mappings {
		if mapping.UserID == userID {
			result = append(result, mapping)
		}
	}
	return result, nil
}

// mockMachinesClient implements machines.MachinesClient in memory. Created
// machines come up in the "started" state immediately unless a test sets
// createMachineState to mimic the real API's transitional create response.
type mockMachinesClient struct {
	sync.Mutex

	machines map[types.MachineID]*machines.Machine
	volumes  map[types.VolumeID]*machines.Volume

	createMachineCalls int
	createVolumeCalls  int
	getMachineCalls    int

	createMachineState machines.MachineState

	createMachineErr error
	createVolumeErr  error
	getMachineErr    error
}

func newMockMachinesClient() *mockMachinesClient {
	return &mockMachinesClient{
		machines: make(map[types.MachineID]*machines.Machine),
		volumes:  make(map[types.VolumeID]*machines.Volume),
	}
}

func (m *mockMachinesClient) CreateMachine(ctx context.Context, req machines.CreateMachineRequest) (*machines.Machine, error) {
	m.Lock()
	defer m.Unlock()

	m.createMachineCalls++
	if m.createMachineErr != nil {
		return nil, m.createMachineErr
	}

	state := m.createMachineState
	if state == "" {
		state = machines.MachineStateStarted
	}

	machine := &machines.Machine{
		ID:     types.MachineID(utils.Sprintf("machine-%d", m.createMachineCalls)),
		Name:   req.Name,
		State:  state,
		Config: req.Config,
	}
	m.machines[machine.ID] = machine
	return machine, nil
}

func (m *mockMachinesClient) GetMachine(ctx context.Context, id types.MachineID) (*machines.Machine, error) {
	m.Lock()
	defer m.Unlock()

	m.getMachineCalls++
	if m.getMachineErr != nil {
		return nil, m.getMachineErr
	}

	machine, ok := m.machines[id]
	if !ok {
		return nil, machines.ErrMachineNotFound
	}
	return machine, nil
}

func (m *mockMachinesClient) ListMachines(ctx context.Context) ([]machines.Machine, error) {
	m.Lock()
	defer m.Unlock()

	var result []machines.Machine
	for _, machine := range m.machines {
		result = append(result, *machine)
	}
	return result, nil
}

func (m *mockMachinesClient) StartMachine(ctx context.Context, id types.MachineID) error {
	return nil
}

func (m *mockMachinesClient) StopMachine(ctx context.Context, id types.MachineID) error {
	return nil
}

func (m *mockMachinesClient) DestroyMachine(ctx context.Context, id types.MachineID) error {
	m.Lock()
	defer m.Unlock()

	delete(m.machines, id)
	return nil
}

func (m *mockMachinesClient) CreateVolume(ctx context.Context, req machines.CreateVolumeRequest) (*machines.Volume, error) {
	m.Lock()
	defer m.Unlock()

	m.createVolumeCalls++
	if m.createVolumeErr != nil {
		return nil, m.createVolumeErr
	}

	volume := &machines.Volume{
		ID:     types.VolumeID(utils.Sprintf("vol-%d", m.createVolumeCalls)),
		Name:   req.Name,
		SizeGb: req.SizeGb,
		Region: req.Region,
	}
	m.volumes[volume.ID] = volume
	return volume, nil
}

func (m *mockMachinesClient) ListVolumes(ctx context.Context) ([]machines.Volume, error) {
	m.Lock()
	defer m.Unlock()

	var result []machines.Volume
	for _, volume := range m.volumes {
		result = append(result, *volume)
	}
	return result, nil
}

// addMachine seeds the mock with a machine in a given state.
func (m *mockMachinesClient) addMachine(id types.MachineID, state machines.MachineState) {
	m.Lock()
	defer m.Unlock()

	m.machines[id] = &machines.Machine{ID: id, State: state}
}

// runAssign runs a workspace assign and collects both the result delivered
// on the request's channel and the action's own error.
func runAssign(t *testing.T, r *Resolver, request *httputils.WorkspaceAssignRequest) (httputils.WorkspaceAssignRequestResult, error) {
	t.Helper()

	request.CreateResultChan()

	errChan := make(chan error, 1)
	go func() {
		errChan <- r.WorkspaceAssign(context.Background(), request)
	}()

	result := <-request.ResultChan
	if result.Err != nil {
		t.Fatalf("did not expect a request error, got: %s", result.Err)
	}

	return result.Result.(httputils.WorkspaceAssignRequestResult), <-errChan
}

// sessionMapping builds a complete test mapping.
func sessionMapping(userID types.UserID, sessionID types.SessionID, machineID types.MachineID, volumeID types.VolumeID) dbdriver.SessionMapping {
	return dbdriver.SessionMapping{
		UserID:    userID,
		SessionID: sessionID,
		MachineID: &machineID,
		VolumeID:  &volumeID,
	}
}

func TestMain(m *testing.M) {
	// Run everything as a localdev build: static configuration, no JWKS
	// fetch, and the development capability token secret.
	metadata.GetAppEnvironment = func() metadata.AppEnvironment {
		return metadata.EnvLocalDev
	}
	if err := config.Initialize(context.Background(), nil); err != nil {
		panic(err)
	}

	os.Exit(m.Run())
}
