/*
Package machines implements a typed client for the workspace provisioning
API, the remote control plane that owns machine and volume lifecycles. The
client is a thin wrapper: it speaks JSON over HTTPS with a bearer token,
maps 404s on machine reads to ErrMachineNotFound, surfaces every other
non-2xx response as an *APIError, and never retries anything itself.
Retry decisions belong to callers, who know which operations are safe to
repeat; create operations in particular must not be retried blindly, since
a timed-out create may have succeeded remotely.
*/
package machines // import "github.com/helixhq/helix/backend/services/machines"

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/helixhq/helix/backend/services/types"
	"github.com/helixhq/helix/backend/services/utils"
)

// MachinesClient is the interface used by the rest of the session service to
// talk to the provisioning API. We define an interface so that tests can
// substitute a mock implementation.
type MachinesClient interface {
	CreateMachine(ctx context.Context, req CreateMachineRequest) (*Machine, error)
	GetMachine(ctx context.Context, id types.MachineID) (*Machine, error)
	ListMachines(ctx context.Context) ([]Machine, error)
	StartMachine(ctx context.Context, id types.MachineID) error
	StopMachine(ctx context.Context, id types.MachineID) error
	DestroyMachine(ctx context.Context, id types.MachineID) error
	CreateVolume(ctx context.Context, req CreateVolumeRequest) (*Volume, error)
	ListVolumes(ctx context.Context) ([]Volume, error)
}

// Client talks to the provisioning API for a single app.
type Client struct {
	baseURL    string
	appName    string
	token      string
	httpClient *http.Client
}

// Make sure Client implements the MachinesClient interface.
var _ MachinesClient = &Client{}

// New returns a Client for the given provisioning API endpoint and app. The
// token is sent as a bearer credential on every request.
func New(baseURL string, appName string, token string) *Client {
	return &Client{
		baseURL: baseURL,
		appName: appName,
		token:   token,
		httpClient: &http.Client{
			// An overall ceiling; callers impose tighter per-call
			// deadlines through the context.
			Timeout: 2 * time.Minute,
		},
	}
}

// do performs one request against the provisioning API and decodes a JSON
// response into out (if out is non-nil). It returns an *APIError for any
// non-2xx status.
func (c *Client) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return utils.MakeError("couldn't marshal request body for %s %s: %s", method, path, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return utils.MakeError("couldn't create request for %s %s: %s", method, path, err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport-level failure (DNS, connect, deadline). Passed
		// through untouched so callers can distinguish it from an API
		// rejection.
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return utils.MakeError("couldn't read response body for %s %s: %s", method, path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return utils.MakeError("couldn't unmarshal response body for %s %s: %s", method, path, err)
		}
	}

	return nil
}

func (c *Client) machinesPath() string {
	return utils.Sprintf("/v1/apps/%s/machines", c.appName)
}

func (c *Client) volumesPath() string {
	return utils.Sprintf("/v1/apps/%s/volumes", c.appName)
}

// CreateMachine asks the provisioning API to create (and boot) a new machine.
// It is deliberately not retried here: if the request times out, the machine
// may still have been created remotely, and only the caller can decide
// whether to reconcile or surface the failure.
func (c *Client) CreateMachine(ctx context.Context, req CreateMachineRequest) (*Machine, error) {
	machine := new(Machine)
	if err := c.do(ctx, http.MethodPost, c.machinesPath(), req, machine); err != nil {
		return nil, err
	}

	return machine, nil
}

// GetMachine fetches the current state of a machine. A 404 from the API maps
// to ErrMachineNotFound, since a missing machine is an expected outcome when
// following a stale session mapping.
func (c *Client) GetMachine(ctx context.Context, id types.MachineID) (*Machine, error) {
	machine := new(Machine)
	err := c.do(ctx, http.MethodGet, utils.Sprintf("%s/%s", c.machinesPath(), id), nil, machine)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrMachineNotFound
		}
		return nil, err
	}

	return machine, nil
}

// ListMachines returns all machines in the app.
func (c *Client) ListMachines(ctx context.Context) ([]Machine, error) {
	var machines []Machine
	if err := c.do(ctx, http.MethodGet, c.machinesPath(), nil, &machines); err != nil {
		return nil, err
	}

	return machines, nil
}

// StartMachine boots a stopped machine.
func (c *Client) StartMachine(ctx context.Context, id types.MachineID) error {
	return c.do(ctx, http.MethodPost, utils.Sprintf("%s/%s/start", c.machinesPath(), id), nil, nil)
}

// StopMachine gracefully stops a running machine. The attached volume
// survives.
func (c *Client) StopMachine(ctx context.Context, id types.MachineID) error {
	return c.do(ctx, http.MethodPost, utils.Sprintf("%s/%s/stop", c.machinesPath(), id), nil, nil)
}

// DestroyMachine force-destroys a machine. The attached volume survives and
// remains available for future mounts.
func (c *Client) DestroyMachine(ctx context.Context, id types.MachineID) error {
	return c.do(ctx, http.MethodDelete, utils.Sprintf("%s/%s?force=true", c.machinesPath(), id), nil, nil)
}

// CreateVolume creates a new durable volume.
func (c *Client) CreateVolume(ctx context.Context, req CreateVolumeRequest) (*Volume, error) {
	volume := new(Volume)
	if err := c.do(ctx, http.MethodPost, c.volumesPath(), req, volume); err != nil {
		return nil, err
	}

	return volume, nil
}

// ListVolumes returns all volumes in the app.
func (c *Client) ListVolumes(ctx context.Context) ([]Volume, error) {
	var volumes []Volume
	if err := c.do(ctx, http.MethodGet, c.volumesPath(), nil, &volumes); err != nil {
		return nil, err
	}

	return volumes, nil
}
