package config

import (
	"context"
	"strconv"

	logger "github.com/helixhq/helix/backend/services/helixlogger"
	"github.com/helixhq/helix/backend/services/metadata"
	"github.com/helixhq/helix/backend/services/types"
	"github.com/helixhq/helix/backend/services/utils"
)

// Fallback values used when a configuration key is missing from the config
// database. These mirror the localdev static configuration.
const (
	fallbackMachinesAPIURL        = "https://api.machines.dev"
	fallbackMachinesAppName       = "helix-workspaces"
	fallbackWorkspaceImage        = "registry.fly.io/helix-workspace:latest"
	fallbackWorkspaceCPUKind      = "shared"
	fallbackWorkspaceCPUs         = 2
	fallbackWorkspaceMemoryMB     = 2048
	fallbackWorkspaceMountPath    = "/data"
	fallbackWorkspaceInternalPort = 8080
	fallbackVolumeSizeGb          = 10
	fallbackPlacementRegion       = "sjc"
)

// getConfigFromDB fetches service-global configuration values from the
// configuration database.
func getConfigFromDB(ctx context.Context, client GraphQLClient) (map[string]string, error) {
	env := metadata.GetAppEnvironment()

	var configs HelixConfigs
	switch env {
	case metadata.EnvProd:
		query := QueryProdConfigurations
		if err := client.Query(ctx, &query, map[string]interface{}{}); err != nil {
			return nil, utils.MakeError("failed to query config database for env %s: %s", metadata.GetAppEnvironmentLowercase(), err)
		}
		configs = query.HelixConfigs
	case metadata.EnvStaging:
		query := QueryStagingConfigurations
		if err := client.Query(ctx, &query, map[string]interface{}{}); err != nil {
			return nil, utils.MakeError("failed to query config database for env %s: %s", metadata.GetAppEnvironmentLowercase(), err)
		}
		configs = query.HelixConfigs
	case metadata.EnvDev, metadata.EnvLocalDevWithDB:
		query := QueryDevConfigurations
		if err := client.Query(ctx, &query, map[string]interface{}{}); err != nil {
			return nil, utils.MakeError("failed to query config database for env %s: %s", metadata.GetAppEnvironmentLowercase(), err)
		}
		configs = query.HelixConfigs
	default:
		return nil, utils.MakeError("unexpected app environment %s", env)
	}

	if len(configs) == 0 {
		return nil, utils.MakeError("could not find %s configs on database", metadata.GetAppEnvironmentLowercase())
	}

	// Convert to a map for easier manipulation
	configMap := make(map[string]string)
	for _, entry := range configs {
		configMap[string(entry.Key)] = string(entry.Value)
	}

	return configMap, nil
}

// getString extracts a string config value, falling back to the provided
// default when the key is absent.
func getString(db map[string]string, key string, fallback string, dest *string) {
	data, ok := db[key]
	if !ok {
		*dest = fallback
		logger.Warningf("Configuration key %s not found. Falling back to %s", key, fallback)
		return
	}

	*dest = data
}

// getInt extracts an integer config value, falling back to the provided
// default when the key is absent or unparsable.
func getInt(db map[string]string, key string, fallback int, dest *int) {
	data, ok := db[key]
	if !ok {
		*dest = fallback
		logger.Warningf("Configuration key %s not found. Falling back to %d", key, fallback)
		return
	}

	n, err := strconv.Atoi(data)
	if err != nil {
		*dest = fallback
		logger.Errorf("Failed to parse value for configuration key %s: %s. Falling back to %d", key, err, fallback)
		return
	}

	*dest = n
}

// initialize populates the configuration singleton with values from the
// configuration database.
func initialize(ctx context.Context, client GraphQLClient) error {
	rw.Lock()
	defer rw.Unlock()

	// Copy the existing configuration after acquiring the write lock so we
	// can perform the update atomically.
	newConfig := config

	db, err := getConfigFromDB(ctx, client)
	if err != nil {
		return err
	}

	var image, region string
	getString(db, "MACHINES_API_URL", fallbackMachinesAPIURL, &newConfig.machinesAPIURL)
	getString(db, "MACHINES_APP_NAME", fallbackMachinesAppName, &newConfig.machinesAppName)
	getString(db, "WORKSPACE_IMAGE", fallbackWorkspaceImage, &image)
	getString(db, "WORKSPACE_CPU_KIND", fallbackWorkspaceCPUKind, &newConfig.workspaceCPUKind)
	getInt(db, "WORKSPACE_CPUS", fallbackWorkspaceCPUs, &newConfig.workspaceCPUs)
	getInt(db, "WORKSPACE_MEMORY_MB", fallbackWorkspaceMemoryMB, &newConfig.workspaceMemoryMB)
	getString(db, "WORKSPACE_MOUNT_PATH", fallbackWorkspaceMountPath, &newConfig.workspaceMountPath)
	getInt(db, "WORKSPACE_INTERNAL_PORT", fallbackWorkspaceInternalPort, &newConfig.workspaceInternalPort)
	getInt(db, "VOLUME_SIZE_GB", fallbackVolumeSizeGb, &newConfig.volumeSizeGb)
	getString(db, "PLACEMENT_REGION", fallbackPlacementRegion, &region)

	newConfig.workspaceImage = types.ImageID(image)
	newConfig.placementRegion = types.PlacementRegion(region)

	config = newConfig

	return nil
}

// initializeLocal populates the global configuration singleton with static
// data.
func initializeLocal(_ context.Context, _ GraphQLClient) error {
	rw.Lock()
	defer rw.Unlock()

	config.machinesAPIURL = fallbackMachinesAPIURL
	config.machinesAppName = fallbackMachinesAppName
	config.workspaceImage = fallbackWorkspaceImage
	config.workspaceCPUKind = fallbackWorkspaceCPUKind
	config.workspaceCPUs = fallbackWorkspaceCPUs
	config.workspaceMemoryMB = fallbackWorkspaceMemoryMB
	config.workspaceMountPath = fallbackWorkspaceMountPath
	config.workspaceInternalPort = fallbackWorkspaceInternalPort
	config.volumeSizeGb = fallbackVolumeSizeGb
	config.placementRegion = fallbackPlacementRegion

	logger.Warningf("Session service local build not fetching configuration " +
		"values from the config database. Using static configuration instead.")

	return nil
}
