package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	logger "github.com/helixhq/helix/backend/services/helixlogger"
	"github.com/helixhq/helix/backend/services/httputils"
	"github.com/helixhq/helix/backend/services/machines"
	"github.com/helixhq/helix/backend/services/session-service/assign"
	"github.com/helixhq/helix/backend/services/session-service/config"
	"github.com/helixhq/helix/backend/services/session-service/dbdriver"
	"github.com/helixhq/helix/backend/services/utils"
)

// The event types the session service processes. Events arrive from the
// HTTP server and are dispatched to the resolver on the main event loop.
const (
	WorkspaceAssignEventType = "SERVER_WORKSPACE_ASSIGN_EVENT"
	WorkspaceStatusEventType = "SERVER_WORKSPACE_STATUS_EVENT"
)

// A SessionEvent is a unit of work for the event loop. Data carries the
// parsed server request.
type SessionEvent struct {
	ID   string
	Type string
	Data interface{}
}

func main() {
	// The first thing we want to do is to initialize logzio and Sentry so
	// that we can catch any errors that might occur, or logs if we print
	// them.
	logger.Initialize()
	defer logger.Close()

	globalCtx, globalCancel := context.WithCancel(context.Background())
	goroutineTracker := &sync.WaitGroup{}

	// Start GraphQL client for config queries
	graphqlClient := &config.HasuraClient{}
	if err := graphqlClient.Initialize(); err != nil {
		logger.Panicf(globalCancel, "failed to start GraphQL client: %s", err)
	}

	if err := config.Initialize(globalCtx, graphqlClient); err != nil {
		logger.Panicf(globalCancel, "failed to initialize configuration: %s", err)
	}

	// Connect to the session database
	store, err := dbdriver.Initialize(globalCtx)
	if err != nil {
		logger.Panicf(globalCancel, "failed to initialize session store: %s", err)
	}
	defer store.Close()

	// Create the provisioning API client
	machinesClient := machines.New(
		config.GetMachinesAPIURL(),
		config.GetMachinesAppName(),
		os.Getenv("MACHINES_API_TOKEN"),
	)

	resolver := &assign.Resolver{
		Store:    store,
		Machines: machinesClient,
	}

	// Start main event loop and HTTP server
	serverEvents := make(chan SessionEvent, 100)
	go eventLoop(globalCtx, globalCancel, goroutineTracker, serverEvents, resolver)
	StartHTTPServer(serverEvents)

	// Register a signal handler for Ctrl-C so that we cleanup if Ctrl-C is
	// pressed.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for either the global context to get cancelled by a worker
	// goroutine, or for us to receive an interrupt. This needs to be the end
	// of main().
	select {
	case <-sigChan:
		logger.Infof("Got an interrupt or SIGTERM")
		globalCancel()
	case <-globalCtx.Done():
		logger.Infof("Global context cancelled!")
	}

	goroutineTracker.Wait()
}

// eventLoop dispatches incoming server events to the resolver. Each event is
// handled on its own goroutine so a slow provisioning call never blocks
// other requests.
func eventLoop(globalCtx context.Context, globalCancel context.CancelFunc, goroutineTracker *sync.WaitGroup,
	serverEvents <-chan SessionEvent, resolver *assign.Resolver) {

	for {
		select {
		case event := <-serverEvents:
			logger.Infof("Received event %s of type %s.", event.ID, event.Type)

			switch event.Type {
			case WorkspaceAssignEventType:
				assignRequest := event.Data.(*httputils.WorkspaceAssignRequest)

				goroutineTracker.Add(1)
				go func() {
					defer goroutineTracker.Done()

					if err := resolver.WorkspaceAssign(globalCtx, assignRequest); err != nil {
						logger.Errorf("error processing event %s: %s", event.ID, err)
					}
				}()

			case WorkspaceStatusEventType:
				statusRequest := event.Data.(*httputils.WorkspaceStatusRequest)

				goroutineTracker.Add(1)
				go func() {
					defer goroutineTracker.Done()

					if err := resolver.WorkspaceStatus(globalCtx, statusRequest); err != nil {
						logger.Errorf("error processing event %s: %s", event.ID, err)
					}
				}()

			default:
				logger.Error(utils.MakeError("received an event of unknown type %s", event.Type))
			}

		case <-globalCtx.Done():
			logger.Infof("Finished event loop goroutine.")
			return
		}
	}
}
