package config

import (
	"context"
	"os"

	graphql "github.com/hasura/go-graphql-client"
	"golang.org/x/oauth2"

	logger "github.com/helixhq/helix/backend/services/helixlogger"
	"github.com/helixhq/helix/backend/services/metadata"
	"github.com/helixhq/helix/backend/services/utils"
)

const localHasuraConfigURL = "http://localhost:8082/v1/graphql"

// GraphQLQuery is a custom empty interface to represent the graphql queries
// described in this file.
type GraphQLQuery interface{}

// HelixConfigs is the mapping of the config database tables. Each row is a
// simple key/value pair. This type interacts directly with the GraphQL
// client, which marshals/unmarshals using this type. Only use for GraphQL
// operations.
type HelixConfigs []struct {
	Key   graphql.String `graphql:"key"`
	Value graphql.String `graphql:"value"`
}

// QueryDevConfigurations returns all config values on the dev table.
var QueryDevConfigurations struct {
	HelixConfigs `graphql:"dev"`
}

// QueryStagingConfigurations returns all config values on the staging table.
var QueryStagingConfigurations struct {
	HelixConfigs `graphql:"staging"`
}

// QueryProdConfigurations returns all config values on the prod table.
var QueryProdConfigurations struct {
	HelixConfigs `graphql:"prod"`
}

// GraphQLClient is an interface used to abstract the interactions with the
// official Hasura client.
type GraphQLClient interface {
	Initialize() error
	Query(context.Context, GraphQLQuery, map[string]interface{}) error
}

// HasuraParams contains the URL and admin AccessKey to pass to the Hasura
// client.
type HasuraParams struct {
	URL       string
	AccessKey string
}

// HasuraClient implements GraphQLClient against the config database's Hasura
// endpoint.
type HasuraClient struct {
	Hasura *graphql.Client
	Params HasuraParams
}

// getHasuraParams obtains and returns the parameters necessary to initialize
// the client.
func getHasuraParams() (HasuraParams, error) {
	if metadata.IsLocalEnv() {
		return HasuraParams{
			URL:       localHasuraConfigURL,
			AccessKey: "hasura",
		}, nil
	}

	url := os.Getenv("HASURA_URL")
	if url == "" {
		return HasuraParams{}, utils.MakeError("couldn't get Hasura connection URL: HASURA_URL is uninitialized")
	}
	accessKey := os.Getenv("HASURA_ACCESS_KEY")
	if accessKey == "" {
		return HasuraParams{}, utils.MakeError("couldn't get Hasura access key: HASURA_ACCESS_KEY is uninitialized")
	}

	return HasuraParams{
		URL:       url,
		AccessKey: accessKey,
	}, nil
}

// Initialize creates the client.
func (hc *HasuraClient) Initialize() error {
	if metadata.IsLocalEnvWithoutDB() {
		logger.Infof("Running in app environment %s so not enabling GraphQL client code.", metadata.GetAppEnvironment())
		return nil
	}

	logger.Infof("Setting up GraphQL client...")

	params, err := getHasuraParams()
	if err != nil {
		return utils.MakeError("error creating hasura client: %s", err)
	}
	hc.Params = params

	// Create http client for authenticating the GraphQL client
	src := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: hc.Params.AccessKey},
	)
	httpClient := oauth2.NewClient(context.Background(), src)

	hc.Hasura = graphql.NewClient(hc.Params.URL, httpClient)

	return nil
}

// Query executes the given GraphQL query and assigns the returned values to
// the provided interface.
func (hc *HasuraClient) Query(ctx context.Context, query GraphQLQuery, variables map[string]interface{}) error {
	return hc.Hasura.Query(ctx, query, variables)
}
