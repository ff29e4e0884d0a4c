package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/gigapi/gigapi-config/config"
	insituconfig "github.com/gigapi/gigapi-insitu/config"
	"github.com/gigapi/gigapi-insitu/core"
	"github.com/gigapi/gigapi-insitu/insitu"
	"github.com/gigapi/gigapi-insitu/querier"
	"github.com/spf13/afero"
)

func main() {
	config.InitConfig("")

	ctx := core.WithDefaultLogger(context.Background(), "main")
	// Add command line flags
	queryFlag := flag.String("query", "", "Execute a single JSON query and exit")
	datasetFlag := flag.String("dataset", "", "Dataset to query")
	statsFlag := flag.Bool("stats", false, "Print statistics for -query instead of rows")
	flag.Parse()

	port := config.Config.Port
	flightPort := config.Config.FlightSqlPort

	fs := afero.NewOsFs()
	cfg, err := insituconfig.Load(fs, querier.GetRootDir())
	if err != nil {
		core.Errorf(ctx, "Failed to load configuration: %v", err)
		os.Exit(1)
	}

	client, err := querier.NewClientFromConfig(ctx, fs, cfg)
	if err != nil {
		core.Errorf(ctx, "Failed to create query client: %v", err)
		os.Exit(1)
	}
	err = client.Initialize()
	if err != nil {
		core.Errorf(ctx, "Failed to initialize query client: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	// If query flag is provided, execute query and exit
	if *queryFlag != "" {
		params, err := insitu.ParseQueryJSON([]byte(*queryFlag))
		if err != nil {
			log.Fatalf("Query error: %v", err)
		}

		var out any
		if *statsFlag {
			out, err = client.Statistics(ctx, *datasetFlag, params)
		} else {
			var res *querier.QueryResult
			res, err = client.Query(ctx, *datasetFlag, params)
			if res != nil {
				out = querier.QueryResponse{Total: res.Total, Results: querier.ProcessResultsForJSON(res.Rows)}
			}
		}
		if err != nil {
			log.Fatalf("Query error: %v", err)
		}

		jsonData, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal results: %v", err)
		}
		fmt.Println(string(jsonData))
		return
	}

	server := querier.NewServer(client)
	mux := http.NewServeMux()
	server.Routes(mux)

	core.Infof(ctx, "Insitu server running at http://localhost:%d", port)
	go func() {
		err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
		if err != nil {
			core.Errorf(ctx, "Failed to start main server: %v", err)
			os.Exit(1)
		}
	}()

	core.Infof(ctx, "Flight server running on port %d", flightPort)
	err = querier.StartFlightServer(flightPort, client)
	if err != nil {
		core.Errorf(ctx, "Failed to start Flight server: %v", err)
		os.Exit(1)
	}
}
