package module

import (
	"context"
	"net/http"

	"github.com/gigapi/gigapi-config/config"
	insituconfig "github.com/gigapi/gigapi-insitu/config"
	"github.com/gigapi/gigapi-insitu/core"
	"github.com/gigapi/gigapi-insitu/querier"
	"github.com/gigapi/gigapi/v2/modules"
	"github.com/spf13/afero"
)

var server *querier.Server

func WithNoError(hndl func(w http.ResponseWriter, r *http.Request),
) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		hndl(w, r)
		return nil
	}
}

func Init(api modules.Api) {
	if config.Config.Gigapi.Mode != "readonly" && config.Config.Gigapi.Mode != "aio" {
		return
	}
	ctx := core.WithDefaultLogger(context.Background(), "insitu")
	fs := afero.NewOsFs()
	cfg, err := insituconfig.Load(fs, querier.GetRootDir())
	if err != nil {
		panic(err)
	}
	client, err := querier.NewClientFromConfig(ctx, fs, cfg)
	if err != nil {
		panic(err)
	}
	if err := client.Initialize(); err != nil {
		panic(err)
	}
	server = querier.NewServer(client)

	methods := []string{"GET", "POST", "OPTIONS"}
	for path, handler := range map[string]func(http.ResponseWriter, *http.Request){
		"/query":      server.HandleQuery,
		"/statistics": server.HandleStatistics,
		"/datasets":   server.HandleDatasets,
	} {
		api.RegisterRoute(&modules.Route{
			Path:    path,
			Methods: methods,
			Handler: WithNoError(handler),
		})
	}
}

func Close() {
	if server != nil {
		server.Close()
	}
}
