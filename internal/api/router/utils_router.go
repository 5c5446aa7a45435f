package router

import (
	"net/http"

	"support-inbox-backend/internal/api"
	"support-inbox-backend/internal/api/endpoints"
)

func UtilsRoutes() api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		utilsEndpoints := endpoints.NewUtilsEndpoints()

		mux.HandleFunc("/health", s.MakeHTTPHandleFunc(utilsEndpoints.Health))
	}
}
