package router

import (
	"net/http"

	"support-inbox-backend/internal/api"
	"support-inbox-backend/internal/api/endpoints"
	"support-inbox-backend/internal/env"
	"support-inbox-backend/internal/platform"
	directoryservice "support-inbox-backend/internal/service/directory"
	ingestservice "support-inbox-backend/internal/service/ingest"
)

func WebhookRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		directory := directoryservice.New(s.Database())
		client := platform.NewClient(env.Get(env.PlatformGraphURL), directory, s.Log())
		service := ingestservice.New(s.Database(), s.Bus(), client, s.Log())

		webhookEndpoints := endpoints.NewWebhookEndpoints(
			service,
			s.Queue(),
			env.Get(env.PlatformVerifyToken),
			env.Get(env.PlatformAppSecret),
			s.Log(),
		)

		mux.HandleFunc(prefix+"/webhook", s.MakeHTTPHandleFunc(webhookEndpoints.Webhook))
	}
}
