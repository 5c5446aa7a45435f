package router

import (
	"net/http"

	"support-inbox-backend/internal/api"
	"support-inbox-backend/internal/api/endpoints"
	"support-inbox-backend/internal/api/middleware"
	"support-inbox-backend/internal/env"
	"support-inbox-backend/internal/platform"
	directoryservice "support-inbox-backend/internal/service/directory"
	ingestservice "support-inbox-backend/internal/service/ingest"

	"golang.org/x/time/rate"
)

func InboxRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		directory := directoryservice.New(s.Database())
		client := platform.NewClient(env.Get(env.PlatformGraphURL), directory, s.Log())
		service := ingestservice.New(s.Database(), s.Bus(), client, s.Log())

		inboxEndpoints := endpoints.NewInboxEndpoints(service, client, prefix)

		limiter := middleware.RateLimit(rate.Limit(20), 40)

		mux.HandleFunc(prefix+"/conversations", s.MakeHTTPHandleFunc(inboxEndpoints.Conversations, limiter, middleware.ValidateAgentJWT))
		mux.HandleFunc(prefix+"/conversations/", s.MakeHTTPHandleFunc(inboxEndpoints.ConversationResource, limiter, middleware.ValidateAgentJWT))
	}
}
