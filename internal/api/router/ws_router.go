package router

import (
	"net/http"

	"support-inbox-backend/internal/api"
	"support-inbox-backend/internal/api/endpoints"
)

func WebsocketRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		wsEndpoints := endpoints.NewWSEndpoints(s.Handler(), prefix)

		mux.HandleFunc(prefix+"/conversations/", s.MakeHTTPHandleFunc(wsEndpoints.ConversationSocket))
		mux.HandleFunc(prefix+"/inbox/", s.MakeHTTPHandleFunc(wsEndpoints.InboxSocket))
	}
}
