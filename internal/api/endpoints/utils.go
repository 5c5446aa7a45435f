package endpoints

import (
	"fmt"
	"net/http"
	"strings"

	"support-inbox-backend/internal/api"
	internaljwt "support-inbox-backend/internal/jwt"
)

type HTTPError = api.HTTPError

type ApiMessageResponse struct {
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	return api.WriteJSON(w, status, v)
}

func MethodHandler(
	w http.ResponseWriter,
	r *http.Request,
	allowed map[string]func(http.ResponseWriter, *http.Request) error,
) error {
	if handler, ok := allowed[r.Method]; ok {
		return handler(w, r)
	}
	return &HTTPError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    "Method not allowed.",
		ErrorLog:   fmt.Errorf("method not allowed"),
	}
}

func ExtractTokenFromHeaders(r *http.Request) string {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		return r.URL.Query().Get("token")
	}
	return strings.TrimPrefix(tokenString, "Bearer ")
}

// agentFromRequest resolves the acting agent from the request's token.
func agentFromRequest(r *http.Request) (internaljwt.Agent, error) {
	tokenString := ExtractTokenFromHeaders(r)
	if tokenString == "" {
		return internaljwt.Agent{}, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("missing agent token"),
		}
	}

	claims, err := internaljwt.ParseToken(tokenString, internaljwt.RoleAgent)
	if err != nil {
		return internaljwt.Agent{}, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("parse agent token: %w", err),
		}
	}

	agent := internaljwt.Agent{}
	agent.ID, _ = claims["id"].(string)
	agent.Email, _ = claims["email"].(string)
	agent.Name, _ = claims["name"].(string)
	if agent.ID == "" {
		return internaljwt.Agent{}, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("agent token missing id claim"),
		}
	}

	return agent, nil
}
