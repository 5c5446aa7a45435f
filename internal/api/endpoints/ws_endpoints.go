package endpoints

import (
	"fmt"
	"net/http"
	"strings"

	"support-inbox-backend/internal/realtime"
)

type WSEndpoints interface {
	ConversationSocket(http.ResponseWriter, *http.Request) error
	InboxSocket(http.ResponseWriter, *http.Request) error
}

type WSPaths struct {
	ConversationPrefix string
	InboxPrefix        string
}

type wsEndpoints struct {
	handler *realtime.Handler
	paths   WSPaths
}

func NewWSEndpoints(handler *realtime.Handler, prefix string) WSEndpoints {
	base := strings.TrimRight(prefix, "/")
	return NewWSEndpointsWithPaths(handler, WSPaths{
		ConversationPrefix: base + "/conversations/",
		InboxPrefix:        base + "/inbox/",
	})
}

func NewWSEndpointsWithPaths(handler *realtime.Handler, paths WSPaths) WSEndpoints {
	return &wsEndpoints{handler: handler, paths: paths}
}

// ConversationSocket streams message-level changes for one conversation.
func (h *wsEndpoints) ConversationSocket(w http.ResponseWriter, r *http.Request) error {
	conversationID, err := h.extractFromPath(r.URL.Path, h.paths.ConversationPrefix)
	if err != nil {
		return err
	}

	agent, err := agentFromRequest(r)
	if err != nil {
		return err
	}

	h.handler.JoinConversation(w, r, conversationID, agent.ID)
	return nil
}

// InboxSocket streams conversation-level changes for a whole page.
func (h *wsEndpoints) InboxSocket(w http.ResponseWriter, r *http.Request) error {
	pageID, err := h.extractFromPath(r.URL.Path, h.paths.InboxPrefix)
	if err != nil {
		return err
	}

	agent, err := agentFromRequest(r)
	if err != nil {
		return err
	}

	h.handler.JoinInbox(w, r, pageID, agent.ID)
	return nil
}

func (h *wsEndpoints) extractFromPath(path, prefix string) (string, error) {
	if prefix == "" {
		return "", &HTTPError{StatusCode: http.StatusNotFound, Message: "Not found", ErrorLog: fmt.Errorf("websocket route not configured")}
	}

	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", &HTTPError{StatusCode: http.StatusNotFound, Message: "Not found", ErrorLog: fmt.Errorf("invalid websocket path: %s", path)}
	}

	return trimmed, nil
}
