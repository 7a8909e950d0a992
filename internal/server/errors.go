package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aixgo-dev/embedchat/pkg/chat"
	"github.com/aixgo-dev/embedchat/pkg/configstore"
	"github.com/aixgo-dev/embedchat/pkg/provision"
	"github.com/aixgo-dev/embedchat/pkg/runpoller"
)

// Client-facing messages.
const (
	msgMissingMessage  = "Message content is required."
	msgConfigNotFound  = "Configuration for this assistant could not be found. Please check the embed code."
	msgThreadBusy      = "A run is already pending for this conversation."
	msgChatFailed      = "An error occurred while processing the chat message."
	msgRunTimeout      = "The assistant did not respond in time."
	msgProvisionFailed = "Failed to configure assistant. Please check your API key and Assistant ID."
	msgStoreFailed     = "Failed to load assistant configurations."
	msgTooManySessions = "Too many open chats. Please try again later."
	msgRateLimited     = "Too many messages. Please wait a moment and try again."
)

// chatStatus maps a chat turn error to a status code and client message.
func chatStatus(err error) (int, string) {
	var failed *runpoller.RunFailedError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, msgMissingMessage
	case errors.Is(err, configstore.ErrNotFound):
		return http.StatusNotFound, msgConfigNotFound
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict, msgThreadBusy
	case errors.As(err, &failed):
		return http.StatusInternalServerError, fmt.Sprintf("Run finished with status: %s", failed.Status)
	case errors.Is(err, runpoller.ErrTimeout):
		return http.StatusInternalServerError, msgRunTimeout
	default:
		return http.StatusInternalServerError, msgChatFailed
	}
}

// provisionStatus maps a provisioning error to a status code and client
// message.
func provisionStatus(err error) (int, string) {
	var ve *provision.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	default:
		return http.StatusInternalServerError, msgProvisionFailed
	}
}
