package controller

import (
	"net/http"

	"github.com/couchsync/server/pkg/rest"
	"github.com/go-chi/chi/v5"
)

func (c *controller) checkRoom(w http.ResponseWriter, r *http.Request) {
	roomId := chi.URLParam(r, "room-id")
	if roomId == "" {
		rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": "room not found"})
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"exists": c.roomService.RoomExists(roomId)})
}

type resolveRequest struct {
	Url    string `json:"url" validate:"required,url"`
	RoomId string `json:"roomId"`
}

func (c *controller) resolve(w http.ResponseWriter, r *http.Request) {
	req := resolveRequest{
		Url:    r.URL.Query().Get("url"),
		RoomId: r.URL.Query().Get("roomId"),
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	media, err := c.roomService.ResolveSource(r.Context(), req.RoomId, req.Url)
	if err != nil {
		c.logger.InfoContext(r.Context(), "failed to resolve url", "url", req.Url, "error", err)
		rest.WriteJSON(w, http.StatusBadGateway, rest.Envelope{"error": "failed to resolve url"})
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"url": media.Url, "referer": media.Referer})
}
