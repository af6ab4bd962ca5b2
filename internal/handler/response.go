package handler

import (
	"net/http"

	"github.com/openclaw/subbot-linker/internal/httputil"
	"github.com/openclaw/subbot-linker/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func views(sessions []*model.Session) []model.SessionView {
	out := make([]model.SessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.View(false))
	}
	return out
}
