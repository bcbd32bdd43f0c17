package handler

import (
	"chatlink/backend/internal/chathub"
	"chatlink/backend/internal/config"
)

// Handler holds the dependencies of the HTTP surface.
type Handler struct {
	Hub        *chathub.ManagerService
	Dispatcher *chathub.Dispatcher
	Cfg        config.Config
}

func NewHandler(hub *chathub.ManagerService, d *chathub.Dispatcher, cfg config.Config) *Handler {
	return &Handler{Hub: hub, Dispatcher: d, Cfg: cfg}
}
