package handler

import (
	"net/http"

	"github.com/chatsync/internal/config"
)

// ConfigHandler отдаёт публичные параметры конфигурации клиенту.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetRealtimeConfig: адрес шлюза и период ресинхронизации списка чатов (0, выключено).
func (h *ConfigHandler) GetRealtimeConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ws_url":                  h.cfg.PublicWSURL,
		"resync_interval_seconds": int(h.cfg.ResyncInterval.Seconds()),
	})
}
