// Package settings serves the instance's public identity so operators
// and test harnesses can discover how to address this VASP.
package settings

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"vasppay/internal/common/api"
)

// Info is the published identity of this instance.
type Info struct {
	VASPAddress string `json:"vasp_address"`
	Identifier  string `json:"identifier"`
	ChainID     uint8  `json:"chain_id"`
	PublicKey   string `json:"compliance_public_key"`
}

// Handler serves GET /settings.
type Handler struct {
	info Info
}

// NewHandler creates a settings handler.
func NewHandler(info Info) *Handler {
	return &Handler{info: info}
}

// Register mounts the settings endpoint.
func (h *Handler) Register(r chi.Router) {
	r.Get("/settings", func(w http.ResponseWriter, _ *http.Request) {
		api.WriteData(w, http.StatusOK, h.info)
	})
}
