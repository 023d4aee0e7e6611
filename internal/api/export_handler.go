package api

import (
	"net/http"

	"github.com/adclip/adclip/internal/export"
)

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.Request
		if err := decodeCallable(w, r, &req); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if req.FrameRate < 0 || req.FrameRate > 120 {
			WriteError(w, http.StatusBadRequest, "frame_rate must be between 0 and 120", "BAD_REQUEST")
			return
		}
		if len(req.Transcript) == 0 {
			WriteError(w, http.StatusBadRequest, "transcript must not be empty", "BAD_REQUEST")
			return
		}

		res, err := cfg.Catalog.ExportEDL(r.Context(), req)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}
