package handler

import (
	"net/http"
	"time"
)

type downloadResponse struct {
	DownloadURL        string    `json:"downloadUrl"`
	SecurePath         string    `json:"securePath"`
	RemainingDownloads int       `json:"remainingDownloads"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

func (h *Handler) requestDownload(w http.ResponseWriter, r *http.Request) {
	grant, err := h.service.RequestDownload(r.Context(),
		UserID(r.Context()), r.PathValue("id"), r.PathValue("itemID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.metrics.downloadGranted(r.Context())
	writeJSON(w, http.StatusOK, downloadResponse{
		DownloadURL:        grant.DownloadURL,
		SecurePath:         grant.SecurePath,
		RemainingDownloads: grant.RemainingDownloads,
		ExpiresAt:          grant.ExpiresAt,
	})
}
