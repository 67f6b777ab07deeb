package api

import (
	"net/http"

	qrcode "github.com/skip2/go-qrcode"
)

// handleQR serves a PNG QR code of the public URL so a phone can join
// without typing an address. 404 when no public URL is configured.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	if s.publicURL == "" {
		s.errorResponse(w, http.StatusNotFound, "public_url not configured")
		return
	}

	png, err := qrcode.Encode(s.publicURL, qrcode.Medium, 256)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "generate qr: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		s.logger.Debug("failed to write QR response", "error", err)
	}
}
