package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tshla-medical/phicore/internal/service"
	"github.com/tshla-medical/phicore/internal/storage"
)

// PHIHandler exposes the server-side half of the storage split. Every
// endpoint sits behind SessionMiddleware, so a session is guaranteed here;
// the per-permission gate lives in the session service.
type PHIHandler struct {
	store *storage.ServerStore
}

func NewPHIHandler(store *storage.ServerStore) *PHIHandler {
	return &PHIHandler{store: store}
}

type storeDataRequest struct {
	Data      string `json:"data" binding:"required"`
	PatientID string `json:"patient_id" binding:"required"`
}

func (h *PHIHandler) Store(c *gin.Context) {
	var req storeDataRequest
	if !bindJSON(c, &req) {
		return
	}

	resolved := resolvedSession(c)
	if resolved == nil {
		respondServiceError(c, service.ErrAuthenticationRequired)
		return
	}

	key := c.Param("key")
	if err := h.store.StorePatientData(c.Request.Context(), resolved.Session, key, req.Data, req.PatientID); err != nil {
		respondServiceError(c, err)
		return
	}
	respondCreated(c, gin.H{"key": key})
}

func (h *PHIHandler) Get(c *gin.Context) {
	resolved := resolvedSession(c)
	if resolved == nil {
		respondServiceError(c, service.ErrAuthenticationRequired)
		return
	}

	patientID := c.Query("patient_id")
	if patientID == "" {
		respondError(c, http.StatusBadRequest, "patient_id is required")
		return
	}

	data, err := h.store.GetPatientData(c.Request.Context(), resolved.Session, c.Param("key"), patientID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"data": data})
}

func (h *PHIHandler) Delete(c *gin.Context) {
	resolved := resolvedSession(c)
	if resolved == nil {
		respondServiceError(c, service.ErrAuthenticationRequired)
		return
	}

	patientID := c.Query("patient_id")
	if patientID == "" {
		respondError(c, http.StatusBadRequest, "patient_id is required")
		return
	}

	if err := h.store.DeletePatientData(c.Request.Context(), resolved.Session, c.Param("key"), patientID); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": true})
}
