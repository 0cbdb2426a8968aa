package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/inventory/internal/domain"
)

// respondError maps workflow error kinds to HTTP status codes. The kind is
// echoed in the body so clients can branch without parsing messages.
func respondError(c *gin.Context, err error) {
	kind := domain.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindInvalidTransition, domain.KindStaleState, domain.KindDuplicateUnit:
		status = http.StatusConflict
	case domain.KindIncompleteCount:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(status, gin.H{"error": err.Error(), "code": string(kind)})
}

// parseID reads a UUID path parameter, answering 400 on malformed input
func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid " + name,
			"code":  string(domain.KindValidation),
		})
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON parses the request body, answering 400 on malformed input
func bindJSON(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		log.Debug().Err(err).Msg("invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": string(domain.KindValidation)})
		return false
	}
	return true
}
