package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tasktree/internal/mutate"
)

func statusFor(kind mutate.Kind) int {
	switch kind {
	case mutate.KindReferenceNotFound:
		return http.StatusNotFound
	case mutate.KindCycleDetected, mutate.KindWouldOrphanTemplate:
		return http.StatusConflict
	case mutate.KindInvalidRequest:
		return http.StatusBadRequest
	case mutate.KindPersistenceFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(c *gin.Context, err error) {
	kind := mutate.KindOf(err)
	c.AbortWithStatusJSON(statusFor(kind), gin.H{"error": err.Error(), "kind": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "kind": mutate.KindInvalidRequest})
}

func writeData(c *gin.Context, code int, v any) {
	c.JSON(code, gin.H{"data": v})
}
