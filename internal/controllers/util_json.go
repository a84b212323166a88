package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/netdemo/internal/middleware"
	"github.com/osvaldoandrade/netdemo/internal/services"
	"github.com/osvaldoandrade/netdemo/pkg/domain"

	"github.com/gin-gonic/gin"
)

// writeError maps domain errors onto HTTP statuses. Anything unrecognized is
// logged and reported as a 500 without its text.
func writeError(c *gin.Context, err error) {
	var (
		nf  *domain.NotFoundError
		ve  *domain.ValidationError
		dup *domain.DuplicateDemoError
	)
	switch {
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
	case errors.As(err, &ve):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ve.Error(), "violations": ve.Violations})
	case errors.Is(err, services.ErrDuplicateJob), errors.As(err, &dup):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		middleware.Logger(c).Error("request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
