package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"catalog-override-service/internal/clients"
	"catalog-override-service/internal/models"
	"catalog-override-service/internal/repository"
	"catalog-override-service/internal/services"
)

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var (
		dataErr       *services.DataError
		fieldErr      *models.UnknownFieldError
		transitionErr *models.TransitionError
		rejection     *services.ConflictRejection
		mappingErr    *services.MappingError
		apiErr        *clients.APIError
	)
	switch {
	case errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrShopNotFound),
		errors.Is(err, repository.ErrShopDataNotFound),
		errors.Is(err, repository.ErrJobNotFound),
		errors.Is(err, repository.ErrCategoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrSessionActive),
		errors.Is(err, services.ErrEditingBlocked),
		errors.Is(err, repository.ErrStaleVersion),
		errors.As(err, &transitionErr),
		errors.As(err, &rejection):
		return http.StatusConflict
	case errors.As(err, &dataErr),
		errors.As(err, &fieldErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrUnknownCategory),
		errors.Is(err, services.ErrRootCategory),
		errors.Is(err, services.ErrAncestorMarked),
		errors.Is(err, services.ErrShopNotLinked):
		return http.StatusBadRequest
	case errors.As(err, &mappingErr), errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
