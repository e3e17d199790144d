package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/pipeline"
)

// Scrape returns a handler for POST /scrape.
//
// Flow:
//  1. Parse & validate request, apply defaults.
//  2. Orchestrator.Scrape runs the engine-fallback pipeline.
//  3. Success → {success:true, document}; failure → 502 with a stable
//     {code, message} pair (verbose details only when configured).
func Scrape(orc *pipeline.Orchestrator, sec config.SecurityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScrapeResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "request body is not valid JSON",
				},
				Details: detailsFor(err, sec),
			})
			return
		}
		if req.URL == "" {
			c.JSON(http.StatusBadRequest, models.ScrapeResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "url is required",
				},
			})
			return
		}
		req.ScrapeOptions.Defaults()
		if err := req.ScrapeOptions.Validate(); err != nil {
			respondValidation(c, err, sec)
			return
		}

		requestID := uuid.New().String()
		doc, err := orc.Scrape(c.Request.Context(), req.URL, req.ScrapeOptions)
		if err != nil {
			var fe *models.FieldError
			if errors.As(err, &fe) {
				respondValidation(c, err, sec)
				return
			}
			c.JSON(http.StatusBadGateway, models.ScrapeResponse{
				Success:   false,
				RequestID: requestID,
				Error:     toDetail(err, sec),
				Details:   stackFor(err, sec),
			})
			return
		}

		c.JSON(http.StatusOK, models.ScrapeResponse{
			Success:  true,
			Document: doc,
		})
	}
}

// respondValidation writes a 400 with per-field details.
func respondValidation(c *gin.Context, err error, sec config.SecurityConfig) {
	resp := models.ScrapeResponse{
		Success: false,
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeInvalidInput,
			Message: err.Error(),
		},
	}
	var fe *models.FieldError
	if errors.As(err, &fe) {
		resp.Details = fe
	}
	c.JSON(http.StatusBadRequest, resp)
}

// toDetail maps an internal error to the public tuple. Raw engine
// errors never leak: the message is the code-level summary unless
// detail exposure is enabled.
func toDetail(err error, sec config.SecurityConfig) *models.ErrorDetail {
	var he *models.HarvestError
	if !errors.As(err, &he) {
		he = models.NewHarvestError(models.ErrCodeInternal, "internal error", err)
	}
	detail := &models.ErrorDetail{Code: he.Code, Message: he.Message}
	if sec.ExposeErrorDetails && he.Err != nil {
		detail.Message = he.Error()
	}
	return detail
}

func detailsFor(err error, sec config.SecurityConfig) any {
	if sec.ExposeErrorDetails {
		return err.Error()
	}
	return nil
}

// stackFor exposes the wrapped error chain only when the deployment
// opted in.
func stackFor(err error, sec config.SecurityConfig) any {
	if !sec.ExposeErrorStack {
		return nil
	}
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, e.Error())
	}
	return chain
}
