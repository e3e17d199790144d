package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/crawler"
	"github.com/use-agent/harvest/models"
)

// Crawl returns a handler for POST /crawl. The crawl runs to completion
// within the request; per-URL failures land in errors[] without failing
// the whole crawl.
func Crawl(cr *crawler.Crawler, sec config.SecurityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CrawlRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.CrawlResponse{
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
			c.JSON(http.StatusBadRequest, models.CrawlResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "url is required",
				},
			})
			return
		}
		req.CrawlOptions.Defaults()
		if err := req.CrawlOptions.Validate(); err != nil {
			resp := models.CrawlResponse{
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
			return
		}

		resp, err := cr.Crawl(c.Request.Context(), req.URL, req.CrawlOptions)
		if err != nil {
			var fe *models.FieldError
			if errors.As(err, &fe) {
				c.JSON(http.StatusBadRequest, models.CrawlResponse{
					Success: false,
					Error: &models.ErrorDetail{
						Code:    models.ErrCodeInvalidInput,
						Message: err.Error(),
					},
					Details: fe,
				})
				return
			}
			c.JSON(http.StatusBadGateway, models.CrawlResponse{
				Success: false,
				Error:   toDetail(err, sec),
				Details: stackFor(err, sec),
			})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}
