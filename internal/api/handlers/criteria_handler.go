package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pitch-perfect/backend/internal/criteria"
)

type CriteriaHandler struct {
	catalog criteria.Catalog
}

func NewCriteriaHandler(catalog criteria.Catalog) *CriteriaHandler {
	return &CriteriaHandler{
		catalog: catalog,
	}
}

func (h *CriteriaHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"criteria": h.catalog,
	})
}
