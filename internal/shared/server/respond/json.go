package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSON writes payload with status. Snapshots go out as-is; the bridge never
// wraps them in an envelope so the UI sees the backend's field names.
func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

func OK(c *gin.Context, payload any) { JSON(c, http.StatusOK, payload) }

// Created is used when the bridge registered a new ticket.
func Created(c *gin.Context, payload any) { JSON(c, http.StatusCreated, payload) }
