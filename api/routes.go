package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NethermindEth/agentchain/api/handlers"
)

// SetupRoutes initializes all API endpoints
func SetupRoutes(router *gin.Engine, h *handlers.Handler) {
	api := router.Group("/api")
	{
		api.GET("/chain/status", h.GetChainStatus)
		api.GET("/agents", h.GetAgents)
		api.GET("/agents/:id", h.GetAgent)
		api.GET("/requests/pending", h.GetPendingRequests)
		api.GET("/requests/:id", h.GetServiceRequest)
		api.GET("/transactions", h.GetTransactions)
		api.GET("/stats", h.GetStats)
		api.GET("/listings", h.GetMarketListings)
		api.POST("/tx", h.SubmitTransaction)
		api.GET("/ws", h.HandleWebSocket)
	}
}
