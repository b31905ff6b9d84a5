// This is a http type of reporter.
// It fetches funding requests from internal state/statedb
// and publishes them on the http routes.

package reporter

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crosslayer/funding-go/state"
)

const (
	ROUTE_HELLO   = "/hello"
	ROUTE_FUNDING = "/funding"
)

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data source
	statedb *state.StateDB
}

func NewHttpReporter(serverIP string, serverPort string, statedb *state.StateDB) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		statedb:    statedb,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	// Define routes & handlers
	router.GET(ROUTE_HELLO, Hello)
	router.GET(ROUTE_FUNDING, h.Funding)

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	if err := router.Run(address); err != nil {
		panic(err)
	}
}

// Example route.
func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

// Fetch one funding request (by request_id) or all requests in a given
// status, and publish on the route.
func (h *HttpReporter) Funding(c *gin.Context) {
	requestId := c.Query("request_id")
	status := c.Query("status")

	// Check if both parameters are missing
	if requestId == "" && status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either request_id or status must be provided"})
		return
	}

	if requestId != "" {
		fr, found, err := h.statedb.GetRequest(requestId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "No funding request found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": fr})
		return
	}

	frs, err := h.statedb.GetRequestsByStatus(state.RequestStatus(status))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(frs) > 0 {
		c.JSON(http.StatusOK, gin.H{"data": frs})
	} else {
		c.JSON(http.StatusNotFound, gin.H{"error": "No funding request found"})
	}
}
