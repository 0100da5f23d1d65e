package http

import (
	"net/http"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/gin-gonic/gin"
)

type SessionLister interface {
	List() []core.SessionInfo
	Len() int
}

type SourceStatus interface {
	Running() bool
	Subscribers() int
}

type HealthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	SourceRunning bool   `json:"source_running"`
	Subscribers   int    `json:"subscribers"`
}

type SessionsResponse struct {
	Sessions []core.SessionInfo `json:"sessions"`
}

func handleHealth(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{Status: "ok"}
		if deps.Sessions != nil {
			resp.Sessions = deps.Sessions.Len()
		}
		if deps.Source != nil {
			resp.SourceRunning = deps.Source.Running()
			resp.Subscribers = deps.Source.Subscribers()
		}
		c.JSON(http.StatusOK, resp)
	}
}

func handleSessions(list SessionLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		if list == nil {
			c.JSON(http.StatusOK, SessionsResponse{Sessions: []core.SessionInfo{}})
			return
		}
		c.JSON(http.StatusOK, SessionsResponse{Sessions: list.List()})
	}
}
