package ports

import (
	"github.com/gin-gonic/gin"
)

type CallHandler interface {
	GetCall(c *gin.Context)
	StartCall(c *gin.Context)
	HangUp(c *gin.Context)
	Reconnect(c *gin.Context)
	ToggleVideo(c *gin.Context)
	ToggleAudio(c *gin.Context)
	ToggleScreenShare(c *gin.Context)
	GetHealth(c *gin.Context)
	PingPeer(c *gin.Context)
	GetEvents(c *gin.Context)
}
