package server

import (
	"github.com/gin-gonic/gin"

	"github.com/Scrimzay/rtsworld/internal/realtime"
)

// HandleWebsocket hands the connection to the broadcaster, which reads
// subscribe and unsubscribe actions until the client goes away.
func HandleWebsocket(broadcaster *realtime.Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		broadcaster.ServeWS(c.Writer, c.Request)
	}
}
