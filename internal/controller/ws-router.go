package controller

import (
	"github.com/couchsync/server/pkg/wsrouter"
)

func (c *controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()

	mux.Use(c.wsRequestIdWSMw())
	mux.Use(c.loggerWSMw())

	// membership
	wsrouter.Handle(mux, "join_room", c.handleJoinRoom)
	wsrouter.Handle(mux, "disconnect", c.handleDisconnect)

	// video
	wsrouter.Handle(mux, "set_url", c.handleSetUrl)

	// player
	wsrouter.Handle(mux, "play", c.handlePlay)
	wsrouter.Handle(mux, "pause", c.handlePause)
	wsrouter.Handle(mux, "seek", c.handleSeek)
	wsrouter.Handle(mux, "buffering_start", c.handleBufferingStart)
	wsrouter.Handle(mux, "buffering_end", c.handleBufferingEnd)
	wsrouter.Handle(mux, "time_update", c.handleTimeUpdate)

	return mux
}
