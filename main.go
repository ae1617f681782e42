package main

import (
	"log"
	"net/http"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/ViperBlackSkull/EscapeTwogether-sub001/config"
	"github.com/ViperBlackSkull/EscapeTwogether-sub001/game"
	"github.com/ViperBlackSkull/EscapeTwogether-sub001/shared/logger"
)

func CreateServer(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")
		if origin == "" || slices.Contains(allowedOrigins, origin) {
			ctx.Next()
			return
		}
		ctx.String(http.StatusForbidden, "forbidden origin")
		ctx.Abort()
	})

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
	}))

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger.SetDebug(cfg.Debug)
	if len(cfg.AllowedOrigins) == 0 {
		log.Fatal("missing allowed origins")
	}

	clock := clockwork.NewRealClock()
	dir := game.NewDirectory(clock)
	srv := game.NewServer(dir, clock, cfg.DisconnectGrace)
	defer srv.Shutdown()

	go srv.PingLoop()

	r := CreateServer(cfg.AllowedOrigins)
	game.RegisterRoutes(r, srv)

	logger.Infof("coordination service listening on %s", cfg.ServerAddr)
	if err := r.Run(cfg.ServerAddr); err != nil {
		log.Fatal(err)
	}
}
