package main

import (
	"boardsync/cache"
	"boardsync/engine"
	"boardsync/handlers/api/archive"
	"boardsync/handlers/api/objects"
	ws "boardsync/handlers/websocket"
	authMiddleware "boardsync/middleware"
	"boardsync/stores"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// The server writes with its own elevated-trust identity.
	serviceUser := os.Getenv("SERVICE_USER")
	if serviceUser == "" {
		serviceUser = "service-" + uuid.NewString()
	}

	store := stores.GetStore(serviceUser)
	archiveStore := stores.GetArchiveStore(store)

	// The server keeps its own authoritative cache of the board so read
	// endpoints never touch the store on the hot path.
	local := cache.NewStore()
	eng := engine.NewEngine(store, local)
	eng.Start()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	secret := []byte(os.Getenv("SERVICE_TOKEN_SECRET"))
	if len(secret) == 0 {
		logrus.Warn("SERVICE_TOKEN_SECRET is not set. The automation API is unprotected.")
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if len(secret) > 0 {
				r.Use(authMiddleware.AuthServiceToken(secret))
			}
			r.Route("/objects", func(r chi.Router) {
				r.Get("/", objects.HandleList(local))
				r.Post("/", objects.HandleCreate(store))
				r.Post("/batch", objects.HandleBatch(store))
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", objects.HandleGet(store))
					r.Patch("/", objects.HandlePatch(store))
					r.Delete("/", objects.HandleDelete(store))
					r.Post("/arrange", objects.HandleArrange(store, local))
				})
			})
		})

		r.Route("/archive", func(r chi.Router) {
			r.Get("/", archive.HandleList(archiveStore))
			r.Post("/", archive.HandleCreate(archiveStore))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", archive.HandleGet(archiveStore))
				r.Put("/", archive.HandleUpdate(archiveStore))
				r.Delete("/", archive.HandleDelete(archiveStore))
			})
		})
	})

	fanout := ws.NewServer(store)
	r.Mount("/socket.io/", fanout.IO().ServeHandler(nil))

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(fanout, eng)
}

func waitForShutdown(fanout *ws.Server, eng *engine.Engine) {
	exit := make(chan struct{})
	signalC := make(chan os.Signal, 1)

	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range signalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	eng.Close()
	fanout.Close()
	os.Exit(0)
}
