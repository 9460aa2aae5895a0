package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"pixdesk/internal/server"
)

func main() {
	srv := server.New()
	srv.RegisterFiberRoutes()

	port, _ := strconv.Atoi(os.Getenv("PORT"))
	if port == 0 {
		port = 8080
	}

	go func() {
		if err := srv.Listen(fmt.Sprintf(":%d", port)); err != nil {
			log.Fatalf("[API] Listen failed: %v", err)
		}
	}()

	log.Printf("[API] Listening on :%d", port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := srv.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("[API] Shutdown error: %v", err)
	}
	if err := srv.Shutdown(); err != nil {
		log.Printf("[API] Cleanup error: %v", err)
	}

	log.Println("[API] Stopped")
}
