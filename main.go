package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/config"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/database"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/pubsub"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/services"
	"github.com/kiwis93160/OUIOUIPOSv2-sub000/app/websocket"
)

func main() {
	cfg := config.Load()

	if err := database.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	db := database.GetDB()
	bus := pubsub.New()

	orderService := services.NewOrderService(db, bus)
	productService := services.NewProductService(db)
	employeeService := services.NewEmployeeService(db)
	reportsService := services.NewReportsService(db)

	baseURL := "http://localhost:" + cfg.Server.Port
	handlers := websocket.NewHandlers(orderService, productService, employeeService, reportsService, baseURL)

	server := websocket.NewServer(":"+cfg.Server.Port, cfg.Server.ServiceName, cfg.Server.AnnounceMDNS, handlers)
	server.AttachBus(bus)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server stopped: %v", err)
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
		server.Stop()
	}
}
