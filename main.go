package main

import (
	"bufio"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tinychat/config"
	"tinychat/logger"
	"tinychat/registry"
	"tinychat/server"
	"tinychat/store"
)

const controlSocketPath = "/tmp/tinychat.sock"

func main() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		FilePath:   cfg.LogFile,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
	})
	log := logger.New("main")

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open account store")
	}
	defer st.Close()

	// Seed the registry with persisted accounts; everyone starts logged out.
	reg := registry.New()
	usernames, err := st.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load account roster")
	}
	for _, u := range usernames {
		if err := reg.Create(u); err != nil {
			log.Warn().Err(err).Str("user", u).Msg("skipping persisted account")
		}
	}
	log.Info().Int("accounts", reg.Count()).Msg("registry seeded")

	srv := server.New(reg, st, &server.ServerConfig{
		Port:         cfg.Port,
		PollInterval: time.Duration(cfg.PollInterval) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	go startControlSocket(srv)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Shutdown()
		os.Remove(controlSocketPath)
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func startControlSocket(srv *server.Server) {
	log := logger.New("control")

	os.Remove(controlSocketPath)

	listener, err := net.Listen("unix", controlSocketPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to create control socket")
		return
	}
	defer listener.Close()
	defer os.Remove(controlSocketPath)

	log.Info().Str("path", controlSocketPath).Msg("control socket listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}
		go handleControlCommand(srv, conn)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		conn.Write([]byte("OK|" + srv.Stats() + "\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		srv.Shutdown()
		os.Remove(controlSocketPath)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
