// Command b2bua runs the SIP back-to-back user agent and RTP relay
// described by the core package tree under internal/. Its flag/signal
// handling follows the teacher's top-level main.go: CLI flags override
// config defaults, and a SIGTERM/SIGINT closes both sockets and stops the
// cleanup ticker while in-flight handler bodies run to completion.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/antirek/sip-server2/internal/config"
	"github.com/antirek/sip-server2/internal/dialog"
	"github.com/antirek/sip-server2/internal/engine"
	"github.com/antirek/sip-server2/internal/logging"
	"github.com/antirek/sip-server2/internal/registrar"
	"github.com/antirek/sip-server2/internal/rtprelay"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}

	sipAddr := &net.UDPAddr{IP: net.ParseIP(cfg.SIPHost), Port: cfg.SIPPort}
	sipConn, err := net.ListenUDP("udp", sipAddr)
	if err != nil {
		logger.Error("failed to bind SIP socket: " + err.Error())
		os.Exit(1)
	}
	defer sipConn.Close()

	relay, err := rtprelay.New(cfg.RTPHost, cfg.RTPPort, logger.WithField("component", "rtprelay"))
	if err != nil {
		logger.Error("failed to bind RTP socket: " + err.Error())
		os.Exit(1)
	}
	defer relay.Close()

	reg := registrar.New(logger.WithField("component", "registrar"))
	dialogs := dialog.New(logger.WithField("component", "dialog"), cfg.CallSetupTimeout)
	eng := engine.New(cfg, logger.WithField("component", "engine"), reg, dialogs, relay, engine.NewUDPSender(sipConn))

	stop := make(chan struct{})
	var inflight sync.WaitGroup
	readerDone := make(chan struct{})

	// SIP datagram handler loop.
	go func() {
		defer close(readerDone)
		buf := make([]byte, 65535)
		for {
			n, src, err := sipConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				eng.HandleDatagram(src, data)
			}()
		}
	}()

	// RTP datagram handler loop.
	go relay.Run()

	// Cleanup ticker.
	go eng.RunCleanupTicker(cfg.CleanupInterval, stop)

	logger.WithFields(map[string]interface{}{
		"sip":  fmt.Sprintf("%s:%d", cfg.SIPHost, cfg.SIPPort),
		"rtp":  fmt.Sprintf("%s:%d", cfg.RTPHost, cfg.RTPPort),
		"exts": fmt.Sprintf("%d-%d", cfg.ExtMin, cfg.ExtMax),
	}).Info("b2bua started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	signal.Ignore(syscall.SIGHUP, syscall.SIGPIPE, syscall.SIGUSR1, syscall.SIGUSR2)

	<-sigCh
	close(stop)
	sipConn.Close()
	relay.Close()
	<-readerDone
	inflight.Wait() // let in-flight handler bodies finish
	logger.Info("b2bua shut down")
}
