package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"generals-net/internal/api"
	"generals-net/internal/chat"
	"generals-net/internal/config"
	"generals-net/internal/gamestate"
	"generals-net/internal/journal"
	"generals-net/internal/lockstep"
	"generals-net/internal/players"
	"generals-net/internal/transport"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// stallAfter is how long a frame may stay incomplete before peers are told.
const stallAfter = 2 * time.Second

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  GENERALS-NET - LOCKSTEP PEER")
	log.Println("🎮 ================================")

	appConfig := config.Load()
	netCfg := appConfig.Net
	serverCfg := appConfig.Server
	port := strconv.Itoa(serverCfg.Port)

	log.Printf("🎮 Config: slot %d of %d, %d fps, %d-byte packets", netCfg.LocalSlot, netCfg.MaxSlots, netCfg.FrameRate, netCfg.MaxPacketSize)
	log.Printf("📡 Transport: %s on %s, %d peers", appConfig.Transport.Kind, appConfig.Transport.ListenAddr, len(appConfig.Transport.Peers))

	// Save games
	state := gamestate.New(gamestate.Options{Save: appConfig.Save})
	if err := state.Init(); err != nil {
		log.Fatalf("❌ Game state init failed: %v", err)
	}
	log.Printf("💾 Saves: %s", appConfig.Save.SaveDir)

	tr, err := transport.New(appConfig.Transport)
	if err != nil {
		log.Fatalf("❌ Transport: %v", err)
	}

	// Chat lines fan out to websocket clients
	hub := api.NewWebSocketHub()
	chatQueue := chat.NewQueue(chat.DefaultQueueConfig(), hub.ChatHandler(), func(line chat.Line) {
		log.Printf("💬 [%s] %s", line.FromName, line.Text)
	})
	chatQueue.Start()
	chatService := chat.NewService(appConfig.Chat, chatQueue, players.SlotName)

	startedAt := time.Now()
	sessionID := uuid.New()

	var cmdJournal *journal.Journal
	if serverCfg.JournalPath != "" {
		cmdJournal = journal.New(sessionID.String())
		if err := cmdJournal.Start(serverCfg.JournalPath); err != nil {
			log.Printf("⚠️ Command journal disabled: %v", err)
			cmdJournal = nil
		} else {
			log.Printf("📝 Command journal: %s", serverCfg.JournalPath)
		}
	}

	session, err := lockstep.NewSession(lockstep.Options{
		ID:        sessionID,
		Journal:   cmdJournal,
		Net:       netCfg,
		Transport: tr,
		Peers:     appConfig.Transport.Peers,
		Chat:      chatService,
		Paths:     state,
		Callbacks: lockstep.Callbacks{
			OnPlayerLeft: func(slot uint8) {
				log.Printf("👋 %s left", players.SlotName(slot))
			},
			OnFile: func(from uint8, realPath string, data []byte) {
				if err := storeFile(realPath, data); err != nil {
					log.Printf("⚠️ Could not store %s from slot %d: %v", realPath, from, err)
					return
				}
				log.Printf("📨 Stored %s (%d bytes) from slot %d", realPath, len(data), from)
			},
			OnProgress: func(slot uint8, percent int) {
				log.Printf("📊 Slot %d loading: %d%%", slot, percent)
			},
			OnLoaded: func(slot uint8) {
				log.Printf("✅ Slot %d finished loading", slot)
			},
			OnTimeOut: func() {
				log.Println("⚠️ Game start timed out")
			},
		},
	})
	if err != nil {
		log.Fatalf("❌ Session: %v", err)
	}

	// Start debug server
	if err := api.StartDebugServer(appConfig.Debug); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Start(ctx); err != nil {
		log.Fatalf("❌ Session start failed: %v", err)
	}
	go runFrames(ctx, session, netCfg.FrameRate)

	routerCfg := api.RouterConfig{
		Saves:   state,
		Session: session,
		Chat:    chatService,
	}
	if cmdJournal != nil {
		routerCfg.Journal = cmdJournal
	}
	server := api.NewServer(routerCfg, hub, serverCfg.BroadcastEvery)

	// Start API server in goroutine
	go func() {
		addr := ":" + port
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("✅ Peer ready in %v! Press Ctrl+C to stop.", time.Since(startedAt).Round(time.Millisecond))
	<-quit

	log.Println("🛑 Shutting down...")
	if err := session.Leave(); err != nil {
		log.Printf("⚠️ Leave failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ API shutdown: %v", err)
	}

	cancel()
	session.Stop()
	chatQueue.Stop()
	if cmdJournal != nil {
		cmdJournal.Stop()
	}
	log.Println("👋 Goodbye!")
}

// runFrames executes frames as soon as every player's commands are in.
// A frame that stays incomplete is reported as a stall so peers can vote
// the missing player out; play resuming is reported the same way.
func runFrames(ctx context.Context, session *lockstep.Session, frameRate int) {
	ticker := time.NewTicker(time.Second / time.Duration(max(frameRate, 1)))
	defer ticker.Stop()

	waitingSince := time.Now()
	stalled := false
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			frame := session.Frame()
			cmds, ok := session.TakeFrame(frame)
			if !ok {
				if !stalled && now.Sub(waitingSince) >= stallAfter {
					log.Printf("⚠️ Stalled on frame %d", frame)
					session.ReportStall(frame)
					stalled = true
				}
				continue
			}
			if stalled {
				log.Printf("✅ Resumed on frame %d", frame+1)
				session.ReportResume(frame + 1)
				stalled = false
			}
			waitingSince = now
			if len(cmds) > 0 {
				log.Printf("🎮 Frame %d: %d commands", frame, len(cmds))
			}
		}
	}
}

// storeFile writes a transferred file under its local path.
func storeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
