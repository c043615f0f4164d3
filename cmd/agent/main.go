package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/xelth-com/posyncgo/internal/config"
	"github.com/xelth-com/posyncgo/internal/identity"
	"github.com/xelth-com/posyncgo/internal/peersync"
	"github.com/xelth-com/posyncgo/internal/protocol"
)

// Operator tool: joins the LAN sync network as a device, prints every
// payload received from peers, and broadcasts lines typed as
// "<domain> <action> [json-data]", e.g. `order create {"id":"ORD-1"}`.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	device, err := identity.LoadOrGenerate("")
	if err != nil {
		log.Printf("⚠️ Identity not persisted: %v", err)
	}
	log.Printf("📟 Device %s (%s, role=%s)", device.Name, device.DeviceID, device.Role)

	client := peersync.NewClient(cfg.Client, device, nil)
	unsubscribe := client.Subscribe(func(p protocol.SyncPayload) {
		fmt.Printf("⬅️  [%s] %s %s %s\n", p.OriginDeviceID, p.Domain, p.Action, string(p.Data))
	})
	defer unsubscribe()

	client.Start()
	defer client.Close()

	go readInput(client)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	status := client.Status()
	log.Printf("🛑 Shutting down (online=%v, transport=%s, peers=%d)",
		status.Online, status.TransportMethod, status.PeerCount)
}

func readInput(client *peersync.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line == "status" {
			st := client.Status()
			fmt.Printf("online=%v transport=%s peers=%d\n", st.Online, st.TransportMethod, st.PeerCount)
			continue
		}

		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			fmt.Println("Usage: <domain> <action> [json-data] | ping <deviceId> | status")
			continue
		}

		if parts[0] == "ping" {
			rtt, err := client.PingPeer(parts[1])
			if err != nil {
				fmt.Printf("Ping failed: %v\n", err)
			} else {
				fmt.Printf("Round trip: %s\n", rtt)
			}
			continue
		}

		payload := protocol.SyncPayload{
			Domain: parts[0],
			Action: parts[1],
		}
		if len(parts) == 3 {
			if !json.Valid([]byte(parts[2])) {
				fmt.Println("Data must be valid JSON")
				continue
			}
			payload.Data = json.RawMessage(parts[2])
		}
		client.Broadcast(payload)
	}
}
