package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	termbox "github.com/nsf/termbox-go"
	log "github.com/sirupsen/logrus"

	"github.com/flowbase/repl-engine/config"
	"github.com/flowbase/repl-engine/coordinator"
)

// runTop polls a running instance's /api/status over HTTP and renders
// it full-screen with termbox.
func runTop(cfg config.Config) {
	if err := termbox.Init(); err != nil {
		log.WithError(err).Fatal("termbox initialization error")
	}
	defer termbox.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	url := "http://" + hostPart(cfg.HTTPListen) + "/api/status"

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	events := make(chan termbox.Event)
	go func() {
		for {
			events <- termbox.PollEvent()
		}
	}()

	draw(client, url)
	for {
		select {
		case ev := <-events:
			if ev.Type == termbox.EventKey && (ev.Key == termbox.KeyEsc || ev.Key == termbox.KeyCtrlC || ev.Ch == 'q') {
				return
			}
		case <-ticker.C:
			draw(client, url)
		}
	}
}

func hostPart(listen string) string {
	if len(listen) > 0 && listen[0] == ':' {
		return "localhost" + listen
	}
	return listen
}

func draw(client *http.Client, url string) {
	termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)

	snap, err := fetchStatus(client, url)
	if err != nil {
		printLine(0, 0, fmt.Sprintf("repl-engine top: %v", err), termbox.ColorRed)
		termbox.Flush()
		return
	}

	row := 0
	printLine(0, row, fmt.Sprintf("mode=%s active=%v min_replicas_sync=%d", snap.Mode, snap.Active, snap.MinReplicasSync), termbox.ColorWhite)
	row++
	printLine(0, row, fmt.Sprintf("primary=%s connected=%v", snap.Primary.Name, snap.Primary.Connected), termbox.ColorCyan)
	row += 2

	printLine(0, row, fmt.Sprintf("healthy %d/%d replicas", snap.HealthyReplicas, snap.TotalReplicas), termbox.ColorWhite)
	row++
	for name, r := range snap.Replicas {
		color := termbox.ColorGreen
		if !r.Connected || !r.Enabled {
			color = termbox.ColorRed
		}
		printLine(0, row, fmt.Sprintf("%-20s connected=%-5v enabled=%-5v queue=%d/%d lag=%.2fs applied=%d",
			name, r.Connected, r.Enabled, r.QueueSize, r.QueueCapacity, r.LagSeconds, r.Stats.LastAppliedEventID), color)
		row++
	}

	termbox.Flush()
}

func fetchStatus(client *http.Client, url string) (coordinator.StatusSnapshot, error) {
	var snap coordinator.StatusSnapshot
	resp, err := client.Get(url)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, err
	}
	return snap, nil
}

func printLine(x, y int, s string, fg termbox.Attribute) {
	for i, r := range s {
		termbox.SetCell(x+i, y, r, fg, termbox.ColorDefault)
	}
}
