// fake_listen serves a local stand-in for the streaming listen endpoint.
// Every binary message counts as audio; every tenth one produces an interim
// result, every fiftieth a final one.
//
//	go run scripts/fake_listen.go -addr :8765
//	ASRBRIDGE_EXTENSION_BASE_URL=ws://localhost:8765/v1/listen go run ./examples/transcribe -input audio.raw
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

type alternative struct {
	Transcript string `json:"transcript"`
}

type channel struct {
	Alternatives []alternative `json:"alternatives"`
}

type result struct {
	Type    string  `json:"type"`
	Channel channel `json:"channel"`
	IsFinal bool    `json:"is_final"`
}

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	key := flag.String("key", "", "expected api key, empty accepts any")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	http.HandleFunc("/v1/listen", func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Token ")
		if *key != "" && auth != *key {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade_failed", "error", err.Error())
			return
		}
		defer conn.Close()
		logger.Info("session_open", "query", r.URL.RawQuery)

		_ = conn.WriteJSON(map[string]any{"type": "Metadata", "request_id": "local"})
		frames := 0
		words := 0
		for {
			kind, _, err := conn.ReadMessage()
			if err != nil {
				logger.Info("session_closed", "frames", frames, "error", err.Error())
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			frames++
			switch {
			case frames%50 == 0:
				words++
				if err := writeResult(conn, fmt.Sprintf("utterance %d", words), true); err != nil {
					return
				}
			case frames%10 == 0:
				if err := writeResult(conn, fmt.Sprintf("utterance %d ...", words+1), false); err != nil {
					return
				}
			}
		}
	})

	logger.Info("fake_listen_started", "addr", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("fake_listen_failed", "error", err.Error())
		os.Exit(1)
	}
}

func writeResult(conn *websocket.Conn, text string, final bool) error {
	res := result{Type: "Results", IsFinal: final, Channel: channel{Alternatives: []alternative{{Transcript: text}}}}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
