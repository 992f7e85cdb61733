// wsprobe connects to the backend websocket endpoint, authenticates and
// prints every frame it receives.
// Usage: go run ./cmd/wsprobe --url ws://localhost:5001/ws --user 42
//
// Optional environment variables:
//
//	WSPROBE_TOKEN - HS256 token sent with the auth message
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/saranga-ayurveda/backend/internal/logging"
	"github.com/saranga-ayurveda/backend/internal/realtime"
)

func main() {
	url := flag.String("url", "ws://localhost:5001/ws", "websocket endpoint")
	userID := flag.String("user", "", "user id to authenticate as")
	interval := flag.Duration("interval", 0, "repeat sync_request at this interval (0 sends one)")
	verbose := flag.Bool("verbose", false, "pretty print payloads")
	flag.Parse()

	logger := logging.New(logging.Config{Level: "debug", Format: "console"})

	if *userID == "" {
		logger.Error().Msg("--user is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Error().Err(err).Str("url", *url).Msg("failed to connect")
		os.Exit(1)
	}
	defer ws.Close()
	logger.Info().Str("url", *url).Msg("connected")

	auth := map[string]any{"type": realtime.TypeAuth, "userId": *userID}
	if token := os.Getenv("WSPROBE_TOKEN"); token != "" {
		auth["token"] = token
	}
	if err := send(ws, auth); err != nil {
		logger.Error().Err(err).Msg("failed to send auth")
		os.Exit(1)
	}
	if err := send(ws, map[string]any{"type": realtime.TypeSyncRequest}); err != nil {
		logger.Error().Err(err).Msg("failed to send sync_request")
		os.Exit(1)
	}

	go readFrames(ws, *verbose, &logger, cancel)

	if *interval > 0 {
		go func() {
			ticker := time.NewTicker(*interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := send(ws, map[string]any{"type": realtime.TypeSyncRequest}); err != nil {
						logger.Warn().Err(err).Msg("failed to send sync_request")
						return
					}
				}
			}
		}()
	}

	logger.Info().Str("user", *userID).Msg("listening - press Ctrl+C to stop")
	<-ctx.Done()

	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	logger.Info().Msg("disconnected")
}

func send(ws *websocket.Conn, msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

func readFrames(ws *websocket.Conn, verbose bool, logger *zerolog.Logger, done context.CancelFunc) {
	defer done()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("read failed")
			}
			return
		}

		var msg realtime.Outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			fmt.Printf("[RAW] %s\n", data)
			continue
		}
		if verbose {
			pretty, _ := json.MarshalIndent(msg.Payload, "", "  ")
			fmt.Printf("[%s] %s\n", msg.Type, pretty)
		} else {
			fmt.Printf("[%s] %d bytes\n", msg.Type, len(data))
		}
	}
}
