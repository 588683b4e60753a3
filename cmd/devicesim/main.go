// Command devicesim is a smoke-test harness for the transport engine: it
// wires an Engine to the in-memory transport/loopback connection, sends a
// handful of messages on an interval, and prints every connection-status
// transition and inbound message to stdout. Grounded on the daemon
// command's signal-driven main loop in oriys-nova's cmd/nova/main.go
// (os/signal for graceful shutdown, a status ticker) -- simplified here to
// stdlib flag since the rest of this module carries no CLI-framework
// dependency to justify adding one just for this harness.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	transport "github.com/meshlink-io/devicetransport"
	"github.com/meshlink-io/devicetransport/transport/loopback"
)

func main() {
	var (
		deviceID string
		count    int
		period   time.Duration
		verbose  bool
	)
	flag.StringVar(&deviceID, "device-id", "sim-device-1", "simulated device identity")
	flag.IntVar(&count, "count", 5, "number of messages to send (the process keeps running until interrupted)")
	flag.DurationVar(&period, "period", time.Second, "interval between sent messages")
	flag.BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := transport.NewTextLogger(os.Stdout, level)

	cfg := &transport.EngineConfig{
		Protocol:           transport.ReqResp,
		DeviceID:           deviceID,
		OperationTimeoutMs: 30000,
		ConnectionFactory:  loopback.New,
	}

	engine, err := transport.NewEngine(cfg,
		transport.WithLogger(logger),
		transport.WithStatusChangeCallback(func(status transport.ConnectionStatus, reason transport.ConnectionStatusChangeReason, cause error, _ interface{}) {
			fmt.Printf("[status] %s (%s)", status, reason)
			if cause != nil {
				fmt.Printf(" cause=%v", cause)
			}
			fmt.Println()
		}, nil),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "devicesim: build engine:", err)
		os.Exit(1)
	}

	engine.SetMessageCallback(func(msg *transport.Message, _ interface{}) transport.AckDisposition {
		fmt.Printf("[recv] id=%s body=%q\n", msg.MessageID, string(msg.Body()))
		return transport.Complete
	}, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Open(ctx, []*transport.EngineConfig{cfg}); err != nil {
		fmt.Fprintln(os.Stderr, "devicesim: open:", err)
		os.Exit(1)
	}

	go engine.Run(ctx)

	go sendLoop(ctx, engine, count, period)

	<-ctx.Done()
	fmt.Println("devicesim: shutting down")
	if err := engine.Close(transport.ClientClose, nil); err != nil {
		fmt.Fprintln(os.Stderr, "devicesim: close:", err)
	}
}

func sendLoop(ctx context.Context, engine *transport.Engine, count int, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	sent := 0
	for sent < count {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			body := []byte(fmt.Sprintf("telemetry-sample-%d", sent))
			msg, err := transport.NewMessage(body, "")
			if err != nil {
				fmt.Fprintln(os.Stderr, "devicesim: build message:", err)
				continue
			}
			err = engine.AddMessage(msg, func(status transport.StatusCode, _ interface{}) {
				fmt.Printf("[send] id=%s status=%s\n", msg.MessageID, status)
			}, nil)
			if err != nil {
				fmt.Fprintln(os.Stderr, "devicesim: add message:", err)
				continue
			}
			sent++
		}
	}
}
