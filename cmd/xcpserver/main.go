// Command xcpserver is the thin external front-end that wires a config
// file into an xcp.Server and serves it over Ethernet until terminated.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/xcp-lite-server/config"
	"github.com/shaunagostinho/xcp-lite-server/internal/platform"
	"github.com/shaunagostinho/xcp-lite-server/logger"
	"github.com/shaunagostinho/xcp-lite-server/monitor"
	"github.com/shaunagostinho/xcp-lite-server/registry"
	"github.com/shaunagostinho/xcp-lite-server/transport"
	"github.com/shaunagostinho/xcp-lite-server/xcp"
)

func main() {
	configPath := flag.String("config", "/etc/xcp-lite/config.yaml", "Path to config file")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :5555)")
	monitorAddr := flag.String("monitor", ":8081", "Status monitor HTTP listen address")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] xcpserver starting")

	cfg := config.LoadConfig(*configPath)
	if *listenAddr != "" {
		cfg.Transport.ListenAddr = *listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	lg := logger.New(logger.Config{
		Enabled:        cfg.Logging.Enabled,
		Path:           cfg.Logging.Path,
		MaxRowsPerFile: cfg.Logging.MaxRowsPerFile,
	})
	defer lg.Close()

	srv := xcp.NewServer(xcp.Config{
		QueueSize: cfg.Queue.SizeBytes,
		MaxCTO:    cfg.Transport.MaxCTO,
		MaxDTO:    cfg.Transport.MaxDTO,
		EPK:       cfg.Identity.EPK,
		Clock:     platform.NewClock(),
	})

	eventIDs := make(map[string]registry.EventID, len(cfg.Events))
	for _, e := range cfg.Events {
		id, err := srv.CreateEvent(e.Name, e.CycleHintMs)
		if err != nil {
			log.Fatalf("[main] create event %q: %v", e.Name, err)
		}
		eventIDs[e.Name] = id
	}
	for _, seg := range cfg.Segments {
		if _, err := srv.CreateCalSeg(seg.Name, make([]byte, seg.SizeBytes)); err != nil {
			log.Fatalf("[main] create calseg %q: %v", seg.Name, err)
		}
	}

	hub := monitor.NewHub()
	go serveMonitor(ctx, *monitorAddr, hub)
	go publishStatusLoop(ctx, srv, hub)
	go pollOverflowLoop(ctx, srv, eventIDs, lg)

	connectWithRetry(ctx, "transport", func() error {
		tr, err := transport.New(transport.Proto(cfg.Transport.Proto), cfg.Transport.MaxDTO+4)
		if err != nil {
			return err
		}
		if err := srv.ServerStart(ctx, tr, cfg.Transport.ListenAddr); err != nil {
			return err
		}
		lg.LogSessionEvent("listening", cfg.Transport.ListenAddr)
		return nil
	}, 10)

	<-ctx.Done()
	srv.ServerStop()
	log.Println("[main] xcpserver stopped")
}

func serveMonitor(ctx context.Context, addr string, hub *monitor.Hub) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status/ws", hub.ServeWS)
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutCtx)
	}()

	log.Printf("[monitor] listening on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("[monitor] exited: %v", err)
	}
}

func publishStatusLoop(ctx context.Context, srv *xcp.Server, hub *monitor.Hub) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lists := srv.Lists()
			statuses := make([]monitor.DaqListStatus, len(lists))
			for i, l := range lists {
				eventID, _ := l.EventID()
				statuses[i] = monitor.DaqListStatus{
					ID:      i,
					State:   l.State().String(),
					EventID: int(eventID),
					ODTs:    l.ODTCount(),
				}
			}
			hub.Publish(monitor.Snapshot{
				Connected:     srv.IsConnected(),
				QueueLevel:    srv.QueueLevel(),
				QueueCapacity: srv.QueueCapacity(),
				Lists:         statuses,
				StampUnixMs:   time.Now().UnixMilli(),
			})
		}
	}
}

// pollOverflowLoop watches each declared event's cumulative overflow
// counter and logs a CSV row whenever it advances.
func pollOverflowLoop(ctx context.Context, srv *xcp.Server, eventIDs map[string]registry.EventID, lg *logger.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := make(map[string]uint32, len(eventIDs))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, id := range eventIDs {
				count := srv.OverflowCount(id)
				if count > last[name] {
					lg.LogOverflow(name, uint16(id), count)
					last[name] = count
				}
			}
		}
	}
}

// connectWithRetry calls start with exponential backoff (1s doubling to
// 60s) until it succeeds or ctx is canceled.
func connectWithRetry(ctx context.Context, name string, start func() error, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := start(); err != nil {
			attempt++
			log.Printf("[%s] start attempt %d failed: %v (retry in %v)", name, attempt, err, delay)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[%s] started successfully (attempt %d)", name, attempt+1)
			return
		}
	}
}

