package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerec/internal/catalog"
	"github.com/srg/blerec/internal/eventbus"
	"github.com/srg/blerec/internal/groutine"
	"github.com/srg/blerec/internal/session"
	"github.com/srg/blerec/internal/sink"
	"github.com/srg/blerec/pkg/config"
)

const eventBufferSize = 64

// recording is everything runRecording needs besides the context.
type recording struct {
	cfg       *config.Config
	logger    *logrus.Logger
	transport session.Transport
	kind      string // "ble" or "simulated", stored in the catalog
	peer      string
	duration  time.Duration
	out       io.Writer // events and the final summary
	status    io.Writer // connect progress, only on a terminal
}

// runRecording runs one session until ctx is done, the duration elapses or
// the link is lost for good, then prints the per-stream summary.
// The session's terminal cause is returned; an interrupt returns ctx.Err().
func runRecording(ctx context.Context, r recording) error {
	cfg := r.cfg
	log := r.logger.WithField("peer", r.peer)

	prefix := cfg.Output.Prefix
	if prefix == "" {
		prefix = sink.SessionPrefix(time.Now(), cfg.Output.PrefixLayout)
	}

	opts := append(cfg.SessionOptions(), session.WithFilePrefix(prefix))
	location, err := cfg.LocationSource(r.logger)
	if err != nil {
		return err
	}
	if location != nil {
		opts = append(opts, session.WithLocationSource(location))
	}

	bus := eventbus.New(r.logger)
	defer bus.Close()

	sess, err := session.New(r.transport, bus, r.logger, opts...)
	if err != nil {
		return err
	}

	var progress *ProgressPrinter
	if isTerminal(r.status) {
		progress = NewProgressPrinter(r.status, fmt.Sprintf("Connecting to %s", r.peer), "waiting for link")
		progress.Start()
	}

	// observers are in place before Start so the first Connected is seen
	var waits []<-chan struct{}
	if renderer := newEventRenderer(cfg.Events.Format, r.out); renderer != nil {
		sub := bus.Subscribe(eventBufferSize)
		waits = append(waits, groutine.Go(context.Background(), "event-render", func(context.Context) {
			for ev := range sub.C() {
				if err := renderer.Render(ev); err != nil {
					r.logger.WithField("error", err).Debug("Failed to render event")
				}
			}
		}))
	}

	var (
		cat       *catalog.Catalog
		sessionID string
	)
	if cfg.Catalog.Path != "" {
		cat, err = catalog.Open(cfg.Catalog.Path, r.logger)
		if err != nil {
			log.WithField("error", err).Warn("Session catalog unavailable, recording without it")
		} else {
			defer cat.Close()
			sessionID, err = cat.BeginSession(ctx, catalog.Entry{
				Peer:       r.peer,
				Transport:  r.kind,
				OutputDir:  cfg.Output.Dir,
				FilePrefix: prefix,
			})
			if err != nil {
				log.WithField("error", err).Warn("Failed to journal session")
				cat = nil
			} else {
				sub := bus.Subscribe(eventBufferSize, eventbus.KindConnected, eventbus.KindReconnecting, eventbus.KindDisconnected)
				waits = append(waits, cat.Follow(context.Background(), sessionID, sub))
			}
		}
	}

	log.WithFields(logrus.Fields{
		"dir":    cfg.Output.Dir,
		"prefix": prefix,
	}).Info("Recording session")

	var limit <-chan time.Time
	if r.duration > 0 {
		timer := time.NewTimer(r.duration)
		defer timer.Stop()
		limit = timer.C
	}

	reason := "stopped"
	// Start returns once the transport has connected or failed
	err = sess.Start(ctx)
	progress.Stop()
	if err == nil {
		select {
		case <-ctx.Done():
			reason = "interrupted"
		case <-limit:
			reason = "duration elapsed"
		case <-sess.Done():
		}
	}
	_ = sess.Stop()
	cause := sess.Err()
	if cause != nil {
		reason = cause.Error()
	}

	// closing the bus ends every observer after it drains
	bus.Close()
	for _, done := range waits {
		<-done
	}

	stats := sess.Stats()
	if cat != nil {
		err := cat.EndSession(context.Background(), sessionID, reason, catalog.Totals{
			Frames:        stats.Frames,
			Readings:      stats.Readings,
			Missed:        stats.Missed,
			DecodeErrors:  stats.DecodeErrors,
			Reconnects:    stats.Reconnects,
			LocationFixes: stats.LocationFixes,
		})
		if err != nil {
			log.WithField("error", err).Warn("Failed to close session journal entry")
		}
	}

	printSummary(r.out, sess.Sinks(), stats)

	if cause != nil {
		return cause
	}
	return ctx.Err()
}
