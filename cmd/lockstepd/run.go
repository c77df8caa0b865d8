package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/lockstep/internal/admin"
	"github.com/danmuck/lockstep/internal/auth"
	"github.com/danmuck/lockstep/internal/config"
	"github.com/danmuck/lockstep/internal/connection"
	"github.com/danmuck/lockstep/internal/observability"
	"github.com/danmuck/lockstep/internal/protocol"
	"github.com/danmuck/lockstep/internal/sample"
	"github.com/danmuck/lockstep/internal/session"
	"github.com/danmuck/lockstep/internal/transport/quicnet"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errConnectionEnded = errors.New("lockstepd: connection ended")

type runOptions struct {
	snapshotPath string
	boards       []string
	demoEvery    int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the peer described by --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if opts.snapshotPath != "" {
				p.SnapshotPath = opts.snapshotPath
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPeer(ctx, p, opts)
		},
	}
	cmd.Flags().StringVar(&opts.snapshotPath, "snapshot", "", "record traffic and write a YAML snapshot here on exit")
	cmd.Flags().StringSliceVar(&opts.boards, "boards", []string{"alpha", "beta"}, "sample boards to register, in order")
	cmd.Flags().IntVar(&opts.demoEvery, "demo-every", 0, "emit sample calls every n ticks once connected (0 disables)")
	return cmd
}

func runPeer(ctx context.Context, p config.Peer, opts *runOptions) error {
	observability.TagLogger("lockstepd", p.ID)
	observability.RegisterMetrics()

	strategy := quicnet.New(connection.Identity(p.ID), p.Listen, p.Transport)
	defer strategy.Close()
	if p.Role == protocol.RoleClient {
		strategy.AddHost(connection.Identity(p.Host), p.HostAddress)
	}

	sess, err := session.NewBuilder(nil).WithStrategy(strategy).WithName(p.ID).Build()
	if err != nil {
		return err
	}
	defer sess.Close()

	boards := make([]*sample.Board, 0, len(opts.boards))
	for _, name := range opts.boards {
		if name = strings.TrimSpace(name); name != "" {
			boards = append(boards, sample.NewBoard(name))
		}
	}
	n, err := sess.RegisterAll(sample.Candidates(boards...))
	if err != nil {
		return fmt.Errorf("register boards: %w", err)
	}
	log.Info().Msgf("lockstepd.run registered=%d role=%s", n, p.Role)

	ended := make(chan connection.Event, 1)
	sess.OnConnectionChanged(func(e connection.Event) {
		log.Info().Msgf("lockstepd.run event=%s target=%s", e.Type, e.Target)
		switch e.Type {
		case connection.ConnectionLost, connection.ConnectionEstablishmentFailed:
			select {
			case ended <- e:
			default:
			}
		}
	})

	if p.SnapshotPath != "" {
		sess.StartRecordingSnapshot()
		defer saveSnapshot(sess, p.SnapshotPath)
	}

	if p.AdminAddr != "" {
		var adminOpts admin.Options
		if p.AdminToken != "" {
			adminOpts.Validator = auth.StaticToken(p.AdminToken)
		}
		srv := admin.New(p.ID, p.AdminAddr, sess, adminOpts)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.Error().Err(err).Msgf("lockstepd.run admin addr=%s", p.AdminAddr)
			}
		}()
	}

	sess.EstablishConnection(p.ConnectionConfig())

	ticker := time.NewTicker(p.Tick)
	defer ticker.Stop()
	var ticks int
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("lockstepd.run stopping ticks=%d", ticks)
			return nil
		case e := <-ended:
			return fmt.Errorf("%w: %s", errConnectionEnded, e.Type)
		case <-ticker.C:
			ticks++
			if err := sess.Tick(); err != nil {
				if errors.Is(err, session.ErrClosed) {
					return err
				}
				log.Warn().Err(err).Msgf("lockstepd.run tick=%d", ticks)
			}
			if opts.demoEvery > 0 && ticks%opts.demoEvery == 0 && sess.Connectivity() == connection.Connected {
				emitDemo(sess, p, boards, ticks)
			}
		}
	}
}

func emitDemo(sess *session.Session, p config.Peer, boards []*sample.Board, tick int) {
	if len(boards) == 0 {
		return
	}
	b := boards[tick%len(boards)]
	if err := session.Call1(sess, b, sample.IncrementDef, 1); err != nil {
		log.Warn().Err(err).Msgf("lockstepd.emitDemo board=%s", b.Name)
		return
	}
	_ = session.Call1(sess, b, sample.PingDef, p.ID)
	if p.Role == protocol.RoleHost {
		_ = session.Call1(sess, b, sample.AnnounceDef, fmt.Sprintf("tick %d", tick))
	}
}

func saveSnapshot(sess *session.Session, path string) {
	snap, err := sess.StopRecordingAndCollectSnapshot()
	if err != nil {
		log.Warn().Err(err).Msg("lockstepd.saveSnapshot")
		return
	}
	if err := snap.SaveFile(path); err != nil {
		log.Error().Err(err).Msgf("lockstepd.saveSnapshot path=%s", path)
		return
	}
	log.Info().Msgf("lockstepd.saveSnapshot path=%s", path)
}
