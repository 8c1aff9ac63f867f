package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/shareboard/internal/board"
	"github.com/BioHazard786/shareboard/internal/config"
	"github.com/BioHazard786/shareboard/internal/files"
	"github.com/BioHazard786/shareboard/internal/logging"
	"github.com/BioHazard786/shareboard/internal/mesh"
	"github.com/BioHazard786/shareboard/internal/metrics"
	"github.com/BioHazard786/shareboard/internal/room"
	"github.com/BioHazard786/shareboard/internal/session"
	"github.com/BioHazard786/shareboard/internal/signaling"
	"github.com/BioHazard786/shareboard/internal/ui"
)

var (
	flagJoinRelayURL string
	flagJoinRoom     string
	flagJoinSTUN     string
	flagJoinTURN     string
	flagJoinTURNUser string
	flagJoinTURNPass string
	flagJoinPolicy   string
	flagJoinTTL      time.Duration
	flagJoinPacing   time.Duration
	flagJoinMetrics  string
	flagJoinPlain    bool
)

const roomLookupTimeout = 10 * time.Second

var joinCmd = &cobra.Command{
	Use:     "join",
	Aliases: []string{"j"},
	Short:   "Join your network's board",
	Long: `Join the share board of the devices on your network, or a named room.

Type text and press enter to share it. Commands:
  /file <path>               share a file
  /post <text> @<path>...    share a post with attachments

Examples:
  shareboard join
  shareboard join --room team-standup
  shareboard join --relay-url wss://board.example.com/ws --no-tui`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := config.Options{
			RelayURL:    flagJoinRelayURL,
			Room:        flagJoinRoom,
			STUNServer:  flagJoinSTUN,
			TURNServer:  flagJoinTURN,
			TURNUser:    flagJoinTURNUser,
			TURNPass:    flagJoinTURNPass,
			RelayPolicy: flagJoinPolicy,
			TTL:         flagJoinTTL,
			MetricsAddr: flagJoinMetrics,
		}
		if cmd.Flags().Changed("pacing") {
			opts.Pacing = &flagJoinPacing
		}
		return joinBoard(cmd.Context(), opts)
	},
}

func joinBoard(ctx context.Context, opts config.Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	device, err := config.DeviceID(fs, cfg.DataDir)
	if err != nil {
		return err
	}

	// The board owns the terminal, so logs go to its debug pane.
	var ring *logging.Ring
	if !flagJoinPlain {
		ring = logging.NewRing(logging.DefaultRingSize)
		level := cfg.LogLevel
		if level == "" {
			level = "info"
		}
		logging.Setup(level, ring)
	}

	fmt.Println()
	sp := ui.NewConnectionSpinner("Looking up room...")
	sp.Start()
	info, err := lookupRoom(ctx, cfg.RelayURL, device)
	if err != nil {
		sp.Error("Could not reach relay")
		return err
	}
	roomName := info.RoomName
	if cfg.Room != "" {
		roomName = cfg.Room
	}
	sp.Success(fmt.Sprintf("Joining %s as %s", roomName, room.Nickname(device)))

	blobs, err := files.NewBlobs(fs, cfg.PayloadDir())
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	client := signaling.NewClient(cfg.RelayURL, device, info.Token, signaling.WithLogger(logger("signaling")))
	sess := session.New(device, client, mesh.PionLinks(cfg.ICE(), logger("webrtc")), blobs,
		session.WithLogger(logger("session")),
		session.WithMetrics(metrics.NewNode(registry)),
		session.WithTTL(cfg.TTL),
		session.WithPacing(cfg.Pacing),
		session.WithSnapshot(cfg.SnapshotPath()),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr, registry)
		})
	}
	g.Go(func() error {
		return sess.Run(ctx, roomName)
	})
	g.Go(func() error {
		defer cancel()
		if flagJoinPlain {
			return runPlain(ctx, sess, os.Stdin)
		}
		return ui.RunBoard(ctx, sess, ring)
	})
	return g.Wait()
}

func lookupRoom(ctx context.Context, relayURL, device string) (signaling.RoomInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, roomLookupTimeout)
	defer cancel()
	return signaling.FetchRoom(ctx, &http.Client{}, relayURL, device)
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// runPlain prints board changes as lines and shares what is typed on in.
func runPlain(ctx context.Context, b ui.Board, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	ui.PrintInfo("Type to share. /file <path> shares a file, /post <text> @<path>... attaches files.")
	p := newPrinter(os.Stdout)
	p.print(b.View())
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-b.Updates():
			if !ok {
				return nil
			}
			p.print(b.View())
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep following the board.
				lines = nil
				continue
			}
			item, err := share(b, line)
			switch {
			case err != nil:
				ui.PrintError(err.Error())
			case item.ID != "":
				ui.PrintSuccessf("Shared %s", ui.Summary(item, 40))
				p.items[item.ID] = ui.PayloadStatus(item)
			}
			p.print(b.View())
		}
	}
}

// share runs one typed line. Blank lines share nothing.
func share(b ui.Board, line string) (board.Item, error) {
	in := ui.ParseInput(line)
	switch in.Command {
	case "file":
		return b.ShareFile(in.Paths[0])
	case "post":
		return b.SharePost(in.Text, in.Paths)
	default:
		if in.Text == "" {
			return board.Item{}, nil
		}
		return b.ShareText(in.Text)
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagJoinRelayURL, "relay-url", "u", "", "Relay websocket URL")
	joinCmd.Flags().StringVar(&flagJoinRoom, "room", "", "Join a named room instead of your network's room")
	joinCmd.Flags().StringVarP(&flagJoinSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagJoinTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().StringVar(&flagJoinPolicy, "relay", "", "TURN relay policy: auto, always or never")
	joinCmd.Flags().DurationVar(&flagJoinTTL, "ttl", 0, "Lifetime of items you share")
	joinCmd.Flags().DurationVar(&flagJoinPacing, "pacing", 0, "Delay between outbound frames (0 disables pacing)")
	joinCmd.Flags().StringVar(&flagJoinMetrics, "metrics-addr", "", "Serve Prometheus metrics on this address")
	joinCmd.Flags().BoolVar(&flagJoinPlain, "no-tui", false, "Print board changes as lines instead of the interactive board")
}
