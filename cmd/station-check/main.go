package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"station-check/internal/auth"
	"station-check/internal/catalogue"
	"station-check/internal/config"
	"station-check/internal/journal"
	"station-check/internal/music"
	"station-check/internal/player"
	"station-check/internal/probe"
	"station-check/internal/server"
	"station-check/internal/session"
	"station-check/internal/validator"
)

const usage = `usage: station-check [flags] [command]

commands:
  check            validate and repair the station files once (default)
  watch            validate new station files as they appear
  serve            serve the station catalogue over HTTP
  play             interactive playback menu driving MPD
  history <file>   show the journaled probes of a station file

flags:
`

// exitInterrupted is the status of a check stopped by SIGINT or SIGTERM.
const exitInterrupted = 130

type options struct {
	configPath string
	dir        string
	timeout    time.Duration
	journal    string
	listen     string
	musicDir   string
	mpdAddr    string
	limit      int
	validate   bool
}

func main() {
	logger := log.New(os.Stdout, "station-check ", log.LstdFlags|log.Lmsgprefix)

	var opts options
	fs := flag.NewFlagSet("station-check", flag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file (default $STATION_CONFIG)")
	fs.StringVarP(&opts.dir, "dir", "d", "", "stations directory (default $STATION_DIR or ./stations)")
	fs.DurationVar(&opts.timeout, "timeout", 0, "stream probe timeout (default 5s)")
	fs.StringVar(&opts.journal, "journal", "", "SQLite probe journal path")
	fs.StringVar(&opts.listen, "listen", "", "HTTP listen address for serve")
	fs.StringVar(&opts.musicDir, "music", "", "music directory")
	fs.StringVar(&opts.mpdAddr, "mpd", "", "MPD address, host:port or socket path")
	fs.IntVarP(&opts.limit, "limit", "n", 20, "number of history entries")
	fs.BoolVar(&opts.validate, "validate", false, "validate new station files while serving")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	settings, err := config.Load(opts.configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	opts.apply(&settings)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := fs.Arg(0)
	switch command {
	case "", "check":
		err = runCheck(ctx, settings, logger)
	case "watch":
		err = runWatch(ctx, settings, logger)
	case "serve":
		err = runServe(ctx, settings, opts.validate, logger)
	case "play":
		err = runPlay(ctx, settings, logger)
	case "history":
		err = runHistory(ctx, settings, fs.Arg(1), opts.limit)
	default:
		fs.Usage()
		os.Exit(2)
	}

	if err != nil {
		stop()
		logger.Printf("%s: %v", commandName(command), err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process status. A completed run
// exits 0 and an interrupted one exits with exitInterrupted.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	}
	return 1
}

func (o options) apply(s *config.Settings) {
	if o.dir != "" {
		s.StationsDir = o.dir
	}
	if o.timeout > 0 {
		s.ProbeTimeout = o.timeout
	}
	if o.journal != "" {
		s.JournalPath = o.journal
	}
	if o.listen != "" {
		s.ListenAddr = o.listen
	}
	if o.musicDir != "" {
		s.MusicDir = o.musicDir
	}
	if o.mpdAddr != "" {
		s.MPDAddr = o.mpdAddr
	}
}

func commandName(command string) string {
	if command == "" {
		return "check"
	}
	return command
}

// newValidator wires the prober and, when configured, the journal. The
// returned cleanup closes the journal.
func newValidator(ctx context.Context, s config.Settings, logger *log.Logger) (*validator.Validator, func(), error) {
	prober := probe.NewHTTPProber(s.ProbeTimeout, s.UserAgent)

	if s.JournalPath == "" {
		return validator.New(prober, s.Extensions, nil, logger), func() {}, nil
	}

	j, err := journal.Open(ctx, s.JournalPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	cleanup := func() {
		if err := j.Close(); err != nil {
			logger.Printf("error closing journal: %v", err)
		}
	}
	return validator.New(prober, s.Extensions, j, logger), cleanup, nil
}

func runCheck(ctx context.Context, s config.Settings, logger *log.Logger) error {
	v, cleanup, err := newValidator(ctx, s, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := v.Run(ctx, s.StationsDir)
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("interrupted after %d files: %w", summary.Processed, err)
	}
	return err
}

func runWatch(ctx context.Context, s config.Settings, logger *log.Logger) error {
	v, cleanup, err := newValidator(ctx, s, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	cat, err := catalogue.New(ctx, s.StationsDir, s.Extensions, s.RefreshDebounce, v, logger)
	if errors.Is(err, context.Canceled) {
		logger.Println("interrupted during the initial scan")
		return nil
	}
	if err != nil {
		return fmt.Errorf("watch %s: %w", s.StationsDir, err)
	}
	defer closeCatalogue(cat, logger)

	logger.Printf("watching %s", s.StationsDir)
	<-ctx.Done()
	logger.Println("shutdown complete")
	return nil
}

func runServe(ctx context.Context, s config.Settings, validate bool, logger *log.Logger) error {
	if err := config.ValidateListenAddr(s.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", s.ListenAddr, err)
	}

	var checker catalogue.Checker
	if validate {
		v, cleanup, err := newValidator(ctx, s, logger)
		if err != nil {
			return err
		}
		defer cleanup()
		checker = v
	}

	cat, err := catalogue.New(ctx, s.StationsDir, s.Extensions, s.RefreshDebounce, checker, logger)
	if errors.Is(err, context.Canceled) {
		logger.Println("interrupted during the initial scan")
		return nil
	}
	if err != nil {
		return fmt.Errorf("initialise catalogue: %w", err)
	}
	defer closeCatalogue(cat, logger)

	var tracks server.TrackProvider
	if s.MusicDir != "" {
		lib, err := music.Scan(s.MusicDir, music.DefaultExtensions, logger)
		if err != nil {
			logger.Printf("music library unavailable: %v", err)
		} else {
			tracks = lib
		}
	}

	var tokens server.TokenValidator
	tokenFile, tokensEnabled, err := config.ResolveTokenFile(s.TokenFile)
	if err != nil {
		return fmt.Errorf("resolve token file: %w", err)
	}
	if tokensEnabled {
		store, err := auth.NewTokenStore(tokenFile, s.RefreshDebounce, logger)
		if err != nil {
			return fmt.Errorf("initialise token store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Printf("error closing token store: %v", err)
			}
		}()
		tokens = store
	}

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           server.New(cat, tracks, tokens, logger),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("graceful shutdown error: %v", err)
		}
	}()

	logger.Printf("listening on %s (stations directory: %s)", s.ListenAddr, s.StationsDir)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Println("shutdown complete")
	return nil
}

func runPlay(ctx context.Context, s config.Settings, logger *log.Logger) error {
	cat, err := catalogue.New(ctx, s.StationsDir, s.Extensions, s.RefreshDebounce, nil, logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("initialise catalogue: %w", err)
	}
	defer closeCatalogue(cat, logger)

	sess, err := session.Load(s.SessionFile, s.DefaultPlaylist, s.DefaultVolume)
	if err != nil {
		return err
	}

	mpd := player.NewMPD(s.MPDNetwork, s.MPDAddr, s.MPDPassword, logger)
	defer mpd.Close()
	if err := mpd.Ping(); err != nil {
		return fmt.Errorf("connect to mpd: %w", err)
	}

	menu := session.NewMenu(mpd, sess, session.Options{
		Stations:    cat,
		MusicDir:    s.MusicDir,
		In:          os.Stdin,
		Out:         os.Stdout,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}, logger)
	return menu.Run(ctx)
}

func runHistory(ctx context.Context, s config.Settings, file string, limit int) error {
	if s.JournalPath == "" {
		return errors.New("no journal configured (set --journal or STATION_JOURNAL)")
	}
	if file == "" {
		return errors.New("history needs a station file name")
	}

	j, err := journal.Open(ctx, s.JournalPath, log.New(os.Stderr, "", 0))
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.History(ctx, file, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		detail := e.Transport
		if e.StatusCode != 0 {
			detail = fmt.Sprintf("HTTP %d", e.StatusCode)
		}
		fmt.Printf("%s  %-15s %-10s %s\n", e.CheckedAt.Local().Format(time.DateTime), e.Verdict, detail, e.URL)
	}
	return nil
}

func closeCatalogue(cat *catalogue.Catalogue, logger *log.Logger) {
	if err := cat.Close(); err != nil {
		logger.Printf("error closing catalogue: %v", err)
	}
}
