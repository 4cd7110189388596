package main

import (
	"errors"
	"flag"
	"os"
	"strconv"

	"github.com/pkg/profile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hailam/splitsearch/internal/book"
	"github.com/hailam/splitsearch/internal/engine"
	"github.com/hailam/splitsearch/internal/storage"
	"github.com/hailam/splitsearch/internal/uci"
)

var (
	bookFile   = flag.String("book", "", "Polyglot opening book (.bin or zstd compressed)")
	storeDir   = flag.String("store", "", "directory for saved options and statistics (default: user data dir)")
	logLevel   = flag.String("loglevel", "warn", "log level (debug, info, warn, error)")
	profileDir = flag.String("profile", "", "write a CPU profile to this directory")
	depth      = flag.Int("depth", 0, "search depth")
	moveTime   = flag.Int("movetime", 0, "default milliseconds per move")
	threads    = flag.Int("threads", 0, "worker goroutines per split")
)

func main() {
	flag.Parse()

	// Stdout belongs to the protocol.
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("bad-log-level")
	}
	zerolog.SetGlobalLevel(level)

	if *profileDir != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*profileDir), profile.NoShutdownHook).Stop()
	}

	store, err := storage.Open(*storeDir)
	if err != nil {
		log.Warn().Err(err).Msg("store-unavailable")
		store, err = storage.OpenInMemory()
		if err != nil {
			log.Fatal().Err(err).Msg("open-memory-store")
		}
	}
	defer store.Close()

	eng := engine.NewEngine(engine.NewOptions())
	protocol := uci.New(eng, os.Stdin, os.Stdout)
	protocol.SetStore(store)

	// Explicit flags win over saved options for this run.
	flag.Visit(func(f *flag.Flag) {
		var name, value string
		switch f.Name {
		case "depth":
			name, value = "Depth", strconv.Itoa(*depth)
		case "movetime":
			name, value = "MoveTime", strconv.Itoa(*moveTime)
		case "threads":
			name, value = "Threads", strconv.Itoa(*threads)
		default:
			return
		}
		if err := protocol.SetOption(name, value); err != nil {
			log.Fatal().Err(err).Str("flag", f.Name).Msg("bad-flag")
		}
	})

	if *bookFile != "" {
		if err := protocol.SetBookFile(*bookFile); err != nil {
			if errors.Is(err, book.ErrNoBook) {
				log.Warn().Str("file", *bookFile).Msg("book-not-found")
			} else {
				log.Error().Err(err).Str("file", *bookFile).Msg("book-load-failed")
			}
		}
	}

	if err := protocol.Run(); err != nil {
		log.Error().Err(err).Msg("input-failed")
	}
}
