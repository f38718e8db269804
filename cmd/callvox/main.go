package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"callvox/internal/call"
	cs "callvox/internal/callstate"
	"callvox/internal/config"
	"callvox/internal/fsm"
	"callvox/internal/ipc"
	"callvox/internal/metrics"
	"callvox/internal/nlu"
	"callvox/internal/notify"
	"callvox/internal/proxy"
	"callvox/internal/records"
	"callvox/internal/server"
	"callvox/internal/speech"
	"callvox/internal/transfer"
	"callvox/internal/tts"
	"callvox/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "callvox:", err)
		os.Exit(2)
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[cfg.LogLevel],
	})))

	log.Info("Booting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
	log.Info("Shut down")
}

func run(ctx context.Context, cfg config.Config) error {
	httpClient, err := proxy.NewClient(cfg.Proxy, cfg.OpenAI.Timeout)
	if err != nil {
		return fmt.Errorf("proxy %s: %w", cfg.Proxy, err)
	}
	log.Debug("Loaded http client", "proxy", cfg.Proxy)

	client := openai.NewClient(
		option.WithAPIKey(cfg.OpenAI.APIKey),
		option.WithHTTPClient(httpClient),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	backend, err := newBackend(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	store := cs.NewStore(backend, cs.StoreConfig{OnWrite: m.PersistResult})
	defer store.Close()

	transcriber, closeSTT, err := newTranscriber(client, cfg)
	if err != nil {
		return err
	}
	defer closeSTT()

	rec, err := newRecords(cfg, httpClient)
	if err != nil {
		return err
	}

	assets, err := call.LoadAssets(cfg.Tone, cfg.Hold, cfg.HoldFile)
	if err != nil {
		return err
	}
	log.Debug("Loaded assets", "cue_frames", len(assets.Cue), "hold_frames", len(assets.Hold))

	keypad, err := cfg.Keypad.Router()
	if err != nil {
		return err
	}

	phrases := tts.NewPhrasebook(newSynthesizer(client, cfg))
	pctx, cancel := context.WithTimeout(ctx, time.Minute)
	phrases.Preload(pctx, fsm.StockPhrases()...)
	cancel()
	log.Debug("Preloaded phrases")

	machine := fsm.NewMachine(cfg.Dialog)
	deps := call.Deps{
		Store:    store,
		Machine:  machine,
		Router:   fsm.NewRouter(keypad, machine),
		Speech:   speech.NewProcessor(transcriber, nlu.NewClient(client, cfg.OpenAI.NLUModel), cfg.Speech),
		TTS:      phrases,
		Records:  rec,
		Calls:    newCallControl(cfg.Twilio, httpClient),
		Notifier: newNotifier(cfg.Notify, httpClient),
		Registry: call.NewRegistry(),
		Metrics:  m,
		Assets:   assets,
	}

	srv := server.New(ctx, deps, cfg.Call, reg)
	ctl, err := ipc.Listen(cfg.Socket, srv.Control)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}

	log.Info("Boot up - successful", "listen", cfg.Listen, "socket", cfg.Socket, "timezone", cfg.Timezone)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.ListenAndServe(cfg.Listen)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error { return ctl.Serve(gctx) })
	return g.Wait()
}

func newBackend(ctx context.Context, cfg cs.RedisConfig) (cs.Backend, error) {
	if cfg.Addr == "" {
		log.Warn("REDIS_ADDR not set; call state will not survive a restart")
		return cs.NewMemoryBackend(), nil
	}
	return cs.NewRedisBackend(ctx, cfg)
}

func newTranscriber(client openai.Client, cfg config.Config) (stt.Transcriber, func(), error) {
	if cfg.OpenAI.WhisperModel == "" {
		return stt.NewOpenAI(client, cfg.OpenAI.STTModel), func() {}, nil
	}

	whisper, err := stt.NewWhisper(cfg.OpenAI.WhisperModel, stt.Options{Language: cfg.Speech.Language})
	if err != nil {
		return nil, nil, fmt.Errorf("whisper: %w", err)
	}
	log.Debug("Loaded whisper", "model", cfg.OpenAI.WhisperModel)
	return whisper, func() { whisper.Close() }, nil
}

func newSynthesizer(client openai.Client, cfg config.Config) tts.Synthesizer {
	api := tts.NewOpenAI(client, cfg.OpenAI.TTS)
	if !cfg.Espeak.Enabled {
		return api
	}
	local, err := tts.NewEspeak(cfg.Espeak)
	if err != nil {
		log.Warn("Offline voice disabled", "err", err)
		return api
	}
	log.Debug("Loaded espeak", "voice", cfg.Espeak.Voice)
	return tts.Fallback{api, local}
}

func newRecords(cfg config.Config, client *http.Client) (records.Store, error) {
	if cfg.Records.URL != "" {
		return records.NewHTTPStore(cfg.Records.URL, cfg.Records.Token, client)
	}
	dir, err := records.LoadDirectory(cfg.Records.Directory, cfg.Location)
	if err != nil {
		return nil, err
	}
	log.Info("Serving records from directory file", "path", cfg.Records.Directory)
	return dir, nil
}

func newCallControl(cfg transfer.TwilioConfig, client *http.Client) transfer.Controller {
	if cfg.AccountSID == "" {
		log.Warn("TWILIO_ACCOUNT_SID not set; transfers will fail over to goodbye")
		return nil
	}
	tw, err := transfer.NewTwilio(cfg, client)
	if err != nil {
		log.Error("Call control disabled", "err", err)
		return nil
	}
	return tw
}

func newNotifier(cfg config.Notify, client *http.Client) notify.Notifier {
	if cfg.URL == "" {
		return notify.Log{}
	}
	return notify.NewWebhook(cfg.URL, cfg.Secret, client)
}
