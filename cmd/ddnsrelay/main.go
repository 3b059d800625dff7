package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Travis-Britz/ddnsrelay"
	"github.com/Travis-Britz/ddnsrelay/internal/config"
	"github.com/cloudflare/cloudflare-go"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var flags = struct {
	ConfigFile string
	KeyFile    string
	EnvFile    string
	Setup      bool
	Verbose    bool
}{}

var logger = logrus.New()

func init() {
	flag.StringVar(&flags.ConfigFile, "c", "", "Path to a YAML or INI config file")
	flag.StringVar(&flags.KeyFile, "k", "", "Path to a file holding the Cloudflare API token")
	flag.StringVar(&flags.EnvFile, "env", ".env", "Path to a dotenv file; ignored when it does not exist")
	flag.BoolVar(&flags.Setup, "setup", false, "Prompt for a Cloudflare API token, verify it, and write it to the -k key file")
	flag.BoolVar(&flags.Verbose, "v", false, "Enable verbose logging")
}

func main() {
	flag.Parse()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flags.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	var err error
	if flags.Setup {
		err = runSetup(flags.KeyFile)
	} else {
		err = run()
	}
	if err != nil {
		logger.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(flags.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading %s: %w", flags.EnvFile, err)
	}
	cfg, err := config.Load(flags.ConfigFile, lookupEnv)
	if err != nil {
		return err
	}
	logger.Debugf("config loaded: listen=%s path=%s zone=%q cache=%s",
		cfg.Server.Listen, cfg.Server.Path, cfg.Cloudflare.ZoneName, cfg.Cache.Backend)

	provider, err := newProvider(cfg.Cloudflare)
	if err != nil {
		return err
	}
	cache, err := newZoneCache(cfg.Cache)
	if err != nil {
		return err
	}

	relay, err := ddnsrelay.New(cfg.Server.Secret,
		ddnsrelay.UsingProvider(provider),
		ddnsrelay.WithZone(cfg.Cloudflare.ZoneName, cfg.Cloudflare.ZoneID),
		ddnsrelay.UsingZoneCache(cache),
		ddnsrelay.UsingNotifier(newNotifier(cfg.Telegram)),
		ddnsrelay.WithDefaultTTL(cfg.Server.DefaultTTL),
		ddnsrelay.WithDefaultNodeName(cfg.Server.DefaultNodeName),
		ddnsrelay.WithRootMarker(cfg.Server.RootMarker),
		ddnsrelay.WithMasking(cfg.Privacy.Masking()),
		ddnsrelay.WithTimeout(cfg.Server.Timeout),
		ddnsrelay.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("error creating relay: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           ddnsrelay.NewServer(relay, cfg.Server.Path, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s, accepting updates at %s", srv.Addr, cfg.Server.Path)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// lookupEnv is os.LookupEnv, except that the -k flag wins over CF_KEY_FILE.
func lookupEnv(key string) (string, bool) {
	if key == "CF_KEY_FILE" && flags.KeyFile != "" {
		return flags.KeyFile, true
	}
	return os.LookupEnv(key)
}

func newProvider(cfg config.Cloudflare) (ddnsrelay.Provider, error) {
	var opts []ddnsrelay.CloudflareOption
	if cfg.BaseURL != "" {
		opts = append(opts, cloudflare.BaseURL(cfg.BaseURL))
	}

	if cfg.APIKey != "" {
		logger.Debug("authenticating to cloudflare with the global API key")
		return ddnsrelay.NewCloudflareWithKey(cfg.APIKey, cfg.Email, opts...)
	}

	token := cfg.Token
	if token == "" {
		key, err := config.ReadSecretFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("error reading key: %w", err)
		}
		logger.Debug("successfully read key from key file")
		token = key
	}
	return ddnsrelay.NewCloudflare(token, opts...)
}

func newZoneCache(cfg config.Cache) (ddnsrelay.ZoneCache, error) {
	switch cfg.Backend {
	case config.CacheNone:
		return nil, nil
	case config.CacheMemory:
		return ddnsrelay.NewMemoryCache(), nil
	case config.CacheFile:
		return ddnsrelay.NewFileCache(cfg.File), nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		return ddnsrelay.NewRedisCache(client), nil
	}
	return nil, fmt.Errorf("unknown zone cache backend %q", cfg.Backend)
}

func newNotifier(cfg config.Telegram) ddnsrelay.Notifier {
	if !cfg.Enabled() {
		logger.Info("telegram notifications disabled")
		return nil
	}
	tg := ddnsrelay.NewTelegram(cfg.BotToken, cfg.ChatID)
	tg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	tg.Language = cfg.Language
	return tg
}

func runSetup(keyFile string) error {
	if keyFile == "" {
		keyFile = filepath.Join(os.Getenv("HOME"), ".cloudflare")
	}
	logger.Debug("running setup")
	fmt.Printf("Enter Cloudflare API Token: \n")
	bytekey, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("runSetup: error reading from stdin: %w", err)
	}
	key := strings.TrimSpace(string(bytekey))

	api, err := cloudflare.NewWithAPIToken(key)
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("verifying token...")
	result, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)
	}
	logger.Info("token verified successfully")

	f, err := os.OpenFile(keyFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create \"%s\": %w", keyFile, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, key); err != nil {
		return fmt.Errorf("error writing key file: %w", err)
	}
	logger.Infof("token written to \"%s\"; start the relay with -k %s", keyFile, keyFile)
	return nil
}
