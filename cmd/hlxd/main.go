// hlxd - Half-Life game server statistics daemon
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/api"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/auth"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/bus"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/config"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/crypt"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/ingress"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/journal"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/notify"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/pipeline"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/rcon"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/servers"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/storage"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
)

var version = "dev"

const defaultConfigPath = "/etc/hlxd/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "server":
		cmdServer(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "version":
		fmt.Printf("hlxd %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: hlxd <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                                Write a starter config and initialize the database")
	fmt.Println("  serve                               Start the stats daemon")
	fmt.Println("  server list                         Show registered game servers")
	fmt.Println("  server add <address> <port> [flags] Register a game server")
	fmt.Println("  server remove <id>                  Remove a game server")
	fmt.Println("  server set-rcon <id>                Set a server's RCON password (prompts)")
	fmt.Println("  server token <id>                   Issue a fresh beacon token for a server")
	fmt.Println("  user add <username>                 Add an admin user (prompts for password)")
	fmt.Println("  user remove <username>              Remove an admin user")
	fmt.Println("  user list                           List admin users")
	fmt.Println("  user reset <username>               Reset a user's password")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/hlxd/config.yml)")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  ENCRYPTION_KEY     Passphrase for RCON credential encryption (required for")
	fmt.Println("                     serve and server set-rcon)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  sudo hlxd init")
	fmt.Println("  hlxd server add 192.0.2.10 27015 --game cstrike --engine goldsrc")
	fmt.Println("  hlxd serve --config /etc/hlxd/config.yml")
	fmt.Println("  hlxd user add myuser")
}

// loadCLIConfig resolves the config path and loads it for CLI subcommands.
func loadCLIConfig(configPath string) *config.Config {
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// cmdInit lays down a starter config and creates the database schema.
func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	dbPath := fs.String("db", "", "database path (default from config)")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(*configPath), 0o755); err != nil {
			log.Fatalf("Failed to create config directory: %v", err)
		}
		starter := &config.Config{}
		starter.Ingress.ListenAddr = "0.0.0.0:27500"
		starter.Ingress.DefaultGame = "cstrike"
		starter.HTTP.ListenAddr = "127.0.0.1"
		starter.HTTP.HTTPPort = 8080
		starter.Database.Path = "/var/lib/hlxd/hlxd.db"
		if *dbPath != "" {
			starter.Database.Path = *dbPath
		}
		if err := config.Save(*configPath, starter); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Wrote starter config to %s\n", *configPath)
	} else {
		fmt.Printf("Config already exists at %s, leaving it alone\n", *configPath)
	}

	cfg := loadCLIConfig(*configPath)
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	if err := store.SeedDefaults(context.Background()); err != nil {
		log.Fatalf("Failed to seed defaults: %v", err)
	}
	fmt.Printf("Database initialized at %s\n", cfg.Database.Path)
}

// serverSource bridges storage and the credential cipher for the RCON pool.
type serverSource struct {
	store  *storage.Store
	cipher *crypt.Cipher
}

func (s *serverSource) GetServer(ctx context.Context, id int64) (*domain.Server, error) {
	return s.store.GetServer(ctx, id)
}

func (s *serverSource) GetRconPassword(ctx context.Context, id int64) (string, error) {
	srv, err := s.store.GetServer(ctx, id)
	if err != nil {
		return "", err
	}
	if srv.RconPassword == "" {
		return "", nil
	}
	if s.cipher == nil {
		return "", fmt.Errorf("ENCRYPTION_KEY not set, cannot decrypt RCON password for server %d", id)
	}
	return s.cipher.Decrypt(srv.RconPassword)
}

func (s *serverSource) ActiveServers(ctx context.Context, window time.Duration) ([]domain.Server, error) {
	return s.store.ActiveServers(ctx, window)
}

// cmdServe starts the stats daemon
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatalf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("hlxd %s starting...", version)

	var cipher *crypt.Cipher
	if cfg.EncryptionKey != "" {
		cipher, err = crypt.New(cfg.EncryptionKey)
		if err != nil {
			log.Fatalf("Failed to initialize credential cipher: %v", err)
		}
	} else {
		log.Printf("Warning: ENCRYPTION_KEY not set. RCON passwords cannot be decrypted.")
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", cfg.Database.Path)

	eventBus, err := bus.New()
	if err != nil {
		log.Fatalf("Failed to start event bus: %v", err)
	}
	defer eventBus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The status scrape feeds synthetic events back into the pipeline. The
	// pipeline pointer is bound after construction, before the pool starts.
	var pl *pipeline.Pipeline
	pool := rcon.NewPool(&serverSource{store: store, cipher: cipher}, func(srv domain.Server, status domain.ServerStatusData) {
		pl.Enqueue(domain.NewEvent(srv.ID, time.Now().UTC(), domain.EventServerStatus, status))
	})
	pool.SetStatusInterval(time.Duration(cfg.Rcon.StatusInterval))
	pool.SetActiveWindow(time.Duration(cfg.Rcon.ActiveServerMaxAge))

	notifier := notify.New(pool)
	notifier.Start(ctx)

	pl = pipeline.New(store, notifier, eventBus)
	pl.Start(ctx)
	pool.Start(ctx)
	log.Printf("Pipeline started, scraping status every %v", time.Duration(cfg.Rcon.StatusInterval))

	var jnl *journal.Journal
	if cfg.Journal.Dir != "" {
		jnl, err = journal.New(cfg.Journal.Dir)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		log.Printf("Journaling raw log lines to %s", cfg.Journal.Dir)
	}

	registry := servers.NewRegistry(store, cfg.Ingress.AutoRegister, cfg.Ingress.DefaultGame)
	listener := ingress.New(cfg.Ingress.ListenAddr, registry, pl, jnl)
	if err := listener.Start(ctx); err != nil {
		log.Fatalf("Failed to start log listener: %v", err)
	}
	log.Printf("Listening for game server logs on udp %s", cfg.Ingress.ListenAddr)

	authService := auth.NewService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenDuration))
	if cfg.Auth.JWTSecret == "" {
		log.Printf("Warning: No JWT secret configured. Auth tokens will use an empty secret.")
	}

	router := api.NewRouter(store, authService, pool)
	router.StartHub()

	sub, err := eventBus.Subscribe(func(payload []byte) {
		router.Hub().Broadcast(payload)
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to event bus: %v", err)
	}
	defer sub.Unsubscribe()

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.ListenAddr, cfg.HTTP.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Fatalf("HTTP server error: %v", err)
	}

	// Sequential shutdown: stop intake first so the pipeline can drain.
	log.Println("Stopping log listener...")
	listener.Stop()

	log.Println("Stopping pipeline...")
	pl.Stop()
	notifier.Stop()
	pool.Stop()

	log.Println("Shutting down HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if jnl != nil {
		if err := jnl.Close(); err != nil {
			log.Printf("Journal close error: %v", err)
		}
	}

	cancel()
	log.Println("Shutdown complete")
}

// openCLIStore opens the database for a CLI subcommand.
func openCLIStore(configPath string) *storage.Store {
	cfg := loadCLIConfig(configPath)
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return store
}

// cmdServer manages game server registrations
func cmdServer(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: hlxd server <add|list|remove|set-rcon|token> ...")
		os.Exit(1)
	}

	switch args[0] {
	case "add":
		cmdServerAdd(args[1:])
	case "list":
		cmdServerList(args[1:])
	case "remove":
		cmdServerRemove(args[1:])
	case "set-rcon":
		cmdServerSetRcon(args[1:])
	case "token":
		cmdServerToken(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown server subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdServerAdd(args []string) {
	fs := flag.NewFlagSet("server add", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	game := fs.String("game", "cstrike", "game folder name")
	engine := fs.String("engine", "goldsrc", "rcon engine: goldsrc, source or source2009")
	name := fs.String("name", "", "display name")
	mode := fs.String("connect", "direct", "connect mode: direct or container-host")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: hlxd server add <address> <port> [flags]")
		os.Exit(1)
	}

	port, err := strconv.Atoi(fs.Arg(1))
	if err != nil || port < 1 || port > 65535 {
		log.Fatalf("Invalid port: %s", fs.Arg(1))
	}

	switch domain.Engine(*engine) {
	case domain.EngineGoldSrc, domain.EngineSource, domain.EngineSource2009:
	default:
		log.Fatalf("Invalid engine: %s", *engine)
	}
	switch domain.ConnectMode(*mode) {
	case domain.ConnectDirect, domain.ConnectContainerHost:
	default:
		log.Fatalf("Invalid connect mode: %s", *mode)
	}

	store := openCLIStore(*configPath)
	defer store.Close()

	srv := &domain.Server{
		Address:     fs.Arg(0),
		Port:        port,
		Game:        *game,
		Engine:      domain.Engine(*engine),
		ConnectMode: domain.ConnectMode(*mode),
		Name:        *name,
	}
	if err := store.CreateServer(context.Background(), srv); err != nil {
		log.Fatalf("Failed to add server: %v", err)
	}
	fmt.Printf("Server %d registered: %s:%d (%s, %s)\n", srv.ID, srv.Address, srv.Port, srv.Game, srv.Engine)
}

func cmdServerList(args []string) {
	fs := flag.NewFlagSet("server list", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	store := openCLIStore(*configPath)
	defer store.Close()

	list, err := store.ListServers(context.Background())
	if err != nil {
		log.Fatalf("Failed to list servers: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tGAME\tENGINE\tNAME\tMAP\tPLAYERS\tTOKEN\tLAST EVENT")
	for _, s := range list {
		token := "-"
		if s.TokenPrefix != "" {
			token = s.TokenPrefix + "..."
		}
		lastEvent := "-"
		if !s.LastEvent.IsZero() {
			lastEvent = s.LastEvent.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s:%d\t%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			s.ID, s.Address, s.Port, s.Game, s.Engine, s.Name, s.ActiveMap,
			s.Players, s.MaxPlayers, token, lastEvent)
	}
	w.Flush()
}

func cmdServerRemove(args []string) {
	fs := flag.NewFlagSet("server remove", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: hlxd server remove <id>")
		os.Exit(1)
	}
	id := parseServerID(fs.Arg(0))

	store := openCLIStore(*configPath)
	defer store.Close()

	if err := store.DeleteServer(context.Background(), id); err != nil {
		log.Fatalf("Failed to remove server: %v", err)
	}
	fmt.Printf("Server %d removed\n", id)
}

func cmdServerSetRcon(args []string) {
	fs := flag.NewFlagSet("server set-rcon", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: hlxd server set-rcon <id>")
		os.Exit(1)
	}
	id := parseServerID(fs.Arg(0))

	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		log.Fatalf("ENCRYPTION_KEY must be set to store RCON passwords")
	}
	cipher, err := crypt.New(key)
	if err != nil {
		log.Fatalf("Failed to initialize credential cipher: %v", err)
	}

	store := openCLIStore(*configPath)
	defer store.Close()

	if _, err := store.GetServer(context.Background(), id); err != nil {
		log.Fatalf("Server %d not found: %v", id, err)
	}

	password := promptPassword("RCON password: ")
	ciphertext, err := cipher.Encrypt(password)
	if err != nil {
		log.Fatalf("Failed to encrypt password: %v", err)
	}
	if err := store.UpdateServerRconPassword(context.Background(), id, ciphertext); err != nil {
		log.Fatalf("Failed to store password: %v", err)
	}
	fmt.Printf("RCON password updated for server %d\n", id)
}

func cmdServerToken(args []string) {
	fs := flag.NewFlagSet("server token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: hlxd server token <id>")
		os.Exit(1)
	}
	id := parseServerID(fs.Arg(0))

	store := openCLIStore(*configPath)
	defer store.Close()

	if _, err := store.GetServer(context.Background(), id); err != nil {
		log.Fatalf("Server %d not found: %v", id, err)
	}

	token, hash, prefix, err := auth.NewBeaconToken()
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	if err := store.UpdateServerToken(context.Background(), id, hash, prefix); err != nil {
		log.Fatalf("Failed to store token: %v", err)
	}

	fmt.Printf("Beacon token for server %d (shown once, store it now):\n\n  %s\n\n", id, token)
	fmt.Printf("Configure the game server with:\n  sv_logsecret \"%s\"\n", token)
}

func parseServerID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Fatalf("Invalid server id: %s", s)
	}
	return id
}

// cmdUser manages admin users
func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: hlxd user <add|remove|list|reset> ...")
		os.Exit(1)
	}

	sub := args[0]
	fs := flag.NewFlagSet("user "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args[1:])

	store := openCLIStore(*configPath)
	defer store.Close()
	ctx := context.Background()

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: hlxd user add <username>")
			os.Exit(1)
		}
		username := fs.Arg(0)
		hash := promptNewPassword()
		if err := store.CreateUser(ctx, username, hash); err != nil {
			log.Fatalf("Failed to add user: %v", err)
		}
		fmt.Printf("User %s added\n", username)

	case "remove":
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: hlxd user remove <username>")
			os.Exit(1)
		}
		if err := store.DeleteUser(ctx, fs.Arg(0)); err != nil {
			log.Fatalf("Failed to remove user: %v", err)
		}
		fmt.Printf("User %s removed\n", fs.Arg(0))

	case "list":
		users, err := store.ListUsers(ctx)
		if err != nil {
			log.Fatalf("Failed to list users: %v", err)
		}
		for _, u := range users {
			fmt.Println(u)
		}

	case "reset":
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: hlxd user reset <username>")
			os.Exit(1)
		}
		username := fs.Arg(0)
		hash := promptNewPassword()
		if err := store.UpdateUserPassword(ctx, username, hash); err != nil {
			log.Fatalf("Failed to reset password: %v", err)
		}
		fmt.Printf("Password reset for %s\n", username)

	default:
		fmt.Fprintf(os.Stderr, "Unknown user subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func promptPassword(prompt string) string {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		log.Fatalf("Failed to read password: %v", err)
	}
	if len(pw) == 0 {
		log.Fatalf("Password cannot be empty")
	}
	return string(pw)
}

func promptNewPassword() string {
	password := promptPassword("Password: ")
	confirm := promptPassword("Confirm password: ")
	if password != confirm {
		log.Fatalf("Passwords do not match")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	return hash
}
