// botd runs the bot core as a standalone daemon: the simulation loop, the
// observer feed and a loopback command endpoint. Until a game-server
// adapter is linked in it drives a stub host world, which is enough for
// soak-testing the scheduler, queues and monitor under load.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	persistlog "playerbots/internal/persistence/log"
	"playerbots/internal/persistence/profiledb"
	"playerbots/internal/persistence/r2s3"

	"playerbots/internal/command"
	"playerbots/internal/config"
	"playerbots/internal/sim/banking"
	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/engine"
	"playerbots/internal/sim/host"
	"playerbots/internal/sim/monitor"
	"playerbots/internal/sim/tuning"
	"playerbots/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8200", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable profile persistence")

		r2Endpoint = flag.String("r2_endpoint", "", "S3-compatible endpoint for trail mirroring (empty to disable)")
		r2Bucket   = flag.String("r2_bucket", "", "bucket for trail mirroring")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[botd] ", log.LstdFlags|log.Lmicroseconds)

	tpath := *tuningPath
	if tpath == "" {
		tpath = filepath.Join(*configDir, "tuning.yaml")
	}
	tun, err := tuning.Load(tpath)
	if err != nil {
		logger.Printf("tuning: %v (using defaults)", err)
		tun = tuning.Defaults()
	}

	clk := clock.System()
	mon := monitor.New(monitor.Config{
		WindowSamples:   tun.Monitor.WindowSamples,
		HistoryMinutes:  tun.Monitor.HistoryMinutes,
		AlertRing:       tun.Monitor.AlertRing,
		ActiveAlertMins: tun.Monitor.ActiveAlertMins,
	}, clk, logger)

	store := config.NewStore()
	registerRuntimeKeys(store, logger)
	confPath := filepath.Join(*configDir, "bots.conf")
	if res, err := store.Load(confPath); err != nil {
		logger.Printf("config: %v (using defaults)", err)
	} else {
		for _, k := range res.Unknown {
			logger.Printf("config: unknown key %q ignored", k)
		}
		for _, e := range res.Errors {
			logger.Printf("config: %s", e)
		}
		logger.Printf("config: %d keys loaded from %s", res.Applied, confPath)
	}

	applyThresholds(mon, store)

	bankLog := persistlog.NewBankLogger(*dataDir)
	defer bankLog.Close()
	alertLog := persistlog.NewAlertLogger(*dataDir)
	defer alertLog.Close()

	// Closed trail segments ship offsite when mirroring is configured;
	// credentials come from the environment.
	if *r2Endpoint != "" {
		client, err := r2s3.New(*r2Endpoint, *r2Bucket,
			os.Getenv("BOTD_R2_ACCESS_KEY_ID"), os.Getenv("BOTD_R2_SECRET_ACCESS_KEY"))
		if err != nil {
			logger.Fatalf("trail mirror: %v", err)
		}
		mirror := r2s3.NewMirror(client, *dataDir, "trails", 2, 2048, 25*time.Millisecond, mon, logger)
		defer mirror.Close()
		bankLog.OnRotate(mirror.Enqueue)
		alertLog.OnRotate(mirror.Enqueue)
	}

	var profiles *profiledb.Store
	if !*disableDB {
		profiles, err = profiledb.Open(filepath.Join(*dataDir, "bots.db"), clk, mon)
		if err != nil {
			logger.Fatalf("profiledb: %v", err)
		}
		defer profiles.Close()
	}

	eng, err := engine.New(engine.Options{
		Tuning:  tun,
		World:   stubWorld{},
		Clock:   clk,
		Monitor: mon,
		Coordinators: engine.CoordinatorConfig{
			Banking: banking.Config{
				CheckInterval: time.Duration(store.GetInt32("bank.interval_min", 5)) * time.Minute,
			},
			BankProfile: banking.Profile{
				Strategy:    banking.StrategyConservative,
				GoldMin:     int64(store.GetInt32("bank.gold_min", 10_000)),
				GoldMax:     int64(store.GetInt32("bank.gold_max", 500_000)),
				AutoDeposit: true,
			},
		},
		Profiles:  profiles,
		TxSink:    bankLog,
		AlertSink: alertLog,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}
	defer eng.Close()

	ctx, cancel := signalContext()
	defer cancel()
	go eng.Run(ctx)

	handler := command.NewHandler(eng, stubWorld{}, eng.Scheduler(), store, mon)
	obs := observer.NewServer(mon, eng, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observer/ws", obs.WSHandler())
	mux.HandleFunc("/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/command", commandEndpoint(eng, handler))

	srv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
		if err := store.Save(confPath); err != nil {
			logger.Printf("config save: %v", err)
		}
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// commandEndpoint runs one .bot command line per POST, marshalled onto the
// sim thread.
func commandEndpoint(eng *engine.Engine, h *command.Handler) http.HandlerFunc {
	type response struct {
		Code  int      `json:"code"`
		Lines []string `json:"lines"`
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		line := r.FormValue("line")
		origin := host.Position{
			X: formFloat(r, "x"),
			Y: formFloat(r, "y"),
			Z: formFloat(r, "z"),
		}
		done := make(chan command.Result, 1)
		eng.Do(func() { done <- h.Execute(origin, line) })
		res := <-done

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(response{Code: res.Code, Lines: res.Lines})
	}
}

func formFloat(r *http.Request, key string) float64 {
	f, _ := strconv.ParseFloat(r.FormValue(key), 64)
	return f
}

func registerRuntimeKeys(s *config.Store, logger *log.Logger) {
	reg := func(opt config.RegisterOption) {
		if err := s.Register(opt); err != nil {
			logger.Fatalf("config: %v", err)
		}
	}
	reg(config.RegisterOption{
		Key: "bots.max", Default: config.Uint32(500),
		Description: "Upper bound on concurrently active bots", Persistent: true,
		Validate: func(v config.Value) error {
			if v.U == 0 || v.U > 5000 {
				return fmt.Errorf("must be in 1..5000")
			}
			return nil
		},
	})
	reg(config.RegisterOption{
		Key: "bots.enabled", Default: config.Bool(true),
		Description: "Master switch for the bot system", Persistent: true,
	})
	reg(config.RegisterOption{
		Key: "bank.interval_min", Default: config.Int32(5),
		Description: "Minutes between banking checks", Persistent: true,
		Validate: func(v config.Value) error {
			if v.I < 1 {
				return fmt.Errorf("must be positive")
			}
			return nil
		},
	})
	reg(config.RegisterOption{
		Key: "bank.gold_min", Default: config.Int32(10_000),
		Description: "Gold floor kept in inventory (copper)", Persistent: true,
	})
	reg(config.RegisterOption{
		Key: "bank.gold_max", Default: config.Int32(500_000),
		Description: "Gold ceiling before excess is deposited (copper)", Persistent: true,
	})
	reg(config.RegisterOption{
		Key: "alerts.cpu_warn_pct", Default: config.Float32(80),
		Description: "CPU percent warning threshold", Persistent: true,
	})
	reg(config.RegisterOption{
		Key: "alerts.cpu_crit_pct", Default: config.Float32(95),
		Description: "CPU percent critical threshold", Persistent: true,
	})
	reg(config.RegisterOption{
		Key: "alerts.mem_warn_mb", Default: config.Float32(1024),
		Description: "Memory warning threshold in MiB", Persistent: true,
	})
	reg(config.RegisterOption{
		Key: "alerts.mem_crit_mb", Default: config.Float32(2048),
		Description: "Memory critical threshold in MiB", Persistent: true,
	})
	reg(config.RegisterOption{
		Key: "economy.gold_per_hour", Default: config.Float32(5000),
		Description: "Time valuation for sourcing decisions", Persistent: true,
	})
}

func applyThresholds(mon *monitor.Monitor, s *config.Store) {
	mon.SetThreshold(monitor.ThresholdCPUPercent, monitor.Threshold{
		Warning:  float64(s.GetFloat32("alerts.cpu_warn_pct", 80)),
		Critical: float64(s.GetFloat32("alerts.cpu_crit_pct", 95)),
		Enabled:  true,
	})
	mon.SetThreshold(monitor.ThresholdMemoryMB, monitor.Threshold{
		Warning:  float64(s.GetFloat32("alerts.mem_warn_mb", 1024)),
		Critical: float64(s.GetFloat32("alerts.mem_crit_mb", 2048)),
		Enabled:  true,
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// stubWorld satisfies the host contract with empty reads and accepted
// mutations. Replaced by the real server adapter at integration time.
type stubWorld struct{}

func (stubWorld) ResolveEntity(host.EntityID) (host.EntityInfo, bool)    { return host.EntityInfo{}, false }
func (stubWorld) EntitiesNear(host.Position, float64) []host.EntityInfo  { return nil }
func (stubWorld) SpawnTable(host.EntityKind, uint32) []host.Position     { return nil }
func (stubWorld) QuestObjectiveCount(host.BotID, uint32, int) int        { return 0 }
func (stubWorld) Teleport(host.BotID, host.Position) error               { return nil }
func (stubWorld) MoveTo(host.BotID, host.Position) error                 { return nil }
func (stubWorld) AttackStart(host.BotID, host.EntityID) error            { return nil }
func (stubWorld) CastSpell(host.BotID, uint32, host.EntityID) error      { return nil }
func (stubWorld) UseObject(host.BotID, host.EntityID) error              { return nil }
func (stubWorld) Loot(host.BotID, host.EntityID) error                   { return nil }
func (stubWorld) BankDeposit(host.BotID, uint32, int, int64) error       { return nil }
func (stubWorld) BankWithdraw(host.BotID, uint32, int, int64) error      { return nil }
func (stubWorld) AuctionList(host.BotID, uint32, int, int64, int) error  { return nil }
func (stubWorld) AuctionBuy(host.BotID, uint64) error                    { return nil }
func (stubWorld) QuestAccept(host.BotID, uint32, host.EntityID) error    { return nil }
func (stubWorld) QuestComplete(host.BotID, uint32, host.EntityID) error  { return nil }
func (stubWorld) QuestAbandon(host.BotID, uint32) error                  { return nil }
func (stubWorld) SendInteractPacket(host.BotID, host.EntityID, string, map[string]any) error {
	return nil
}
