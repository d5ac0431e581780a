package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fieldsrv/server/internal/config"
	"github.com/fieldsrv/server/internal/data"
	"github.com/fieldsrv/server/internal/field"
	"github.com/fieldsrv/server/internal/miniroom"
	gonet "github.com/fieldsrv/server/internal/net"
	"github.com/fieldsrv/server/internal/net/packet"
	"github.com/fieldsrv/server/internal/persist"
	"github.com/fieldsrv/server/internal/scripting"
	"github.com/fieldsrv/server/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m           fieldsrv  v0.1.0                \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      地圖模擬核心 · Go 遊戲伺服器         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	// Use display width for CJK characters (each CJK char = 2 columns)
	displayWidth := 0
	for _, r := range title {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	lineLen := 46 - displayWidth - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	displayWidth := 0
	for _, r := range label {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	dotsLen := 42 - displayWidth - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("FIELDSRV_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// 3. Connect to PostgreSQL and run migrations. DSN may be empty: the
	// server then runs without the economic WAL and trades settle in memory.
	var exchange miniroom.Exchange = memExchange{}
	if cfg.Database.DSN != "" {
		printSection("資料庫")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL 連線成功")

		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("資料庫遷移完成")
		fmt.Println()

		exchange = persist.NewTradeLedger(persist.NewWALRepo(db))
	}

	// 4. Load static data tables
	printSection("資料載入")

	itemTable, err := data.LoadItemTable(filepath.Join(cfg.Game.DataDir, "items.yaml"))
	if err != nil {
		return fmt.Errorf("load item table: %w", err)
	}
	printStat("道具模板", itemTable.Count())

	fieldTable, err := data.LoadFieldTable(filepath.Join(cfg.Game.DataDir, "fields"))
	if err != nil {
		return fmt.Errorf("load field table: %w", err)
	}
	printStat("地圖資料", fieldTable.Count())

	// 5. World collaborators
	parties := world.NewPartyManager(log)
	g := newGame(log)

	var mgr *field.Manager

	// 6. Lua scripting engine, wired to the field control surface
	luaEngine, err := scripting.NewEngine(cfg.Game.ScriptsDir, fieldOps{mgr: &mgr}, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer luaEngine.Close()
	printOK("Lua 腳本載入完成")

	mgr = field.NewManager(fieldTable, field.Deps{
		Items:     itemAdapter{table: itemTable, log: log},
		Inventory: memInventory{},
		Parties:   parties,
		Continent: contiClock{},
		Script:    luaEngine,
		Log:       log,
	})
	g.fields = mgr

	g.rooms = miniroom.NewRegistry(miniroom.Deps{
		Finder:   g,
		Exchange: exchange,
		Items:    itemTable,
		Log:      log,
	})
	fmt.Println()

	// 7. Network server
	pktPerSec := 0
	if cfg.RateLimit.Enabled {
		pktPerSec = cfg.RateLimit.PacketsPerSecond
	}
	netServer, err := gonet.NewServer(
		cfg.Network.BindAddress,
		cfg.Network.InQueueSize,
		cfg.Network.OutQueueSize,
		pktPerSec,
		log,
	)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	// 8. Game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	printSection("伺服器就緒")
	printReady(fmt.Sprintf("監聽位址 %s", cfg.Network.BindAddress))
	printReady(fmt.Sprintf("遊戲迴圈啟動 (tick: %s)", cfg.Network.TickRate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			g.admitNewSessions(netServer)
			g.pumpSessions(netServer, cfg.Network.MaxPacketsPerTick)
			now := time.Now().UnixMilli()
			for _, f := range g.fields.ActiveFields() {
				f.Update(now)
			}
			g.flushAll()
		case sig := <-shutdownCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			netServer.Shutdown()
			g.closeAll()
			log.Info("伺服器已停止")
			return nil
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

// ── Small collaborator adapters ───────────────────────────────────

// itemAdapter widens data.ItemTable into field.ItemProvider.
type itemAdapter struct {
	table *data.ItemTable
	log   *zap.Logger
}

func (a itemAdapter) IsQuestItem(id int32) bool { return a.table.IsQuestItem(id) }

func (a itemAdapter) IsTradeBlocked(id int32) bool { return a.table.IsTradeBlocked(id) }

func (a itemAdapter) ConsumeOnPickup(id int32) bool { return a.table.ConsumeOnPickup(id) }

func (a itemAdapter) Period(id int32) int32 { return a.table.Period(id) }

func (a itemAdapter) ApplyStateChange(u *world.User, itemID int32, now int64) {
	a.log.Debug("直接套用道具效果",
		zap.Int32("角色", u.CharID),
		zap.Int32("道具", itemID),
		zap.Int32("效果", a.table.StateChangeID(itemID)))
}

// memInventory accepts every credit; real stat/inventory bookkeeping lives
// in the character service this core reports to.
type memInventory struct{}

func (memInventory) PickUpMoney(u *world.User, amount int32) bool { return true }

func (memInventory) PickUpItem(u *world.User, item *world.ItemSlot) bool { return true }

// memExchange settles trades without a ledger, for DSN-less runs.
type memExchange struct{}

func (memExchange) Settle(a, b *world.User, offerA, offerB miniroom.Offer) error { return nil }

// contiClock derives the ship schedule from wall time: a 10 minute cycle
// of boarding, sailing and arrival.
type contiClock struct{}

func (contiClock) ContiState(fieldID int32) (byte, byte) {
	phase := time.Now().Unix() % 600
	switch {
	case phase < 120:
		return 0, 0 // boarding
	case phase < 480:
		return 1, 0 // sailing
	default:
		return 2, 0 // arrived
	}
}

// fieldOps bridges lua builtins to the field manager. Holds a pointer to
// the manager slot because scripts load before the manager exists.
type fieldOps struct {
	mgr **field.Manager
}

func (o fieldOps) EffectScreen(fieldID int32, name string) {
	if f := (*o.mgr).GetField(fieldID); f != nil {
		f.EffectScreen(name)
	}
}

func (o fieldOps) EffectSound(fieldID int32, name string) {
	if f := (*o.mgr).GetField(fieldID); f != nil {
		f.EffectSound(name)
	}
}

func (o fieldOps) EnablePortal(fieldID int32, portal string, enabled bool) {
	if f := (*o.mgr).GetField(fieldID); f != nil {
		f.PortalMap().EnablePortal(portal, enabled)
	}
}

// ── Game state and dispatch ───────────────────────────────────────

// client pairs a network session with its in-world identity.
type client struct {
	sess *gonet.Session
	user *world.User
}

// game owns the session table. Accessed only from the game loop goroutine
// except FindUser, which the room registry calls from the same loop.
type game struct {
	log      *zap.Logger
	fields   *field.Manager
	rooms    *miniroom.Registry
	sessions map[uint64]*client
	byChar   map[int32]*client
}

func newGame(log *zap.Logger) *game {
	return &game{
		log:      log,
		sessions: make(map[uint64]*client),
		byChar:   make(map[int32]*client),
	}
}

// FindUser implements miniroom.UserFinder.
func (g *game) FindUser(charID int32) *world.User {
	if c := g.byChar[charID]; c != nil {
		return c.user
	}
	return nil
}

func (g *game) admitNewSessions(srv *gonet.Server) {
	for {
		select {
		case sess := <-srv.NewSessions():
			g.sessions[sess.ID] = &client{sess: sess}
		default:
			return
		}
	}
}

// pumpSessions drains each session's input queue, up to the per-tick
// budget, and reaps dead sessions.
func (g *game) pumpSessions(srv *gonet.Server, maxPerTick int) {
drain:
	for {
		select {
		case id := <-srv.DeadSessions():
			g.dropSession(id)
		default:
			break drain
		}
	}

	for id, c := range g.sessions {
		if c.sess.IsClosed() {
			g.dropSession(id)
			continue
		}
	read:
		for n := 0; n < maxPerTick; n++ {
			select {
			case data := <-c.sess.InQueue:
				g.dispatch(c, data)
			default:
				break read
			}
		}
	}
}

// dropSession detaches the client from room and field, then forgets it.
func (g *game) dropSession(id uint64) {
	c, ok := g.sessions[id]
	if !ok {
		return
	}
	delete(g.sessions, id)
	if c.user != nil {
		g.rooms.OnUserLeaveGame(c.user)
		if f := g.fields.GetField(c.user.FieldID()); f != nil {
			f.OnLeave(c.user)
		}
		delete(g.byChar, c.user.CharID)
	}
	c.sess.Close()
}

// dispatch routes one decrypted inbound packet.
func (g *game) dispatch(c *client, data []byte) {
	r := packet.NewReader(data)
	t := r.ReadH()

	if t == packet.C_TYPE_ENTER_WORLD {
		g.onEnterWorld(c, r)
		return
	}
	if c.user == nil {
		g.log.Warn("未登入的封包", zap.Uint16("類型", t), zap.Uint64("session", c.sess.ID))
		return
	}

	if t == packet.C_TYPE_MINIROOM {
		g.rooms.OnPacket(c.user, r)
		return
	}

	if f := g.fields.GetField(c.user.FieldID()); f != nil {
		f.OnPacket(c.user, t, r)
	}
}

// onEnterWorld binds a character to the session and admits it to its map.
// Authentication happened upstream; this server trusts the gateway.
func (g *game) onEnterWorld(c *client, r *packet.Reader) {
	charID := r.ReadD()
	name := r.ReadS()
	gender := r.ReadC()
	level := int16(r.ReadH())
	fieldID := r.ReadD()

	if c.user != nil || g.byChar[charID] != nil {
		g.log.Warn("重複進入世界", zap.Int32("角色", charID))
		return
	}
	f := g.fields.GetField(fieldID)
	if f == nil {
		g.log.Warn("未知的地圖", zap.Int32("地圖", fieldID), zap.Int32("角色", charID))
		c.sess.Close()
		return
	}

	u := world.NewUser(charID, name, gender, level, c.sess)
	u.SessionID = c.sess.ID
	c.user = u
	g.byChar[charID] = c

	c.sess.SetState(packet.StateInWorld)
	f.OnEnter(u)
}

func (g *game) flushAll() {
	for _, c := range g.sessions {
		c.sess.FlushOutput()
	}
}

func (g *game) closeAll() {
	for id := range g.sessions {
		g.dropSession(id)
	}
}
