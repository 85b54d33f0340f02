package bot

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/bootstrap"
	coredatabase "github.com/m3rciful/botcore/core/database"
	"github.com/m3rciful/botcore/core/logger"
	tg "github.com/m3rciful/botcore/core/telegram"
	tghelpers "github.com/m3rciful/botcore/core/telegram/helpers"
	"github.com/m3rciful/botcore/core/telegram/request"
	"github.com/m3rciful/botcore/core/telegram/router"
	"github.com/m3rciful/botcore/core/telegram/state"
	"github.com/m3rciful/botcore/core/users"
)

// Services bundles the application services built during bootstrap.
type Services struct {
	Users *users.Service
}

// App is the assembled bot: infrastructure, services and routing.
type App struct {
	cfg       *Config
	db        *sqlx.DB
	services  *Services
	resolver  *request.Resolver
	dialogues *request.Dialogues
	registry  *tg.Registry
}

// Bootstrap initializes infrastructure and wires the application together.
func Bootstrap(cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bot: nil config")
	}

	res, err := bootstrap.Run(context.Background(), bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
		Modules: bootstrap.Modules{
			Services: provideServices(cfg),
		},
	})
	if err != nil {
		return nil, err
	}

	services, ok := res.Services.(*Services)
	if !ok || services == nil {
		_ = res.DB.Close()
		return nil, fmt.Errorf("bot: service wiring produced no services")
	}

	factory := coredatabase.NewFactory(res.DB)
	resolver := request.NewResolver(request.Config{
		Sessions: request.DBSessionFactory(factory),
		States:   state.NewStore(),
		Lookup: func(sc *request.Scope, telegramID int64) (*users.User, error) {
			tx, err := sc.Tx()
			if err != nil {
				return nil, err
			}
			return services.Users.GetByTelegramID(sc.Context(), tx, telegramID)
		},
	})

	app := &App{
		cfg:       cfg,
		db:        res.DB,
		services:  services,
		resolver:  resolver,
		dialogues: request.NewDialogues(resolver),
		registry:  tg.NewRegistry(),
	}

	if err := app.registerDialogues(); err != nil {
		_ = res.DB.Close()
		return nil, err
	}
	app.registerRoutes()
	return app, nil
}

// provideServices builds the service bundle once the database is up.
func provideServices(cfg *Config) bootstrap.TypedServiceProviderFunc[*Services] {
	return func(_ context.Context, _ interface{}, storage bootstrap.Storage) (*Services, error) {
		if _, ok := storage.(*sqlx.DB); !ok {
			return nil, fmt.Errorf("bot: unexpected storage %T", storage)
		}

		cache := users.NewCache(cfg.Cache.Limit)
		svc := users.NewService(users.NewPostgresRepository(), cache, cfg.Telegram.FirstAdmin)
		return &Services{Users: svc}, nil
	}
}

// senderLookup resolves the sender outside a handler transaction, for
// admin gating. Cache hits avoid the database entirely.
func (a *App) senderLookup(c tele.Context) (*users.User, error) {
	sender := c.Sender()
	if sender == nil {
		return nil, nil
	}
	return a.services.Users.GetByTelegramID(tghelpers.BuildContext(c), a.db, sender.ID)
}

// TelegramRunOptions assembles everything RunTelegram needs.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	core := a.cfg.CoreConfig()
	fallbacks := newFallbacks()
	a.registry.SetTextFallback(fallbacks.UnknownText())
	a.registry.SetCallbackNotFound(fallbacks.UnknownCallback())

	routes := router.CommandRoutes(a.registry, router.CommandRouteOptions{
		LookupUser: a.senderLookup,
	})
	routes = append(routes, router.CallbackRoute(a.registry, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(a.dialogues, a.registry, router.TextOptions{
		UnknownText:     fallbacks.UnknownText(),
		UnknownDocument: fallbacks.UnknownDocument(),
	})...)

	opts := tg.RunOptions{
		Config:      core,
		Registry:    a.registry,
		Middlewares: tg.DefaultMiddlewares(core, nil),
		Routes:      routes,
		OnError:     request.ErrorBoundary(request.DefaultBoundaryMessages()),
		OnStart: func(ctx context.Context, _ tg.Runtime) error {
			go a.services.Users.Cache().SweepLoop(ctx, core.Cache.ClearInterval())
			return nil
		},
		OnStop: func(_ context.Context, _ tg.Runtime) error {
			if err := a.db.Close(); err != nil {
				logger.DB.Error("db close failed", slog.String("err", err.Error()))
				return err
			}
			return nil
		},
	}
	return opts, nil
}
