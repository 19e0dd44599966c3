package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/config"
	"github.com/upb/identity-authority/internal/observability"
	"github.com/upb/identity-authority/internal/security"
	"github.com/upb/identity-authority/middleware"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
	"github.com/upb/identity-authority/repositories/memory"
	"github.com/upb/identity-authority/repositories/postgres"
	"github.com/upb/identity-authority/services"
	"github.com/upb/identity-authority/services/audit"
	"github.com/upb/identity-authority/services/authz"
	"github.com/upb/identity-authority/services/credential"
	"github.com/upb/identity-authority/services/rbac"
	"github.com/upb/identity-authority/services/registry"
	"go.uber.org/zap"
)

const limiterCleanupInterval = time.Minute

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB // nil with the memory store
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory (postgres driver only)
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Domain services
	Hasher      security.Hasher
	Credentials *credential.Store
	Sweeper     *credential.Sweeper
	Roles       *rbac.Service
	Users       *registry.UserRegistry
	Services    *registry.ServiceRegistry
	Grants      *registry.GrantRegistry
	Resolver    *authz.Resolver
	Sessions    *authz.Sessions
	AuditWorker *audit.AuditService
	Audit       *audit.Recorder

	// HTTP middleware
	AuthMiddleware  *middleware.AuthMiddleware
	AuditMiddleware *middleware.AuditMiddleware
	RateLimiter     *middleware.RateLimiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	if err := deps.initStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	deps.initServices(cfg)
	deps.initMiddleware(cfg)

	if err := deps.bootstrap(ctx, cfg.Auth.BootstrapAdmin); err != nil {
		_ = deps.closeStore()
		return nil, fmt.Errorf("failed to bootstrap roles: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.StoreDriver))
	return deps, nil
}

// initStore opens the configured store and builds the repositories on it
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreDriverMemory {
		store := memory.NewStore()
		d.Repos = store.Repositories()
		d.TxManager = store.TransactionManager()
		d.Logger.Warn("using in-memory store, data is lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Repos = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initServices builds the domain services
func (d *Dependencies) initServices(cfg *config.Config) {
	d.Hasher = security.NewBcryptHasher(cfg.Auth.BcryptCost)
	d.Credentials = credential.NewStore(d.Repos.Tokens, cfg.Auth, d.Metrics, d.Logger)
	d.Sweeper = credential.NewSweeper(d.Credentials, cfg.Auth.CredentialSweepSchedule, d.Logger)
	d.Roles = rbac.NewService(d.Repos.Roles, d.Logger)

	d.Users = registry.NewUserRegistry(d.Repos, d.TxManager, d.Credentials, d.Hasher, registry.NewLogNotifier(d.Logger), d.Logger)
	d.Services = registry.NewServiceRegistry(d.Repos.Services, d.Logger)
	d.Grants = registry.NewGrantRegistry(d.Repos, d.TxManager, d.Roles, d.Logger)

	signer := authz.NewTokenSigner(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	d.Resolver = authz.NewResolver(d.Repos, d.Roles, signer, cfg.Auth, d.Metrics, d.Logger)
	d.Sessions = authz.NewSessions(d.Resolver, d.Users, d.Credentials, d.Logger)

	d.AuditWorker = audit.NewAuditService(d.Repos.AuditLogs, d.Metrics, d.Logger, audit.ConfigFrom(cfg.Audit))
	d.Audit = audit.NewRecorder(d.AuditWorker, d.Repos.AuditLogs, d.Logger)
}

// initMiddleware builds the HTTP middleware that needs dependencies
func (d *Dependencies) initMiddleware(cfg *config.Config) {
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Resolver, d.Logger)
	d.AuditMiddleware = middleware.NewAuditMiddleware(d.Audit, d.Logger)
	d.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit, d.Logger)
}

// bootstrap ensures the system roles and the optional bootstrap administrator
func (d *Dependencies) bootstrap(ctx context.Context, admin config.BootstrapAdminConfig) error {
	adminRole, _, err := d.Roles.EnsureSystemRoles(ctx)
	if err != nil {
		return err
	}
	if !admin.Enabled() {
		return nil
	}

	_, err = d.Repos.Users.GetByLogin(ctx, admin.Username)
	if err == nil {
		d.Logger.Debug("bootstrap admin already exists", zap.String("username", admin.Username))
		return nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("failed to look up bootstrap admin: %w", err)
	}

	hash, err := d.Hasher.Hash(admin.Password)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap admin password: %w", err)
	}
	user := models.NewUser(admin.Username, strings.ToLower(admin.Email), admin.Username, hash)
	user.Verify()

	err = services.WithTransaction(ctx, d.TxManager, func(ctx context.Context, tx repositories.Transaction) error {
		if err := d.Repos.Users.Create(ctx, user); err != nil {
			return err
		}
		return d.Repos.Grants.Create(ctx, models.NewGrant(user.ID, nil, []uuid.UUID{adminRole.ID}))
	})
	if err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	d.Logger.Info("bootstrap admin created",
		zap.String("user_id", user.ID.String()),
		zap.String("username", user.Username))
	return nil
}

// Start launches the background workers: audit pool, credential sweep and limiter eviction
func (d *Dependencies) Start(ctx context.Context) error {
	if err := d.AuditWorker.Start(); err != nil {
		return fmt.Errorf("failed to start audit workers: %w", err)
	}

	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		if err := d.Sweeper.Run(ctx); err != nil {
			d.Logger.Error("credential sweeper stopped", zap.Error(err))
		}
	}()
	go func() {
		defer d.wg.Done()
		d.RateLimiter.Run(ctx, limiterCleanupInterval)
	}()

	d.Logger.Info("background workers started")
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.cancel != nil {
		d.cancel()
		d.wg.Wait()

		timeout := d.Config.Audit.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.AuditWorker.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit workers: %w", err))
		}
	}

	if err := d.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}

func (d *Dependencies) closeStore() error {
	if d.RepoFactory == nil {
		return nil
	}
	if err := d.RepoFactory.Close(); err != nil {
		return err
	}
	d.Logger.Info("database connection closed")
	return nil
}

// Ready reports whether the store can serve requests
func (d *Dependencies) Ready(ctx context.Context) error {
	if d.DB == nil {
		return nil
	}
	return d.DB.HealthCheck(ctx)
}
