package app

import (
	"context"
	"fmt"
	"io"

	"expense_sync/internal/auth"
	"expense_sync/internal/capture"
	"expense_sync/internal/columns"
	"expense_sync/internal/config"
	"expense_sync/internal/connectivity"
	"expense_sync/internal/drive"
	"expense_sync/internal/lists"
	"expense_sync/internal/metrics"
	"expense_sync/internal/notifications"
	"expense_sync/internal/queue"
	"expense_sync/internal/retry"
	"expense_sync/internal/rows"
	"expense_sync/internal/settings"
	"expense_sync/internal/sheets"
	"expense_sync/internal/store"
	"expense_sync/internal/syncer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"google.golang.org/api/option"
)

// App holds the long-lived services, built once and shared by every command.
type App struct {
	Config        *config.Config
	Settings      settings.Record
	SettingsStore *settings.Store

	Store    *store.Client
	Queue    *queue.Queue
	Guard    *auth.Guard
	Identity *auth.Identity
	Members  *auth.Members
	Sheets   *sheets.Client
	Drive    *drive.Client
	Resolver *columns.Resolver
	Rows     *rows.Allocator
	Lists    *lists.Service
	Monitor  *connectivity.Monitor
	Notifier *notifications.Client
	Registry *prometheus.Registry
	Metrics  *metrics.SyncMetrics
	Engine   *syncer.Engine
	Capture  *capture.Service

	logFile io.Closer
}

// OpenStore opens and migrates the local database. Commands that only touch
// the queue use it without building the Google clients.
func OpenStore(ctx context.Context, cfg *config.Config, resilience config.ResilienceConfig) (*store.Client, error) {
	client, err := retry.Do(ctx, resilience.Startup, func(ctx context.Context) (*store.Client, error) {
		return store.Open(ctx, cfg.Store.Path)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	if err := client.Migrate(ctx, &queue.Item{}, &settings.Record{}); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Build wires every service from cfg. Missing Google credentials are not
// fatal: expenses can still be queued and the engine reports that sign-in is
// needed.
func Build(ctx context.Context, cfg *config.Config, resilience config.ResilienceConfig) (*App, error) {
	log.Debug().Msg("Initializing services")
	a := &App{Config: cfg}
	a.logFile = AttachLogFile(cfg.App)

	client, err := OpenStore(ctx, cfg, resilience)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Store = client
	a.Queue = queue.New(client.DB())

	a.SettingsStore = settings.New(client.DB())
	rec, err := a.SettingsStore.Resolve(ctx, settings.Record{
		SpreadsheetID: cfg.Google.SpreadsheetID,
		DriveFolderID: cfg.Google.DriveFolderID,
		ClientID:      cfg.Google.ClientID,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Settings = rec

	source, err := auth.NewTokenSource(ctx, auth.Credentials{
		CredentialsFile: cfg.Google.CredentialsFile,
		TokenFile:       cfg.Google.TokenFile,
		ClientID:        rec.ClientID,
		ClientSecret:    cfg.Google.ClientSecret,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Google credentials unavailable; expenses will be queued until sign-in")
	}
	a.Guard = auth.NewGuard(source)
	opts := []option.ClientOption{option.WithTokenSource(a.Guard.TokenSource())}

	if a.Sheets, err = sheets.NewClient(ctx, rec.SpreadsheetID, opts...); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%s: %w", config.EnvSpreadsheetID, err)
	}
	if a.Drive, err = drive.NewClient(ctx, rec.DriveFolderID, opts...); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%s: %w", config.EnvDriveFolderID, err)
	}

	if a.Members, err = auth.ParseMembers(cfg.Google.AllowedMembers); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%s: %w", config.EnvAllowedMembers, err)
	}
	if a.Identity, err = auth.NewIdentity(ctx, a.Guard, a.Members, opts...); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Resolver = columns.NewResolver(a.Sheets, cfg.Sheets.TransactionsTab)
	a.Rows = rows.NewAllocator(a.Sheets, cfg.Sheets.TransactionsTab)
	a.Lists = lists.New(a.Sheets, cfg.Sheets.ListsTab, cfg.Sheets.SummaryTab)

	var prober connectivity.Prober
	if cfg.Connectivity.ProbeURL != "" {
		prober = connectivity.NewHTTPProbe(cfg.Connectivity.ProbeURL, cfg.Connectivity.ProbeTimeout)
	}
	a.Monitor = connectivity.NewMonitor(prober, cfg.Connectivity.ProbeInterval, resilience.Probe)

	a.Notifier = notifications.NewClient(notifications.Config{
		BaseURL:   cfg.Notifications.URL,
		Topic:     cfg.Notifications.Topic,
		Enabled:   cfg.Notifications.Enabled,
		BatchMode: cfg.Notifications.BatchMode,
		Priority:  cfg.Notifications.Priority,
		Retry:     resilience.Notification,
	})

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewSyncMetrics(a.Registry)

	if a.Engine, err = syncer.New(syncer.Params{
		Queue:        a.Queue,
		Resolver:     a.Resolver,
		Rows:         a.Rows,
		Blobs:        a.Drive,
		Lists:        a.Lists,
		Auth:         a.Guard,
		Online:       a.Monitor,
		Notifier:     a.Notifier,
		Metrics:      a.Metrics,
		MaxRetries:   cfg.Sync.MaxRetries,
		PollInterval: cfg.Sync.PollInterval,
	}); err != nil {
		_ = a.Close()
		return nil, err
	}

	if a.Capture, err = capture.New(capture.Params{
		Queue:           a.Queue,
		Resolver:        a.Resolver,
		Rows:            a.Rows,
		Blobs:           a.Drive,
		Auth:            a.Guard,
		Online:          a.Monitor,
		AddVendors:      cfg.Sync.AddVendors,
		FastPathTimeout: cfg.Sync.CaptureTimeout,
	}); err != nil {
		_ = a.Close()
		return nil, err
	}

	log.Debug().
		Str("spreadsheet_id", rec.SpreadsheetID).
		Str("drive_folder_id", rec.DriveFolderID).
		Int("members", a.Members.Len()).
		Msg("Services initialized successfully")
	return a, nil
}

// Close waits for pending notifications and releases the database and log
// file.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Notifier != nil {
		a.Notifier.Wait()
	}

	var err error
	if a.Store != nil {
		err = multierr.Append(err, a.Store.Close())
	}
	if a.logFile != nil {
		err = multierr.Append(err, a.logFile.Close())
	}
	return err
}
