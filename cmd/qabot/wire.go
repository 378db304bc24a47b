package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	githubadapter "github.com/ericfisherdev/qabot/internal/adapter/driven/github"
	"github.com/ericfisherdev/qabot/internal/adapter/driven/obs"
	"github.com/ericfisherdev/qabot/internal/adapter/driven/openqa"
	"github.com/ericfisherdev/qabot/internal/adapter/driven/repomd"
	s3adapter "github.com/ericfisherdev/qabot/internal/adapter/driven/s3"
	sqliteadapter "github.com/ericfisherdev/qabot/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/qabot/internal/application"
	"github.com/ericfisherdev/qabot/internal/config"
	"github.com/ericfisherdev/qabot/internal/domain/model"
	"github.com/ericfisherdev/qabot/internal/domain/port/driven"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	orchestrator *application.Orchestrator
	verdicts     driven.VerdictStore // Nil when the audit store is disabled.
	builds       driven.BuildStore
	db           *sqliteadapter.DB
}

// newApp wires adapters and services. withAudit opens the audit database
// when one is configured.
func newApp(ctx context.Context, cfg *config.Config, force, withAudit bool) (*app, error) {
	data, err := config.LoadData(cfg.DataDir, cfg.OpenQAURL)
	if err != nil {
		return nil, fmt.Errorf("loading data files: %w", err)
	}
	slog.Info("data loaded",
		"streams", len(data.Incidents),
		"targets", len(data.Targets),
		"kgraft", len(data.KGraft),
	)

	changes, err := newChangeService(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tests := openqa.New(openqa.Config{
		BaseURL:   cfg.OpenQAURL,
		APIKey:    cfg.OpenQAKey,
		APISecret: cfg.OpenQASecret,
	})

	orch := application.NewOrchestrator(
		changes,
		tests,
		application.NewBuildTrigger(tests, repomd.New(), changes, cfg.IncidentPrefix, cfg.DryRun),
		application.NewStatusCommenter(changes, !cfg.NoComment, cfg.DryRun),
		application.NewReporter(tests),
		buildStreams(data, cfg),
		data.Targets,
		application.Options{
			Force:       force,
			DryRun:      cfg.DryRun,
			ReviewGroup: cfg.ReviewGroup,
			ReviewUser:  cfg.ReviewUser,
		},
	)
	a := &app{orchestrator: orch}

	if withAudit && cfg.AuditEnabled() {
		db, err := sqliteadapter.NewDB(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
			_ = db.Close()
			return nil, err
		}
		slog.Info("audit store opened", "path", cfg.DBPath)

		verdicts := sqliteadapter.NewVerdictRepo(db)
		builds := sqliteadapter.NewBuildRepo(db)
		orch.SetAuditStores(verdicts, builds)
		a.db = db
		a.verdicts = verdicts
		a.builds = builds
	}

	if cfg.ArchiveEnabled() {
		archive, err := s3adapter.New(ctx, s3adapter.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		}, slog.Default())
		if err != nil {
			return nil, errors.Join(err, a.Close())
		}
		orch.SetReportArchive(archive)
		slog.Info("report archive enabled", "bucket", cfg.S3.Bucket)
	}

	return a, nil
}

// Close releases the audit database.
func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func newChangeService(ctx context.Context, cfg *config.Config) (driven.ChangeService, error) {
	switch cfg.Backend {
	case config.BackendGitHub:
		client, err := githubadapter.NewClient(githubadapter.Config{
			Token:          cfg.GitHubToken,
			Repo:           cfg.GitHubRepo,
			Reviewer:       cfg.GitHubReviewer,
			IncidentPrefix: cfg.IncidentPrefix,
		})
		if err != nil {
			return nil, err
		}
		if err := client.VerifyReviewer(ctx); err != nil {
			return nil, err
		}
		slog.Info("github backend ready", "repo", cfg.GitHubRepo, "reviewer", cfg.GitHubReviewer)
		return client, nil
	default:
		slog.Info("obs backend ready", "api", cfg.OBSAPIURL, "group", cfg.ReviewGroup, "user", cfg.ReviewUser)
		return obs.New(obs.Config{
			APIURL:      cfg.OBSAPIURL,
			Username:    cfg.OBSUsername,
			Password:    cfg.OBSPassword,
			ReviewGroup: cfg.ReviewGroup,
			ReviewUser:  cfg.ReviewUser,
		}), nil
	}
}

// buildStreams creates the settings variants of every target project. The
// project name prefix selects the stream kind.
func buildStreams(data *config.Data, cfg *config.Config) map[string][]application.Update {
	opts := application.StreamOptions{
		VendorRepoPrefix:    strings.TrimRight(cfg.VendorRepoPrefix, "/"),
		CommunityRepoPrefix: strings.TrimRight(cfg.CommunityRepoPrefix, "/"),
		KGraft:              data.KGraft,
	}

	streams := make(map[string][]application.Update, len(data.Incidents))
	for project, templates := range data.Incidents {
		kind := model.StreamKindForProject(project)
		for _, tmpl := range templates {
			streams[project] = append(streams[project], application.NewUpdate(kind, tmpl, opts))
		}
	}
	return streams
}
