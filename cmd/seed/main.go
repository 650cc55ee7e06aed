// Package main seeds fleetd with a catalog of profiles and policies.
//
// The catalog is a YAML document read from the path given by -catalog (or
// SEED_CATALOG). Entries whose name already exists in the project are
// skipped, so the command can run on every deploy.
//
// Import Path: fleetd.io/fleetd/cmd/seed
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"fleetd.io/fleetd/internal/app/modules"
	"fleetd.io/fleetd/internal/config"
	"fleetd.io/fleetd/internal/domain"
	"fleetd.io/fleetd/internal/engine"
	"fleetd.io/fleetd/internal/pkg/logger"

	apperrors "fleetd.io/fleetd/internal/pkg/errors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := flag.String("catalog", os.Getenv("SEED_CATALOG"), "path to the YAML catalog")
	flag.Parse()
	if *path == "" {
		return fmt.Errorf("no catalog given; pass -catalog or set SEED_CATALOG")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	f, err := os.Open(*path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	cat, err := loadCatalog(f)
	if err != nil {
		return err
	}

	ctx := context.Background()
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init infrastructure: %w", err)
	}
	defer infra.Close()

	eng := modules.NewEngineModule(infra).Engine()

	logger.Info("Starting catalog seeding...", zap.String("catalog", *path))
	res, err := seed(ctx, eng, cat)
	if err != nil {
		return err
	}
	logger.Info("Catalog seeding completed",
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
	)
	return nil
}

// catalog is the seed document.
type catalog struct {
	User     string         `yaml:"user"`
	Project  string         `yaml:"project"`
	Profiles []profileEntry `yaml:"profiles"`
	Policies []policyEntry  `yaml:"policies"`
}

type profileEntry struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Spec       map[string]any    `yaml:"spec"`
	Permission string            `yaml:"permission"`
	Tags       map[string]string `yaml:"tags"`
}

type policyEntry struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Spec     map[string]any `yaml:"spec"`
	Cooldown *int           `yaml:"cooldown"`
	Level    *int           `yaml:"level"`
}

func loadCatalog(r io.Reader) (*catalog, error) {
	var cat catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if cat.User == "" {
		cat.User = "fleetd-seed"
	}
	if cat.Project == "" {
		return nil, fmt.Errorf("catalog: project is required")
	}

	seen := make(map[string]bool)
	for i, p := range cat.Profiles {
		if p.Name == "" || p.Type == "" {
			return nil, fmt.Errorf("catalog: profiles[%d] needs a name and a type", i)
		}
		if seen["profile/"+p.Name] {
			return nil, fmt.Errorf("catalog: duplicate profile %q", p.Name)
		}
		seen["profile/"+p.Name] = true
	}
	for i, p := range cat.Policies {
		if p.Name == "" || p.Type == "" {
			return nil, fmt.Errorf("catalog: policies[%d] needs a name and a type", i)
		}
		if seen["policy/"+p.Name] {
			return nil, fmt.Errorf("catalog: duplicate policy %q", p.Name)
		}
		seen["policy/"+p.Name] = true
	}
	return &cat, nil
}

type seedResult struct {
	Created int
	Skipped int
}

// seed creates the catalog entries that do not exist yet.
func seed(ctx context.Context, eng *engine.Engine, cat *catalog) (seedResult, error) {
	var res seedResult
	ctx = domain.WithIdentity(ctx, domain.Identity{User: cat.User, Project: cat.Project})

	for _, p := range cat.Profiles {
		_, err := eng.ProfileFind(ctx, p.Name, false)
		switch {
		case err == nil:
			logger.Info("Profile already exists, skipping", zap.String("profile", p.Name))
			res.Skipped++
			continue
		case !apperrors.HasCode(err, apperrors.CodeProfileNotFound):
			return res, fmt.Errorf("find profile %s: %w", p.Name, err)
		}
		if _, err := eng.ProfileCreate(ctx, engine.ProfileCreateParams{
			Name:       p.Name,
			Type:       p.Type,
			Spec:       p.Spec,
			Permission: p.Permission,
			Tags:       p.Tags,
		}); err != nil {
			return res, fmt.Errorf("create profile %s: %w", p.Name, err)
		}
		logger.Info("Seeded profile", zap.String("profile", p.Name))
		res.Created++
	}

	for _, p := range cat.Policies {
		_, err := eng.PolicyFind(ctx, p.Name, false)
		switch {
		case err == nil:
			logger.Info("Policy already exists, skipping", zap.String("policy", p.Name))
			res.Skipped++
			continue
		case !apperrors.HasCode(err, apperrors.CodePolicyNotFound):
			return res, fmt.Errorf("find policy %s: %w", p.Name, err)
		}
		if _, err := eng.PolicyCreate(ctx, engine.PolicyCreateParams{
			Name:     p.Name,
			Type:     p.Type,
			Spec:     p.Spec,
			Cooldown: p.Cooldown,
			Level:    p.Level,
		}); err != nil {
			return res, fmt.Errorf("create policy %s: %w", p.Name, err)
		}
		logger.Info("Seeded policy", zap.String("policy", p.Name))
		res.Created++
	}
	return res, nil
}
