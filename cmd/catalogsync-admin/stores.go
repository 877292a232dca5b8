package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/data"
	"github.com/target/catalog-sync/internal/domain/model"
)

func parseStoreUpsertFlags(args []string) (*model.UpsertStoreRequest, error) {
	fs := flag.NewFlagSet("store-upsert", flag.ContinueOnError)
	req := &model.UpsertStoreRequest{}
	fs.StringVar(&req.Domain, "domain", "", "store domain (required)")
	fs.StringVar(&req.AccessToken, "token", "", "store API access token (required)")
	fs.Func("markup", "markup percentage applied to synced prices", func(v string) error {
		m, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid markup %q: %w", v, err)
		}
		req.MarkupPercentage = &m
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func runStoreUpsert(cmdCtx *commandContext, args []string) error {
	req, err := parseStoreUpsertFlags(args)
	if err != nil {
		return err
	}
	return withInfra(cmdCtx, func(ctx context.Context, infra *adminInfra) error {
		store, err := infra.Services.Stores.Install(ctx, req)
		if err != nil {
			return err
		}
		return writef(os.Stdout, "%s installed (markup %.2f%%)\n", store.Domain, store.MarkupPercentage)
	})
}

func runStoreUninstall(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("store-uninstall", flag.ContinueOnError)
	domain := fs.String("domain", "", "store domain (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if model.NormalizeDomain(*domain) == "" {
		return errors.New("-domain is required")
	}
	return withInfra(cmdCtx, func(ctx context.Context, infra *adminInfra) error {
		changed, err := infra.Services.Stores.Uninstall(ctx, *domain)
		if err != nil {
			return err
		}
		if !changed {
			return writef(os.Stdout, "%s was not installed\n", model.NormalizeDomain(*domain))
		}
		return writef(os.Stdout, "%s uninstalled\n", model.NormalizeDomain(*domain))
	})
}

func runListStores(cmdCtx *commandContext, _ []string) error {
	return withInfra(cmdCtx, func(ctx context.Context, infra *adminInfra) error {
		stores, err := infra.Services.Stores.ListInstalled(ctx)
		if err != nil {
			return err
		}
		return renderStores(os.Stdout, stores)
	})
}

func renderStores(w io.Writer, stores []*model.Store) error {
	if len(stores) == 0 {
		return writeln(w, "(no installed stores)")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "DOMAIN\tMARKUP\tUPDATED"); err != nil {
		return err
	}
	for _, s := range stores {
		if err := writef(tw, "%s\t%.2f%%\t%s\n", s.Domain, s.MarkupPercentage, s.UpdatedAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// runCacheInvalidate drops the main store's cached catalog so the next job pages through it again.
func runCacheInvalidate(cmdCtx *commandContext, _ []string) error {
	if !cmdCtx.Config.Redis.Enabled {
		return writeln(os.Stderr, "Redis is disabled; there is no catalog cache to invalidate")
	}
	domain := cmdCtx.Config.MainStore.Domain
	if domain == "" {
		return errors.New("MAIN_STORE_DOMAIN is not configured")
	}
	return withInfra(cmdCtx, func(ctx context.Context, infra *adminInfra) error {
		cache := core.NewCatalogCache(core.CatalogCacheOptions{
			Cache: data.NewRedisCacheRepo(infra.Redis, cmdCtx.Config.Cache.KeyPrefix),
		})
		if err := cache.Invalidate(ctx, domain); err != nil {
			return err
		}
		return writef(os.Stdout, "catalog cache for %s invalidated\n", domain)
	})
}
