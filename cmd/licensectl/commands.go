package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"gmflicense/internal/license"
	"gmflicense/internal/storage/postgres"
	"gmflicense/pkg/contracts/domain"
)

var commands = []command{
	{name: "migrate", summary: "apply pending schema migrations", setup: migrateCmd},
	{name: "db-status", summary: "show schema version, plans and license counts", setup: dbStatusCmd},
	{name: "create-test-license", summary: "issue a license for testing", setup: createTestLicenseCmd},
	{name: "revoke", summary: "revoke an active license", setup: revokeCmd},
	{name: "add-plugin", summary: "register a plugin with its first version", setup: addPluginCmd},
	{name: "add-plugin-version", summary: "release a new version of a plugin", setup: addPluginVersionCmd},
	{name: "export-usage", summary: "export usage events to an Excel workbook", setup: exportUsageCmd},
}

func migrateCmd(fs *flag.FlagSet) action {
	return func(ctx context.Context, e *env) error {
		dsn, err := e.dsn()
		if err != nil {
			return err
		}
		if err := postgres.Migrate(ctx, dsn, e.logger); err != nil {
			return err
		}

		version, dirty, err := postgres.MigrationVersion(dsn)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "schema at version %d (dirty=%t)\n", version, dirty)
		return nil
	}
}

func dbStatusCmd(fs *flag.FlagSet) action {
	return func(ctx context.Context, e *env) error {
		dsn, err := e.dsn()
		if err != nil {
			return err
		}
		version, dirty, err := postgres.MigrationVersion(dsn)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}

		store, err := e.openStore(ctx)
		if err != nil {
			return err
		}
		plans, err := store.ListPlans(ctx)
		if err != nil {
			return fmt.Errorf("list plans: %w", err)
		}

		tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "schema version\t%d\n", version)
		fmt.Fprintf(tw, "schema dirty\t%t\n", dirty)
		for _, status := range []domain.LicenseStatus{domain.LicenseStatusActive, domain.LicenseStatusExpired, domain.LicenseStatusRevoked} {
			st := status
			_, total, err := store.ListLicenses(ctx, domain.LicenseFilter{Status: &st, Limit: 1})
			if err != nil {
				return fmt.Errorf("count %s licenses: %w", status, err)
			}
			fmt.Fprintf(tw, "licenses %s\t%d\n", strings.ToLower(string(status)), total)
		}
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "PLAN\tID\tTOKENS\tPRICE\tACTIVE")
		for _, p := range plans {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%t\n", p.Identifier, p.ID, p.Tokens, p.Price.StringFixed(2), p.IsActive)
		}
		return tw.Flush()
	}
}

func createTestLicenseCmd(fs *flag.FlagSet) action {
	plan := fs.String("plan", domain.ProductBasic, "product code of the plan (BSC, PRO, ENT)")
	days := fs.Int("days", 30, "days until the license expires")
	customer := fs.String("customer", "", "optional customer id")

	return func(ctx context.Context, e *env) error {
		if *days <= 0 {
			return usagef("-days must be positive")
		}
		code := strings.ToUpper(*plan)
		if !isProductCode(code) {
			return usagef("unknown product code %q", *plan)
		}

		svc, store, err := e.service(ctx)
		if err != nil {
			return err
		}
		p, err := store.GetPlanByIdentifier(ctx, code)
		if err != nil {
			return fmt.Errorf("plan %s: %w", code, err)
		}

		req := license.GenerateRequest{
			PlanID:         p.ID,
			ExpirationDate: time.Now().UTC().AddDate(0, 0, *days),
			Metadata:       map[string]interface{}{"createdBy": "licensectl", "testLicense": true},
		}
		if *customer != "" {
			req.CustomerID = customer
		}

		lic, err := svc.Generate(ctx, req)
		if err != nil {
			return err
		}

		e.logger.InfoContext(ctx, "test license created",
			slog.String("license_id", lic.ID),
			slog.String("plan", code))
		fmt.Fprintf(e.out, "%s\tplan=%s\ttokens=%d\texpires=%s\n",
			lic.Key, code, lic.TokensRemaining, lic.ExpirationDate.Format(time.RFC3339))
		return nil
	}
}

func revokeCmd(fs *flag.FlagSet) action {
	key := fs.String("key", "", "license key to revoke (required)")
	reason := fs.String("reason", "", "reason recorded in the usage log")

	return func(ctx context.Context, e *env) error {
		if *key == "" {
			return usagef("-key is required")
		}
		if !license.IsValidKey(*key) {
			return usagef("%q is not a well-formed license key", *key)
		}

		svc, _, err := e.service(ctx)
		if err != nil {
			return err
		}
		lic, err := svc.Revoke(ctx, *key, *reason)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "%s\tstatus=%s\n", lic.Key, lic.Status)
		return nil
	}
}

func addPluginCmd(fs *flag.FlagSet) action {
	name := fs.String("name", "", "display name (required)")
	identifier := fs.String("identifier", "", "unique identifier; defaults to the name")
	version := fs.String("version", "1.0.0", "first version")

	return func(ctx context.Context, e *env) error {
		if *name == "" {
			return usagef("-name is required")
		}
		if *identifier == "" {
			*identifier = *name
		}

		store, err := e.openStore(ctx)
		if err != nil {
			return err
		}
		p := domain.Plugin{Name: *name, Identifier: *identifier, IsActive: true}
		if err := store.CreatePlugin(ctx, &p); err != nil {
			return fmt.Errorf("create plugin: %w", err)
		}
		v := domain.PluginVersion{PluginID: p.ID, Version: *version, IsActive: true}
		if err := store.CreatePluginVersion(ctx, &v); err != nil {
			return fmt.Errorf("create plugin version: %w", err)
		}

		fmt.Fprintf(e.out, "%s\tname=%s\tversion=%s\n", p.ID, p.Name, v.Version)
		return nil
	}
}

func addPluginVersionCmd(fs *flag.FlagSet) action {
	pluginID := fs.String("plugin", "", "plugin id (required)")
	version := fs.String("version", "", "version label (required)")
	inactive := fs.Bool("inactive", false, "release the version as inactive")

	return func(ctx context.Context, e *env) error {
		if *pluginID == "" || *version == "" {
			return usagef("-plugin and -version are required")
		}

		store, err := e.openStore(ctx)
		if err != nil {
			return err
		}
		p, err := store.GetPlugin(ctx, *pluginID)
		if err != nil {
			return fmt.Errorf("plugin %s: %w", *pluginID, err)
		}
		v := domain.PluginVersion{PluginID: p.ID, Version: *version, IsActive: !*inactive}
		if err := store.CreatePluginVersion(ctx, &v); err != nil {
			return fmt.Errorf("create plugin version: %w", err)
		}

		fmt.Fprintf(e.out, "%s\tplugin=%s\tversion=%s\tactive=%t\n", v.ID, p.Name, v.Version, v.IsActive)
		return nil
	}
}

func exportUsageCmd(fs *flag.FlagSet) action {
	out := fs.String("out", "usage.xlsx", "output workbook path")
	since := fs.Duration("since", 30*24*time.Hour, "export events newer than this")
	limit := fs.Int("limit", 0, "maximum number of events; 0 exports all")

	return func(ctx context.Context, e *env) error {
		if *since <= 0 {
			return usagef("-since must be positive")
		}
		if *limit < 0 {
			return usagef("-limit must not be negative")
		}
		if !strings.HasSuffix(strings.ToLower(*out), ".xlsx") {
			return usagef("-out must name an .xlsx file")
		}

		store, err := e.openStore(ctx)
		if err != nil {
			return err
		}
		from := time.Now().UTC().Add(-*since)
		records, err := store.UsageSince(ctx, from, *limit)
		if err != nil {
			return fmt.Errorf("load usage: %w", err)
		}

		if err := writeUsageWorkbook(*out, from, records); err != nil {
			return err
		}

		e.logger.InfoContext(ctx, "usage exported",
			slog.String("path", *out),
			slog.Int("events", len(records)))
		fmt.Fprintf(e.out, "wrote %d events to %s\n", len(records), *out)
		return nil
	}
}

func isProductCode(code string) bool {
	for _, c := range domain.ProductCodes {
		if c == code {
			return true
		}
	}
	return false
}
