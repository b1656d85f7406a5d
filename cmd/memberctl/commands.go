package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"MemberSend/internal/csvparser"
	"MemberSend/internal/db"
	"MemberSend/internal/models"
)

const commandTimeout = 5 * time.Minute

func command(logger *zap.Logger) *cobra.Command {
	c := &cobra.Command{
		SilenceUsage: true,
		Use:          "memberctl",
		Long:         "memberctl administers MemberSend tenants directly against the database.",
	}
	c.PersistentFlags().String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")

	c.AddCommand(
		importCommand(logger),
		setPlanCommand(logger),
		setSenderCommand(logger),
		tokenCommand(),
	)
	return c
}

func openStore(cmd *cobra.Command) (*db.Store, context.Context, context.CancelFunc, error) {
	url, _ := cmd.Flags().GetString("database-url")
	if url == "" {
		return nil, nil, nil, errors.New("database url is required (--database-url or DATABASE_URL)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	store, err := db.New(ctx, url)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}

	return store, ctx, cancel, nil
}

func importCommand(logger *zap.Logger) *cobra.Command {
	var (
		tenantID string
		file     string
		maxRows  int
	)

	c := &cobra.Command{
		SilenceUsage: true,
		Use:          "import",
		Short:        "Upsert subscribers for a tenant from a membership CSV.",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := csvparser.ParseFile(file, maxRows)
			if err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}

			store, ctx, cancel, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer store.Close()

			if _, err := store.EnsureTenant(ctx, tenantID, time.Now()); err != nil {
				return fmt.Errorf("ensure tenant: %w", err)
			}

			n, err := store.UpsertImportedSubscribers(ctx, tenantID, res.Subscribers, time.Now())
			if err != nil {
				return fmt.Errorf("import subscribers: %w", err)
			}

			for _, skipped := range res.Skipped {
				logger.Warn("row skipped", zap.Int("line", skipped.Line), zap.String("reason", skipped.Reason))
			}
			logger.Info("subscribers imported",
				zap.String("tenant_id", tenantID),
				zap.Int("imported", n),
				zap.Int("skipped", len(res.Skipped)),
			)
			return nil
		},
	}

	c.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	c.Flags().StringVar(&file, "file", "", "path to the CSV export")
	c.Flags().IntVar(&maxRows, "max-rows", csvparser.DefaultMaxRows, "maximum data rows to read")
	_ = c.MarkFlagRequired("tenant")
	_ = c.MarkFlagRequired("file")
	return c
}

func setPlanCommand(logger *zap.Logger) *cobra.Command {
	var (
		tenantID string
		plan     string
		anchor   string
	)

	c := &cobra.Command{
		SilenceUsage: true,
		Use:          "set-plan",
		Short:        "Record a tenant's subscription plan and billing anchor.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := models.Plan(plan)
			if !p.Valid() {
				return fmt.Errorf("unknown plan %q", plan)
			}

			at := time.Now()
			if anchor != "" {
				parsed, err := time.Parse(time.DateOnly, anchor)
				if err != nil {
					return fmt.Errorf("parse anchor: %w", err)
				}
				at = parsed
			}

			store, ctx, cancel, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer store.Close()

			if _, err := store.EnsureTenant(ctx, tenantID, time.Now()); err != nil {
				return fmt.Errorf("ensure tenant: %w", err)
			}
			if err := store.SetPlan(ctx, tenantID, p, at); err != nil {
				return fmt.Errorf("set plan: %w", err)
			}

			logger.Info("plan updated",
				zap.String("tenant_id", tenantID),
				zap.String("plan", plan),
				zap.Time("billing_anchor", models.UTCDate(at)),
			)
			return nil
		},
	}

	c.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	c.Flags().StringVar(&plan, "plan", "", "free, starter, growth or pro")
	c.Flags().StringVar(&anchor, "anchor", "", "billing anchor date (YYYY-MM-DD), defaults to today")
	_ = c.MarkFlagRequired("tenant")
	_ = c.MarkFlagRequired("plan")
	return c
}

func setSenderCommand(logger *zap.Logger) *cobra.Command {
	var (
		tenantID string
		fromName string
		domain   string
		verified bool
	)

	c := &cobra.Command{
		SilenceUsage: true,
		Use:          "set-sender",
		Short:        "Set a tenant's display name and custom sending domain.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, ctx, cancel, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer store.Close()

			if _, err := store.EnsureTenant(ctx, tenantID, time.Now()); err != nil {
				return fmt.Errorf("ensure tenant: %w", err)
			}
			if err := store.SetSender(ctx, tenantID, fromName, domain, verified); err != nil {
				return fmt.Errorf("set sender: %w", err)
			}

			logger.Info("sender updated",
				zap.String("tenant_id", tenantID),
				zap.String("custom_domain", domain),
				zap.Bool("verified", verified),
			)
			return nil
		},
	}

	c.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	c.Flags().StringVar(&fromName, "from-name", "", "display name on outgoing mail")
	c.Flags().StringVar(&domain, "domain", "", "custom sending domain, empty for the platform domain")
	c.Flags().BoolVar(&verified, "verified", false, "mark the custom domain as verified")
	_ = c.MarkFlagRequired("tenant")
	return c
}

// tokenCommand mints a bearer token for local development.
func tokenCommand() *cobra.Command {
	var (
		tenantID string
		secret   string
		ttl      time.Duration
	)

	c := &cobra.Command{
		SilenceUsage: true,
		Use:          "token",
		Short:        "Print an HS256 bearer token for a tenant.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("secret is required (--secret or JWT_SECRET)")
			}

			now := time.Now()
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject:   tenantID,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			}).SignedString([]byte(secret))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	c.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	c.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "signing secret")
	c.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = c.MarkFlagRequired("tenant")
	return c
}
