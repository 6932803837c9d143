package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/dua-ia/dua-credits/internal/auth"
	"github.com/dua-ia/dua-credits/internal/bootstrap"
	"github.com/dua-ia/dua-credits/internal/catalog"
	"github.com/dua-ia/dua-credits/internal/config"
	"github.com/dua-ia/dua-credits/internal/credits"
	"github.com/dua-ia/dua-credits/internal/logging"
	"github.com/dua-ia/dua-credits/internal/metrics"
	"github.com/dua-ia/dua-credits/internal/userstore"
	"github.com/dua-ia/dua-credits/internal/version"
)

const cliActor = "creditsctl"

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "creditsctl: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	stdout io.Writer
	stderr io.Writer
}

// env is everything a ledger command needs, opened from the config under --root.
type env struct {
	cfg      config.CreditsConfig
	stores   *bootstrap.Stores
	service  *credits.Service
	logger   zerolog.Logger
	identity userstore.Store
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	a := &app{stdout: stdout, stderr: stderr}
	return &cli.Command{
		Name:      "creditsctl",
		Usage:     "administer the DUA credits ledger",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Value: ".", Usage: "directory holding config/ and .env"},
		},
		Commands: []*cli.Command{
			a.initCommand(),
			{
				Name:  "catalog",
				Usage: "inspect operation prices",
				Commands: []*cli.Command{{
					Name:  "list",
					Usage: "list every operation with its effective cost",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "category", Usage: "only list one category"},
					},
					Action: a.withEnv(a.catalogList),
				}},
			},
			{
				Name:  "balance",
				Usage: "inspect balances",
				Commands: []*cli.Command{{
					Name:      "show",
					Usage:     "show a user's balance",
					ArgsUsage: "<user-id|email>",
					Action:    a.withEnv(a.balanceShow),
				}},
			},
			{
				Name:      "grant",
				Usage:     "add credits to a user",
				ArgsUsage: "<user-id|email> <amount>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Value: "manual grant"},
				},
				Action: a.withEnv(a.grant),
			},
			{
				Name:      "refund",
				Usage:     "refund a charge transaction",
				ArgsUsage: "<transaction-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Value: "manual refund"},
				},
				Action: a.withEnv(a.refund),
			},
			{
				Name:  "invite",
				Usage: "manage invite codes",
				Commands: []*cli.Command{
					{
						Name:  "generate",
						Usage: "create invite codes",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "count", Value: 1},
							&cli.Int64Flag{Name: "credits", Value: 100},
							&cli.StringFlag{Name: "prefix", Value: "DUA"},
						},
						Action: a.withEnv(a.inviteGenerate),
					},
					{
						Name:  "list",
						Usage: "list recent invite codes",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Value: 50},
						},
						Action: a.withEnv(a.inviteList),
					},
				},
			},
			{
				Name:  "token",
				Usage: "issue bearer tokens",
				Commands: []*cli.Command{{
					Name:      "issue",
					Usage:     "issue a signed token for email, creating the user if needed",
					ArgsUsage: "<email>",
					Flags: []cli.Flag{
						&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
					},
					Action: a.withEnv(a.tokenIssue),
				}},
			},
			{
				Name:  "users",
				Usage: "manage identities",
				Commands: []*cli.Command{
					{
						Name:      "promote",
						Usage:     "set a user's role",
						ArgsUsage: "<email> <root_admin|admin|user>",
						Action:    a.withEnv(a.usersPromote),
					},
					{
						Name:   "list",
						Usage:  "list known users",
						Action: a.withEnv(a.usersList),
					},
				},
			},
			{
				Name:  "version",
				Usage: "print build information",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Fprintln(a.stdout, version.FullInfo())
					return nil
				},
			},
		},
	}
}

func (a *app) initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "generate config/setting.ini and environment overrides",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Value: "dev", Usage: "environment name"},
			&cli.StringFlag{Name: "email", Usage: "root administrator email"},
			&cli.StringFlag{Name: "driver", Value: "sqlite", Usage: "sqlite or postgres"},
			&cli.StringFlag{Name: "ledger-path", Usage: "ledger SQLite path (default ~/.dua/ledger.db)"},
			&cli.StringFlag{Name: "dsn", Usage: "postgres DSN"},
			&cli.StringFlag{Name: "gate-mode", Value: "check_then_deduct", Usage: "check_then_deduct or reserve"},
			&cli.StringFlag{Name: "secret", Usage: "token signing secret"},
			&cli.BoolFlag{Name: "force", Usage: "overwrite existing files"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			opts := bootstrap.InitOptions{
				Root:        cmd.String("root"),
				Environment: cmd.String("env"),
				AdminEmail:  cmd.String("email"),
				Driver:      cmd.String("driver"),
				LedgerPath:  cmd.String("ledger-path"),
				DatabaseDSN: cmd.String("dsn"),
				GateMode:    cmd.String("gate-mode"),
				AuthSecret:  cmd.String("secret"),
				Force:       cmd.Bool("force"),
			}
			if err := bootstrap.Validate(opts); err != nil {
				return err
			}
			if err := bootstrap.Init(opts); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "credits config initialised")
			return nil
		},
	}
}

func (a *app) withEnv(fn func(ctx context.Context, cmd *cli.Command, e *env) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.LoadCreditsConfig(cmd.String("root"))
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, closer, err := logging.NewLogger(logging.Options{
			Environment: cfg.Environment,
			Level:       cfg.LogLevel,
			Service:     cliActor,
			Stdout:      a.stderr,
		})
		if err != nil {
			return err
		}
		defer closer.Close()

		stores, err := bootstrap.OpenStores(cfg)
		if err != nil {
			return err
		}
		defer stores.Close()

		dispatcher := bootstrap.NewDispatcher(cfg.Hooks, logger)
		defer dispatcher.Close()

		svc, err := bootstrap.NewService(cfg, stores, dispatcher, metrics.NewCollector(), logger)
		if err != nil {
			return err
		}
		return fn(ctx, cmd, &env{cfg: cfg, stores: stores, service: svc, logger: logger, identity: stores.Identity})
	}
}

// resolveUser maps an email to its identity id; anything else is taken as an id.
func (e *env) resolveUser(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("user is required")
	}
	if !strings.Contains(ref, "@") {
		return ref, nil
	}
	u, err := e.identity.EnsureUser(ctx, ref, "")
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func requireArgs(cmd *cli.Command, n int) error {
	if cmd.Args().Len() < n {
		return fmt.Errorf("usage: %s %s", cmd.FullName(), cmd.ArgsUsage)
	}
	return nil
}

func (a *app) catalogList(ctx context.Context, cmd *cli.Command, e *env) error {
	prices, err := e.service.Prices(ctx)
	if err != nil {
		return err
	}
	if category := strings.TrimSpace(cmd.String("category")); category != "" {
		prices = catalog.Select(prices, catalog.ByCategory(catalog.Category(category)))
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tCATEGORY\tCOST\tSOURCE")
	for _, p := range prices {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", p.Name, p.Category, p.Cost, p.Source)
	}
	return tw.Flush()
}

func (a *app) balanceShow(ctx context.Context, cmd *cli.Command, e *env) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	userID, err := e.resolveUser(ctx, cmd.Args().Get(0))
	if err != nil {
		return err
	}
	bal, err := e.service.Balance(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "user=%s total=%d used=%d available=%d\n", userID, bal.TotalCredits, bal.UsedCredits, bal.Available())
	return nil
}

func (a *app) grant(ctx context.Context, cmd *cli.Command, e *env) error {
	if err := requireArgs(cmd, 2); err != nil {
		return err
	}
	userID, err := e.resolveUser(ctx, cmd.Args().Get(0))
	if err != nil {
		return err
	}
	amount, err := strconv.ParseInt(cmd.Args().Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("amount must be an integer: %w", err)
	}
	receipt, err := e.service.Grant(ctx, userID, amount, cmd.String("reason"), cliActor)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "granted %d to %s (tx %s, available %d)\n", amount, userID, receipt.Transaction.ID, receipt.Balance.Available())
	return nil
}

func (a *app) refund(ctx context.Context, cmd *cli.Command, e *env) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	receipt, err := e.service.Refund(ctx, cmd.Args().Get(0), cmd.String("reason"), cliActor)
	if err != nil {
		return err
	}
	if receipt.Duplicate {
		fmt.Fprintf(a.stdout, "already refunded (tx %s)\n", receipt.Transaction.ID)
		return nil
	}
	fmt.Fprintf(a.stdout, "refunded %d to %s (tx %s, available %d)\n",
		receipt.Transaction.Delta, receipt.Transaction.UserID, receipt.Transaction.ID, receipt.Balance.Available())
	return nil
}

func (a *app) inviteGenerate(ctx context.Context, cmd *cli.Command, e *env) error {
	codes, err := e.service.CreateInvites(ctx, cmd.Int("count"), cmd.Int64("credits"), cmd.String("prefix"), cliActor)
	if err != nil {
		return err
	}
	for _, c := range codes {
		fmt.Fprintf(a.stdout, "%s\t%d\n", c.Code, c.CreditsGranted)
	}
	return nil
}

func (a *app) inviteList(ctx context.Context, cmd *cli.Command, e *env) error {
	codes, err := e.service.Invites(ctx, cmd.Int("limit"))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tCREDITS\tACTIVE\tUSED_BY")
	for _, c := range codes {
		fmt.Fprintf(tw, "%s\t%d\t%t\t%s\n", c.Code, c.CreditsGranted, c.Active, c.UsedBy)
	}
	return tw.Flush()
}

func (a *app) tokenIssue(ctx context.Context, cmd *cli.Command, e *env) error {
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	if e.cfg.AuthDisabled {
		e.logger.Warn().Msg("auth is disabled; the daemon will ignore this token")
	}
	u, err := e.identity.EnsureUser(ctx, cmd.Args().Get(0), "")
	if err != nil {
		return err
	}
	token, err := auth.NewManager(e.cfg.AuthSecret).IssueToken(u.ID, u.Email, cmd.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, token)
	return nil
}

func (a *app) usersPromote(ctx context.Context, cmd *cli.Command, e *env) error {
	if err := requireArgs(cmd, 2); err != nil {
		return err
	}
	role, err := userstore.ParseRole(cmd.Args().Get(1))
	if err != nil {
		return err
	}
	u, err := e.identity.EnsureRole(ctx, cmd.Args().Get(0), role)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s is now %s (id %s)\n", u.Email, u.Role, u.ID)
	return nil
}

func (a *app) usersList(ctx context.Context, _ *cli.Command, e *env) error {
	users, err := e.identity.ListUsers(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tSTATUS")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Role, u.Status)
	}
	return tw.Flush()
}
