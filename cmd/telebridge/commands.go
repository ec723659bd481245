package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/telebridge/telebridge/pkg/models"
)

func commands() []*cli.Command {
	return []*cli.Command{
		runCommand(),
		accountCommand(),
		sourceCommand(),
		targetCommand(),
		mappingCommand(),
		failuresCommand(),
	}
}

// ok prints the success half of the (success, message) outcome the admin
// layer expects; errors bubble up to the CLI runner.
func ok(format string, args ...any) error {
	fmt.Printf("OK: "+format+"\n", args...)
	return nil
}

func accountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Manage Telegram accounts and their sessions",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register an account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true, Usage: "Friendly label"},
					&cli.StringFlag{Name: "phone", Required: true, Usage: "Phone number in international format"},
					&cli.IntFlag{Name: "api-id", Usage: "Telegram API id"},
					&cli.StringFlag{Name: "api-hash", Usage: "Telegram API hash"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					account := &models.Account{
						Name:        cmd.String("name"),
						PhoneNumber: cmd.String("phone"),
						APIID:       int(cmd.Int("api-id")),
						APIHash:     cmd.String("api-hash"),
						IsActive:    true,
					}
					if err := a.db.CreateAccount(ctx, account); err != nil {
						return err
					}
					return ok("account %d created (%s)", account.ID, account.DisplayName())
				},
			},
			{
				Name:  "list",
				Usage: "List accounts",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					accounts, err := a.db.ListAccounts(ctx)
					if err != nil {
						return err
					}
					for _, acc := range accounts {
						fmt.Printf("%d\t%s\t%s\t%s\n", acc.ID, acc.DisplayName(), acc.Status, acc.LastError)
					}
					return nil
				},
			},
			{
				Name:  "login",
				Usage: "Start the login flow (sends a verification code)",
				Flags: []cli.Flag{&cli.IntFlag{Name: "id", Required: true}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					if err := a.sessions.StartLogin(ctx, cmd.Int("id")); err != nil {
						return err
					}
					return ok("verification code sent, confirm with 'account code'")
				},
			},
			{
				Name:  "code",
				Usage: "Confirm the verification code",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "code", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					if err := a.sessions.ConfirmCode(ctx, cmd.Int("id"), cmd.String("code")); err != nil {
						return err
					}
					return ok("login successful")
				},
			},
			{
				Name:  "password",
				Usage: "Confirm the two-factor password",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					if err := a.sessions.ConfirmPassword(ctx, cmd.Int("id"), cmd.String("password")); err != nil {
						return err
					}
					return ok("two-factor login successful")
				},
			},
			{
				Name:  "status",
				Usage: "Check whether the session is still authorized",
				Flags: []cli.Flag{&cli.IntFlag{Name: "id", Required: true}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					if err := a.sessions.CheckStatus(ctx, cmd.Int("id")); err != nil {
						return err
					}
					return ok("session is active")
				},
			},
			{
				Name:  "logout",
				Usage: "Revoke the session and reset the account",
				Flags: []cli.Flag{&cli.IntFlag{Name: "id", Required: true}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					if err := a.sessions.Logout(ctx, cmd.Int("id")); err != nil {
						return err
					}
					return ok("logged out")
				},
			},
		},
	}
}

func sourceCommand() *cli.Command {
	return &cli.Command{
		Name:  "source",
		Usage: "Manage source channels",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a source channel",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "account", Required: true, Usage: "Owning account id"},
					&cli.StringFlag{Name: "identifier", Required: true, Usage: "Username, numeric id or invite link"},
					&cli.StringFlag{Name: "mode", Value: "copy", Usage: "copy or forward"},
					&cli.BoolFlag{Name: "show-source", Value: true, Usage: "Prefix copies with the source title"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					source := &models.Source{
						AccountID:       cmd.Int("account"),
						InputIdentifier: cmd.String("identifier"),
						Mode:            models.SourceMode(cmd.String("mode")),
						ShowSource:      cmd.Bool("show-source"),
						IsActive:        true,
					}
					if err := a.db.CreateSource(ctx, source); err != nil {
						return err
					}
					return ok("source %d created, validate with 'source validate'", source.ID)
				},
			},
			{
				Name:  "list",
				Usage: "List sources",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					sources, err := a.db.ListSources(ctx)
					if err != nil {
						return err
					}
					for _, s := range sources {
						fmt.Printf("%d\t%s\t%s\t%s\tcursor=%d\n",
							s.ID, s.DisplayIdentifier(), s.Mode, s.ValidationStatus, s.Cursor)
					}
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Resolve the source identifier via the owning account",
				Flags: []cli.Flag{&cli.IntFlag{Name: "id", Required: true}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					if err := a.srcValid.Validate(ctx, cmd.Int("id")); err != nil {
						return err
					}
					return ok("source validated")
				},
			},
		},
	}
}

func targetCommand() *cli.Command {
	return &cli.Command{
		Name:  "target",
		Usage: "Manage delivery targets",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a target (telegram channel or email address)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.IntFlag{Name: "account", Usage: "Delivery account id (telegram targets)"},
					&cli.StringFlag{Name: "channel", Usage: "Channel identifier (telegram targets)"},
					&cli.StringFlag{Name: "email", Usage: "Email address (email targets)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					target := &models.Target{
						Name:     cmd.String("name"),
						IsActive: true,
					}
					if cmd.String("email") != "" {
						target.Type = models.TargetEmail
						target.EmailAddress = cmd.String("email")
					} else {
						target.Type = models.TargetTelegram
						target.AccountID = sql.NullInt64{Int64: cmd.Int("account"), Valid: cmd.Int("account") != 0}
						target.ChannelIdentifier = cmd.String("channel")
					}
					if err := a.db.CreateTarget(ctx, target); err != nil {
						return err
					}
					return ok("target %d created, validate with 'target validate'", target.ID)
				},
			},
			{
				Name:  "list",
				Usage: "List targets",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					targets, err := a.db.ListTargets(ctx)
					if err != nil {
						return err
					}
					for _, t := range targets {
						dest := t.EmailAddress
						if t.Type == models.TargetTelegram {
							dest = t.ChannelIdentifier
						}
						fmt.Printf("%d\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Type, dest, t.ValidationStatus)
					}
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Validate a target",
				Flags: []cli.Flag{&cli.IntFlag{Name: "id", Required: true}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					if err := a.tgtValid.Validate(ctx, cmd.Int("id")); err != nil {
						return err
					}
					return ok("target validated")
				},
			},
		},
	}
}

func mappingCommand() *cli.Command {
	return &cli.Command{
		Name:  "mapping",
		Usage: "Manage source-target mappings",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Link a source to a target",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "source", Required: true},
					&cli.IntFlag{Name: "target", Required: true},
					&cli.IntFlag{Name: "delay", Usage: "Delivery delay in seconds"},
					&cli.IntFlag{Name: "retries", Value: 3, Usage: "Delivery retry budget"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					mapping := &models.Mapping{
						SourceID:     cmd.Int("source"),
						TargetID:     cmd.Int("target"),
						DelaySeconds: int(cmd.Int("delay")),
						MaxRetries:   int(cmd.Int("retries")),
						IsActive:     true,
					}
					if err := a.db.CreateMapping(ctx, mapping); err != nil {
						return err
					}
					return ok("mapping %d created", mapping.ID)
				},
			},
			{
				Name:  "list",
				Usage: "List mappings",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					mappings, err := a.db.ListMappings(ctx)
					if err != nil {
						return err
					}
					for _, m := range mappings {
						fmt.Printf("%d\tsource=%d\ttarget=%d\tdelay=%ds\tretries=%d\tactive=%v\n",
							m.ID, m.SourceID, m.TargetID, m.DelaySeconds, m.MaxRetries, m.IsActive)
					}
					return nil
				},
			},
			{
				Name:  "process",
				Usage: "Run one processing cycle for a mapping's source",
				Flags: []cli.Flag{&cli.IntFlag{Name: "id", Required: true}},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, cleanup, err := newApp(ctx)
					if err != nil {
						return err
					}
					defer cleanup()

					if err := a.engine.ProcessMapping(ctx, cmd.Int("id")); err != nil {
						return err
					}
					return ok("mapping processed")
				},
			},
		},
	}
}

func failuresCommand() *cli.Command {
	return &cli.Command{
		Name:  "failures",
		Usage: "List permanent delivery failures",
		Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			failures, err := a.db.ListFailedDeliveries(ctx, int(cmd.Int("limit")))
			if err != nil {
				return err
			}
			for _, f := range failures {
				fmt.Printf("%s\tmapping=%d\tmessage=%d\tattempts=%d\t%s\n",
					f.CreatedAt.Format("2006-01-02 15:04:05"), f.MappingID, f.MessageID, f.Attempts, f.LastError)
			}
			return nil
		},
	}
}
