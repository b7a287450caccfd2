package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	echoapi "github.com/trezcool/masomo-proctor/apps/api/echo"
	"github.com/trezcool/masomo-proctor/core"
	"github.com/trezcool/masomo-proctor/core/integrity"
	"github.com/trezcool/masomo-proctor/core/session"
	"github.com/trezcool/masomo-proctor/storage/database"
)

var (
	gooseRunFunc   = database.Migrate // mockable
	isTerminalFunc = func(w io.Writer) bool { // mockable
		f, ok := w.(*os.File)
		return ok && term.IsTerminal(int(f.Fd()))
	}

	errHelp = errors.New("help provided")
)

// listener streams the violations published by the API servers.
type listener interface {
	Listen(ctx context.Context, fn func(session.Record)) error
}

type commandLine struct {
	conf     *core.Config
	db       *sql.DB
	repo     session.Repository
	listener listener
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run the database migrations (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  token -id ID -username USERNAME [-email EMAIL] [-role student|teacher|admin] - issue an API token")
	fmt.Fprintln(cli.out, "  violations [-session ID] [-student ID] [-quiz ID] [-type T1,T2] [-severity S1,S2] [-from TIME] [-to TIME] [-limit N] [-json] - list violations")
	fmt.Fprintln(cli.out, "  purge -before TIME | -older-than DURATION - delete old violations")
	fmt.Fprintln(cli.out, "  watch - print violations as they are published")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "token":
		cmd := flag.NewFlagSet("token", flag.ContinueOnError)
		cmd.SetOutput(cli.out)
		id := cmd.String("id", "", "The user's ID")
		uname := cmd.String("username", "", "The user's username")
		email := cmd.String("email", "", "The user's email")
		role := cmd.String("role", "student", "One of student, teacher or admin")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *id == "" || *uname == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.token(*id, *uname, *email, *role)

	case "violations":
		cmd := flag.NewFlagSet("violations", flag.ContinueOnError)
		cmd.SetOutput(cli.out)
		sessionID := cmd.String("session", "", "Filter by session ID")
		studentID := cmd.String("student", "", "Filter by student ID")
		quizID := cmd.String("quiz", "", "Filter by quiz ID")
		types := cmd.String("type", "", "Comma separated violation types")
		sevs := cmd.String("severity", "", "Comma separated severities")
		from := cmd.String("from", "", "RFC 3339 lower bound")
		to := cmd.String("to", "", "RFC 3339 upper bound")
		limit := cmd.Int("limit", session.DefaultQueryLimit, "Maximum number of violations")
		asJSON := cmd.Bool("json", false, "Print JSON even on a terminal")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}

		filter := session.QueryFilter{
			SessionID: *sessionID,
			StudentID: *studentID,
			QuizID:    *quizID,
			Limit:     *limit,
		}
		for _, t := range splitList(*types) {
			vt := integrity.ViolationType(t)
			if !vt.Valid() {
				return fmt.Errorf("unknown violation type %q", t)
			}
			filter.Types = append(filter.Types, vt)
		}
		for _, s := range splitList(*sevs) {
			sev := integrity.Severity(s)
			if !sev.Valid() {
				return fmt.Errorf("unknown severity %q", s)
			}
			filter.Severities = append(filter.Severities, sev)
		}
		var err error
		if filter.From, err = parseTime("from", *from); err != nil {
			return err
		}
		if filter.To, err = parseTime("to", *to); err != nil {
			return err
		}
		return cli.violations(ctx, filter, *asJSON)

	case "purge":
		cmd := flag.NewFlagSet("purge", flag.ContinueOnError)
		cmd.SetOutput(cli.out)
		before := cmd.String("before", "", "Delete violations that occurred before this RFC 3339 time")
		olderThan := cmd.Duration("older-than", 0, "Delete violations older than this duration, e.g. 720h")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}

		var cutoff time.Time
		switch {
		case *before != "" && *olderThan != 0:
			return errors.New("-before and -older-than are mutually exclusive")
		case *before != "":
			t, err := parseTime("before", *before)
			if err != nil {
				return err
			}
			cutoff = t
		case *olderThan > 0:
			cutoff = time.Now().UTC().Add(-*olderThan)
		default:
			cmd.Usage()
			return errHelp
		}
		return cli.purge(ctx, cutoff)

	case "watch":
		return cli.watch(ctx)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) migrate(args []string) error {
	return gooseRunFunc(cli.db, args[0], args[1:]...)
}

func (cli *commandLine) token(id, uname, email, role string) error {
	actor := session.Actor{ID: id, Username: uname, Email: email}
	switch role {
	case "student":
		actor.Roles = []string{session.RoleStudent}
	case "teacher":
		actor.Roles = []string{session.RoleTeacher}
	case "admin":
		actor.Roles = []string{session.RoleAdmin}
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	token, err := echoapi.GenerateToken(echoapi.NewClaims(actor, cli.conf), cli.conf.SecretKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}

func (cli *commandLine) violations(ctx context.Context, filter session.QueryFilter, asJSON bool) error {
	filter.Clean()
	recs, err := cli.repo.QueryViolations(ctx, filter)
	if err != nil {
		return err
	}

	if asJSON || !isTerminalFunc(cli.out) {
		enc := json.NewEncoder(cli.out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSESSION\tSTUDENT\tQUIZ\tTYPE\tSEVERITY\tDESCRIPTION")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.OccurredAt.Format(time.RFC3339), r.SessionID, r.StudentID, r.QuizID, r.Type, r.Severity, r.Description)
	}
	return w.Flush()
}

func (cli *commandLine) purge(ctx context.Context, before time.Time) error {
	n, err := cli.repo.DeleteViolationsBefore(ctx, before)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "deleted %d violation(s) older than %s\n", n, before.Format(time.RFC3339))
	return nil
}

// watch prints the published violations as JSON lines until ctx is done.
func (cli *commandLine) watch(ctx context.Context) error {
	if cli.listener == nil {
		return errors.New("watch: redis is not configured")
	}
	enc := json.NewEncoder(cli.out)
	err := cli.listener.Listen(ctx, func(rec session.Record) {
		_ = enc.Encode(rec)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func splitList(s string) []string {
	var vals []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			vals = append(vals, v)
		}
	}
	return vals
}

func parseTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("-%s must be an RFC 3339 time (got %q)", name, raw)
	}
	return t, nil
}
