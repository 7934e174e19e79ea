package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"tokengate.org/internal/audit"
	"tokengate.org/internal/auth"
	"tokengate.org/internal/ids"
	"tokengate.org/internal/obs"
)

const usage = "usage: tokenctl [inspect|revoke] <credential|->, revoke-user <user-id>, purge"

func main() {
	log.SetFlags(0)
	var (
		dsn       = flag.String("dsn", os.Getenv("TOKENGATE_PG_DSN"), "PostgreSQL DSN")
		olderThan = flag.Duration("older-than", 0, "purge: only tokens that died at least this long ago")
		timeout   = flag.Duration("timeout", 30*time.Second, "overall command timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TOKENGATE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal(usage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = obs.WithRequestID(ctx, ids.RequestID())

	db, err := auth.OpenPG(*dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	c := &cli{store: auth.NewPGStore(db), out: os.Stdout, in: os.Stdin, now: time.Now}
	if err := c.run(ctx, flag.Args(), *olderThan); err != nil {
		log.Fatalf("tokenctl %s: %v", flag.Arg(0), err)
	}
}

type cli struct {
	store auth.TokenAdmin
	out   io.Writer
	in    io.Reader
	now   func() time.Time
}

func (c *cli) run(ctx context.Context, args []string, olderThan time.Duration) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "inspect":
		credential, err := c.credentialArg(args)
		if err != nil {
			return err
		}
		tok, err := c.store.Lookup(ctx, credential)
		if err != nil {
			return err
		}
		return c.printJSON(map[string]any{
			"id":         tok.ID,
			"user_id":    tok.UserID,
			"expires_at": tok.ExpiresAt.UTC(),
			"revoked":    tok.Revoked,
			"revoked_at": tok.RevokedAt,
			"created_at": tok.CreatedAt.UTC(),
			"live":       tok.Live(c.now()),
		})
	case "revoke":
		credential, err := c.credentialArg(args)
		if err != nil {
			return err
		}
		if err := c.store.Revoke(ctx, credential); err != nil {
			return err
		}
		_ = audit.LogEvent(ctx, audit.EventTokenRevoked, map[string]any{"scope": "token"})
		return c.printJSON(map[string]any{"revoked": 1})
	case "revoke-user":
		if len(args) < 2 {
			return errors.New("revoke-user requires a user id")
		}
		userID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || userID <= 0 {
			return fmt.Errorf("invalid user id %q", args[1])
		}
		n, err := c.store.RevokeByUser(ctx, userID)
		if err != nil {
			return err
		}
		_ = audit.LogEvent(ctx, audit.EventTokenRevoked, map[string]any{"scope": "user", "user_id": userID, "count": n})
		return c.printJSON(map[string]any{"revoked": n})
	case "purge":
		if olderThan < 0 {
			return errors.New("older-than must not be negative")
		}
		before := c.now().Add(-olderThan).UTC()
		n, err := c.store.PurgeDead(ctx, before)
		if err != nil {
			return err
		}
		_ = audit.LogEvent(ctx, audit.EventTokensPurged, map[string]any{"before": before.Format(time.RFC3339), "count": n})
		return c.printJSON(map[string]any{"purged": n})
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// credentialArg reads the credential from argv, or from stdin when the
// argument is "-" so that it stays out of shell history.
func (c *cli) credentialArg(args []string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("%s requires a credential", args[0])
	}
	if args[1] != "-" {
		return args[1], nil
	}
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read credential: %w", err)
	}
	credential := strings.TrimSpace(line)
	if credential == "" {
		return "", errors.New("empty credential on stdin")
	}
	return credential, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
