package main

import (
	"fmt"
	"time"

	"github.com/arxiv/arxiv-auth/legacy"
	"github.com/spf13/cobra"
)

func newCookieCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookie",
		Short: "Pack and unpack classic session cookies with CLASSIC_SESSION_HASH",
	}
	cmd.AddCommand(newCookiePackCmd(g), newCookieUnpackCmd(g))
	return cmd
}

func (g *globalFlags) cookieCodec() (*legacy.CookieCodec, error) {
	cfg, err := g.read()
	if err != nil {
		return nil, err
	}
	if cfg.Classic.SessionHash == "" {
		return nil, fmt.Errorf("CLASSIC_SESSION_HASH is not set")
	}
	scheme, err := legacy.ParseScheme(cfg.Classic.SignatureScheme)
	if err != nil {
		return nil, err
	}
	return legacy.NewCookieCodec(cfg.Classic.SessionHash, cfg.Session.Duration, scheme)
}

func newCookiePackCmd(g *globalFlags) *cobra.Command {
	var (
		ck     legacy.Cookie
		issued int64
	)
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Print a signed classic cookie",
		RunE: func(cmd *cobra.Command, _ []string) error {
			codec, err := g.cookieCodec()
			if err != nil {
				return err
			}
			ck.IssuedAt = time.Now()
			if issued > 0 {
				ck.IssuedAt = legacy.FromEpoch(issued)
			}
			value, err := codec.Pack(ck)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&ck.SessionID, "session-id", "", "classic session ID")
	f.StringVar(&ck.UserID, "user-id", "", "user ID")
	f.StringVar(&ck.IP, "ip", "", "client IPv4 address")
	f.IntVar(&ck.Capabilities, "capabilities", 0, "capability bits")
	f.Int64Var(&issued, "issued", 0, "issue time in classic epoch seconds (default now)")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

type unpackedCookie struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	IP           string `json:"ip"`
	IssuedAt     string `json:"issued_at"`
	ExpiresAt    string `json:"expires_at"`
	Capabilities int    `json:"capabilities"`
}

func newCookieUnpackCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unpack COOKIE",
		Short: "Verify a classic cookie and print its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := g.cookieCodec()
			if err != nil {
				return err
			}
			ck, err := codec.Unpack(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), unpackedCookie{
				SessionID:    ck.SessionID,
				UserID:       ck.UserID,
				IP:           ck.IP,
				IssuedAt:     ck.IssuedAt.UTC().Format(time.RFC3339),
				ExpiresAt:    ck.ExpiresAt.UTC().Format(time.RFC3339),
				Capabilities: ck.Capabilities,
			})
		},
	}
}
