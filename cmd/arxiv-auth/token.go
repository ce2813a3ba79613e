package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/arxiv/arxiv-auth/domain"
	"github.com/arxiv/arxiv-auth/jwt"
	"github.com/spf13/cobra"
)

func newTokenCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Encode and decode claims tokens with JWT_SECRET",
	}
	cmd.AddCommand(newTokenEncodeCmd(g), newTokenDecodeCmd(g))
	return cmd
}

func (g *globalFlags) codec() (*jwt.Codec, error) {
	cfg, err := g.read()
	if err != nil {
		return nil, err
	}
	if cfg.Session.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}
	return jwt.NewCodec(jwt.Config{Secret: []byte(cfg.Session.JWTSecret)})
}

func newTokenEncodeCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Sign a session record read as JSON from --file or stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			codec, err := g.codec()
			if err != nil {
				return err
			}
			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var rec domain.SessionRecord
			if err := json.NewDecoder(in).Decode(&rec); err != nil {
				return fmt.Errorf("read session record: %w", err)
			}
			sess, err := domain.FromRecord(rec)
			if err != nil {
				return err
			}
			token, err := codec.Encode(sess)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "session record JSON (default stdin)")
	return cmd
}

func newTokenDecodeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "decode TOKEN",
		Short: "Verify a claims token and print its session record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := g.codec()
			if err != nil {
				return err
			}
			sess, err := codec.Decode(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), domain.ToRecord(sess))
		},
	}
}
