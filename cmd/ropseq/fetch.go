package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ib-77/ropseq/internal/config"
	"github.com/ib-77/ropseq/pkg/rop/chain"
	"github.com/ib-77/ropseq/pkg/seq/engine"
	"github.com/ib-77/ropseq/pkg/seq/fault"
	"github.com/ib-77/ropseq/pkg/seq/source"
	"github.com/ib-77/ropseq/pkg/seq/store/localfs"
	"github.com/ib-77/ropseq/pkg/seq/store/sqlstore"
)

type fetchFlags struct {
	method        string
	params        map[string]string
	decode        bool
	publicKeyFile string
	signatureKey  string
	payloadKey    string
	store         string
}

func newFetchCmd(a *app) *cobra.Command {
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch [address]",
		Short: "Run a sequence and print the decoded JSON",
		Long: `Fetches address (or the run block of the config file), decodes it and
prints the result. With --store the value is also written to a local store:

  ropseq fetch https://api.example.com/users/{id} -p id=42 --store file:users/42`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := f.runConfig(a.cfg, args)
			if err != nil {
				return err
			}

			e, closeStores, err := newEngine(cmd.Context(), a)
			if err != nil {
				return err
			}
			defer closeStores()
			defer func() {
				if err := e.Close(context.WithoutCancel(cmd.Context())); err != nil {
					a.logger.Warn("engine shutdown", zap.Error(err))
				}
			}()

			res := engine.Run[json.RawMessage](cmd.Context(), e, rc)
			return chain.Finally(chain.Start(cmd.Context(), res),
				func(_ context.Context, v json.RawMessage) error {
					out, err := json.MarshalIndent(v, "", "  ")
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
					return err
				},
				func(_ context.Context, err error) error {
					return errors.New(fault.Describe(err))
				},
				func(_ context.Context, err error) error {
					return fmt.Errorf("cancelled: %w", err)
				})
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.method, "method", "X", "", "GET, POST, PUT or DELETE")
	fl.StringToStringVarP(&f.params, "param", "p", nil, "address parameter name=value, repeatable")
	fl.BoolVar(&f.decode, "decode", false, "base64 decode every string field")
	fl.StringVar(&f.publicKeyFile, "public-key", "", "PEM public key; enables signature verification")
	fl.StringVar(&f.signatureKey, "signature-key", "signature", "field holding the signature")
	fl.StringVar(&f.payloadKey, "payload-key", "payload", "field holding the signed payload")
	fl.StringVar(&f.store, "store", "", "second stage as kind:name/key")
	return cmd
}

func (f *fetchFlags) runConfig(cfg *config.Config, args []string) (source.RunConfig, error) {
	if len(args) == 0 {
		if cfg.Run == nil {
			return source.RunConfig{}, errors.New("no address given and no run in config")
		}
		return cfg.Run.RunConfig()
	}

	rc := config.RunConfig{
		Address: args[0],
		Params:  f.params,
		Method:  f.method,
	}
	if f.decode || f.publicKeyFile != "" {
		rc.Encryption = &config.EncryptionConfig{
			PublicKeyFile: f.publicKeyFile,
			SignatureKey:  f.signatureKey,
			PayloadKey:    f.payloadKey,
		}
	}
	if f.store != "" {
		second, err := parseStore(f.store)
		if err != nil {
			return source.RunConfig{}, err
		}
		rc.Second = &second
	}
	return rc.RunConfig()
}

// parseStore reads kind:name/key.
func parseStore(s string) (config.StageConfig, error) {
	kind, rest, ok := strings.Cut(s, ":")
	name, key, ok2 := strings.Cut(rest, "/")
	if !ok || !ok2 {
		return config.StageConfig{}, fmt.Errorf("--store %q: want kind:name/key", s)
	}
	return config.StageConfig{Kind: kind, Name: name, Key: key}, nil
}

// newEngine builds an engine with the store backends the config enables.
func newEngine(ctx context.Context, a *app) (*engine.Engine, func(), error) {
	timeout, err := a.cfg.Engine.TimeoutDuration()
	if err != nil {
		return nil, nil, err
	}
	widths, err := a.cfg.Engine.Widths()
	if err != nil {
		return nil, nil, err
	}
	opts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithTimeout(timeout),
		engine.WithLaneWidths(widths),
	}

	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if root := a.cfg.Stores.FileRoot; root != "" {
		fs, err := localfs.New(root)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, engine.WithStore(source.File, fs))
	}
	if path := a.cfg.Stores.DatabasePath; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, err
		}
		db, err := sqlstore.Open(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		opts = append(opts, engine.WithStore(source.Database, db))
	}
	return engine.New(opts...), closeAll, nil
}
