package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ib-77/ropseq/pkg/seq/codec"
	"github.com/ib-77/ropseq/pkg/seq/signature"
)

func newEncodeCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Base64 encode every string field of a JSON object",
		Long:  "Reads a JSON object from --in (or stdin) and prints it with every string field base64 encoded, the form fetch --decode reads.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, err := readObject(cmd, in)
			if err != nil {
				return err
			}
			return writeObject(cmd, codec.EncodeFields(obj))
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "input file, stdin when empty")
	return cmd
}

func newSignCmd() *cobra.Command {
	var in, keyFile, signatureKey, payloadKey string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign the payload field of a JSON object",
		Long: `Reads a JSON object, signs the string in its payload field with the private
key and prints the object with the signature field added:

  ropseq encode -i body.json | ropseq sign --key server.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pemText, err := os.ReadFile(keyFile)
			if err != nil {
				return err
			}
			priv, err := signature.ParsePrivateKey(string(pemText))
			if err != nil {
				return err
			}
			obj, err := readObject(cmd, in)
			if err != nil {
				return err
			}
			payload, ok := obj[payloadKey].(string)
			if !ok {
				return fmt.Errorf("field %q is missing or not a string", payloadKey)
			}
			sig, err := signature.Sign(priv, []byte(payload))
			if err != nil {
				return err
			}
			obj[signatureKey] = sig
			return writeObject(cmd, obj)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&in, "in", "i", "", "input file, stdin when empty")
	fl.StringVar(&keyFile, "key", "", "PEM private key")
	fl.StringVar(&signatureKey, "signature-key", "signature", "field to write the signature to")
	fl.StringVar(&payloadKey, "payload-key", "payload", "field to sign")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	var alg, out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key pair",
		Long:  "Writes <out>.pem (private) and <out>.pub.pem (public). Algorithms: rsa, ed25519, dilithium3.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pubPEM, err := signature.GenerateKey(signature.Algorithm(alg))
			if err != nil {
				return err
			}
			privPEM, err := signature.MarshalPrivateKeyPEM(priv)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out+".pem", []byte(privPEM), 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(out+".pub.pem", []byte(pubPEM), 0o644); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s.pem and %s.pub.pem\n", out, out)
			return err
		},
	}
	cmd.Flags().StringVar(&alg, "alg", string(signature.RSA), "rsa, ed25519 or dilithium3")
	cmd.Flags().StringVarP(&out, "out", "o", "ropseq", "output path prefix")
	return cmd
}

func readObject(cmd *cobra.Command, path string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("input is not a JSON object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("input is not a JSON object")
	}
	return obj, nil
}

func writeObject(cmd *cobra.Command, obj map[string]any) error {
	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
