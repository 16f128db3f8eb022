package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ib-77/ropseq/pkg/seq/source"
)

// RunConfig is a sequence as written in a config file.
type RunConfig struct {
	Address    string            `yaml:"address"`
	Params     map[string]string `yaml:"params,omitempty"`
	Method     string            `yaml:"method,omitempty"`
	DataFormat string            `yaml:"data_format,omitempty"`
	Encryption *EncryptionConfig `yaml:"encryption,omitempty"`
	Second     *StageConfig      `yaml:"second,omitempty"`
}

type EncryptionConfig struct {
	Method        string `yaml:"method,omitempty"`
	PublicKey     string `yaml:"public_key,omitempty"`
	PublicKeyFile string `yaml:"public_key_file,omitempty"`
	SignatureKey  string `yaml:"signature_key,omitempty"`
	PayloadKey    string `yaml:"payload_key,omitempty"`
}

// StageConfig is the second stage: a remote address or a local store.
type StageConfig struct {
	Kind    string            `yaml:"kind"`
	Address string            `yaml:"address,omitempty"`
	Params  map[string]string `yaml:"params,omitempty"`
	Name    string            `yaml:"name,omitempty"`
	Key     string            `yaml:"key,omitempty"`
}

// RunConfig converts r into a validated source.RunConfig.
func (r RunConfig) RunConfig() (source.RunConfig, error) {
	if r.Address == "" {
		return source.RunConfig{}, errors.New("address is required")
	}
	method, err := source.ParseMethod(r.Method)
	if err != nil {
		return source.RunConfig{}, err
	}
	format, err := source.ParseDataFormat(r.DataFormat)
	if err != nil {
		return source.RunConfig{}, err
	}
	opts := []source.RunOption{source.WithMethod(method), source.WithDataFormat(format)}

	if r.Encryption != nil {
		enc, err := r.Encryption.encryption()
		if err != nil {
			return source.RunConfig{}, fmt.Errorf("encryption: %w", err)
		}
		opts = append(opts, source.WithEncryption(enc))
	}

	first := source.NewRemote(r.Address, r.Params)
	var cfg source.RunConfig
	if r.Second == nil {
		cfg = source.NewSingle(first, opts...)
	} else {
		second, err := r.Second.descriptor()
		if err != nil {
			return source.RunConfig{}, fmt.Errorf("second: %w", err)
		}
		cfg = source.NewSequence(first, second, opts...)
	}
	if err := cfg.Validate(); err != nil {
		return source.RunConfig{}, err
	}
	return cfg, nil
}

func (e EncryptionConfig) encryption() (*source.Encryption, error) {
	method, err := source.ParseEncodingMethod(e.Method)
	if err != nil {
		return nil, err
	}
	enc := &source.Encryption{Method: method}
	if e.PublicKey == "" && e.PublicKeyFile == "" {
		return enc, nil
	}

	pem := e.PublicKey
	if pem == "" {
		b, err := os.ReadFile(e.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("public key: %w", err)
		}
		pem = string(b)
	}
	v := &source.Verification{
		PublicKeyPEM: pem,
		SignatureKey: e.SignatureKey,
		PayloadKey:   e.PayloadKey,
	}
	if v.SignatureKey == "" {
		v.SignatureKey = "signature"
	}
	if v.PayloadKey == "" {
		v.PayloadKey = "payload"
	}
	enc.Verification = v
	return enc, nil
}

func (s StageConfig) descriptor() (source.Descriptor, error) {
	kind, err := source.ParseKind(normalize(s.Kind))
	if err != nil {
		return source.Descriptor{}, err
	}
	if kind == source.Remote {
		return source.NewRemote(s.Address, s.Params), nil
	}
	return source.NewStore(kind, s.Name, s.Key), nil
}
