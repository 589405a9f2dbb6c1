package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/accessnode/accessnode-go/pkg/nvstate"
)

// BlobStore is the key/value store holding the configuration blob.
// *nvstate.Store implements it.
type BlobStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("config: failed to create CBOR encoder mode: %v", err))
	}
}

// Encode serialises the configuration into its persisted blob form.
func Encode(c Config) ([]byte, error) {
	return encMode.Marshal(c)
}

// Decode parses a persisted blob. Fields absent from the blob keep their
// compiled-in defaults.
func Decode(blob []byte) (Config, error) {
	c := Default()
	if err := cbor.Unmarshal(blob, &c); err != nil {
		return Default(), err
	}
	return c, nil
}

// Save persists the configuration under nvstate.KeyConfig.
func Save(store BlobStore, c Config) error {
	blob, err := Encode(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return store.Set(nvstate.KeyConfig, blob)
}

// Load reads the persisted configuration. When no blob is stored the
// defaults are written and read back. On any storage or decode failure
// Load returns the defaults together with the error, so callers can log
// and continue.
func Load(store BlobStore, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	blob, err := store.Get(nvstate.KeyConfig)
	if errors.Is(err, nvstate.ErrNotFound) {
		logger.Info("no stored configuration, writing defaults")
		if err := Save(store, Default()); err != nil {
			return Default(), err
		}
		blob, err = store.Get(nvstate.KeyConfig)
	}
	if err != nil {
		return Default(), err
	}

	c, err := Decode(blob)
	if err != nil {
		return Default(), &nvstate.StorageError{Op: "decode", Key: nvstate.KeyConfig, Err: err}
	}
	return c, nil
}

// LoadFile overlays the YAML file at path onto base. Keys absent from the
// file keep the value from base; unknown keys are rejected.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: read %s: %w", path, err)
	}
	return overlay(data, base)
}

func overlay(data []byte, base Config) (Config, error) {
	c := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Validate(); err != nil {
		return base, err
	}
	return c, nil
}
